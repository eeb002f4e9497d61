package corpus

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"recallbench/internal/inference"
	"recallbench/internal/store"
)

const defaultEmbedBatch = 32

// BuildSpec describes the corpus to synthesize.
type BuildSpec struct {
	// Target is the total entry count to aim for. Zero means "all seeds,
	// no padding". The builder gets as close as the scaling strategy
	// allows: seeds first, then paraphrases, then background entries.
	Target int
	// Multiplier M inserts M-1 generated paraphrases per seed. 0 and 1
	// both mean base mode.
	Multiplier int
	// ExtraSeeds are appended to the built-in seed list (cluster 0
	// entries from a seed directory).
	ExtraSeeds []Seed
	// BatchSize bounds one embedding request.
	BatchSize int
	// Seed drives the shuffle applied before a Target cap selects which
	// entries survive at small scales. Zero keeps the written order.
	Seed int64
}

// BuildResult reports what was actually inserted. Skipped counts entries
// lost to failed generation or embedding batches, so a partial corpus is
// visible rather than silently skewing downstream numbers.
type BuildResult struct {
	Seeded      int `json:"seeded"`
	Paraphrased int `json:"paraphrased"`
	Background  int `json:"background"`
	Skipped     int `json:"skipped"`
	Total       int `json:"total"`
}

// Synthesizer populates a store with a labeled corpus.
type Synthesizer struct {
	store    store.Store
	embedder inference.Embedder
	gen      inference.Generator
	cache    *Cache
}

// NewSynthesizer creates a synthesizer. The cache may be nil when no
// background scaling will be requested.
func NewSynthesizer(st store.Store, embedder inference.Embedder, gen inference.Generator, cache *Cache) *Synthesizer {
	return &Synthesizer{store: st, embedder: embedder, gen: gen, cache: cache}
}

// Build synthesizes the corpus described by spec into the store and
// inserts the built-in relation table. Embedding failures skip the
// affected batch and generation failures skip the affected entry; both
// are reported in the result, never fatal.
func (s *Synthesizer) Build(ctx context.Context, spec BuildSpec) (*BuildResult, error) {
	batchSize := spec.BatchSize
	if batchSize <= 0 {
		batchSize = defaultEmbedBatch
	}

	seeds := append(SeedEntries(), spec.ExtraSeeds...)
	if spec.Seed != 0 {
		rng := rand.New(rand.NewSource(spec.Seed))
		rng.Shuffle(len(seeds), func(i, j int) { seeds[i], seeds[j] = seeds[j], seeds[i] })
	}
	if spec.Target > 0 && spec.Target < len(seeds) {
		seeds = seeds[:spec.Target]
	}

	result := &BuildResult{}

	inserted, skipped, err := s.insertBatched(ctx, seeds, batchSize)
	if err != nil {
		return nil, err
	}
	result.Seeded = inserted
	result.Skipped += skipped

	if spec.Multiplier > 1 {
		paraphrases, skippedGen := s.generateParaphrases(ctx, seeds, spec)
		inserted, skipped, err := s.insertBatched(ctx, paraphrases, batchSize)
		if err != nil {
			return nil, err
		}
		result.Paraphrased = inserted
		result.Skipped += skipped + skippedGen
	}

	planned := result.Seeded + result.Paraphrased + result.Skipped
	if spec.Target > planned {
		background, shortfall := s.backgroundSeeds(ctx, spec.Target-planned)
		inserted, skipped, err := s.insertBatched(ctx, background, batchSize)
		if err != nil {
			return nil, err
		}
		result.Background = inserted
		result.Skipped += skipped + shortfall
	}

	if err := s.store.InsertRelations(ctx, Relations); err != nil {
		return nil, fmt.Errorf("inserting relations: %w", err)
	}

	result.Total = result.Seeded + result.Paraphrased + result.Background
	log.Printf("[corpus] built %d entries (%d seeded, %d paraphrased, %d background, %d skipped)",
		result.Total, result.Seeded, result.Paraphrased, result.Background, result.Skipped)
	return result, nil
}

// insertBatched embeds and inserts seeds in batches. A failed embedding
// call drops that batch and moves on.
func (s *Synthesizer) insertBatched(ctx context.Context, seeds []Seed, batchSize int) (inserted, skipped int, err error) {
	for start := 0; start < len(seeds); start += batchSize {
		end := start + batchSize
		if end > len(seeds) {
			end = len(seeds)
		}
		batch := seeds[start:end]

		texts := make([]string, len(batch))
		for i, seed := range batch {
			texts[i] = seed.Text
		}

		vectors, embedErr := s.embedder.EmbedBatch(ctx, texts)
		if embedErr != nil {
			log.Printf("[corpus] embedding batch of %d failed, skipping: %v", len(batch), embedErr)
			skipped += len(batch)
			continue
		}

		entries := make([]store.EntryInput, len(batch))
		for i, seed := range batch {
			entries[i] = store.EntryInput{Text: seed.Text, Cluster: seed.Cluster, Embedding: vectors[i]}
		}
		if _, err := s.store.InsertEntries(ctx, entries); err != nil {
			return inserted, skipped, fmt.Errorf("inserting entries: %w", err)
		}
		inserted += len(batch)
	}
	return inserted, skipped, nil
}

// generateParaphrases produces M-1 reworded variants per seed, keeping
// each variant in its source's cluster. Capped so the corpus does not
// overshoot the target.
func (s *Synthesizer) generateParaphrases(ctx context.Context, seeds []Seed, spec BuildSpec) (out []Seed, skipped int) {
	variants := spec.Multiplier - 1
	budget := -1
	if spec.Target > 0 {
		budget = spec.Target - len(seeds)
		if budget <= 0 {
			return nil, 0
		}
	}

	for _, seed := range seeds {
		for v := 1; v <= variants; v++ {
			if budget == 0 {
				return out, skipped
			}
			text, err := s.gen.Complete(ctx, paraphrasePrompt(seed.Text, v, variants), 200)
			if err != nil {
				log.Printf("[corpus] paraphrase generation failed, skipping: %v", err)
				skipped++
				continue
			}
			text = cleanGenerated(text)
			if text == "" {
				log.Printf("[corpus] paraphrase came back empty, skipping")
				skipped++
				continue
			}
			out = append(out, Seed{Text: text, Cluster: seed.Cluster})
			if budget > 0 {
				budget--
			}
		}
	}
	return out, skipped
}

// backgroundSeeds pulls n background notes from the cache, growing it if
// needed. A cache that cannot grow yields a short corpus plus a skip
// count rather than a failed run.
func (s *Synthesizer) backgroundSeeds(ctx context.Context, n int) (out []Seed, shortfall int) {
	if s.cache == nil {
		log.Printf("[corpus] no background cache configured, skipping %d background entries", n)
		return nil, n
	}

	if err := s.cache.Ensure(ctx, n); err != nil {
		log.Printf("[corpus] background cache growth failed: %v", err)
	}
	have, err := s.cache.Count()
	if err != nil {
		log.Printf("[corpus] background cache unreadable, skipping %d entries: %v", n, err)
		return nil, n
	}
	if have < n {
		shortfall = n - have
		n = have
	}
	if n == 0 {
		return nil, shortfall
	}

	notes, err := s.cache.Read(n)
	if err != nil {
		log.Printf("[corpus] background cache read failed, skipping %d entries: %v", n, err)
		return nil, shortfall + n
	}
	for _, note := range notes {
		out = append(out, Seed{Text: note, Cluster: -1})
	}
	return out, shortfall
}

func paraphrasePrompt(text string, variant, total int) string {
	return fmt.Sprintf("Rewrite the note below so it keeps exactly the same meaning but uses "+
		"different words and sentence structure. This is variant %d of %d, so pick wording "+
		"distinct from the other variants. Reply with only the rewritten note.\n\nNote: %s",
		variant, total, text)
}

// cleanGenerated strips whitespace and any quote pair a chatty model
// wrapped the answer in.
func cleanGenerated(text string) string {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	return text
}
