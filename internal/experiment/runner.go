// Package experiment orchestrates evaluation runs end to end: ephemeral
// corpus construction, per-query retrieval through every channel,
// fusion, reranking, scoring, and result persistence. Runs are
// sequential throughout; one query is fully evaluated before the next
// starts.
package experiment

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"recallbench/evals"
	"recallbench/internal/analysis"
	"recallbench/internal/channels"
	"recallbench/internal/config"
	"recallbench/internal/corpus"
	"recallbench/internal/fusion"
	"recallbench/internal/inference"
	"recallbench/internal/metrics"
	"recallbench/internal/rerank"
	"recallbench/internal/report"
	"recallbench/internal/store"
)

// Runner drives evaluation runs from one loaded configuration and a
// shared inference stack.
type Runner struct {
	cfg   *config.Config
	svc   inference.Service
	cache *corpus.Cache
}

// NewRunner creates a runner. cache may be nil; corpus builds then log
// a background shortfall instead of generating notes.
func NewRunner(cfg *config.Config, svc inference.Service, cache *corpus.Cache) *Runner {
	return &Runner{cfg: cfg, svc: svc, cache: cache}
}

// session is one run's accumulated state.
type session struct {
	dir     string
	started time.Time
	queries []evals.Query
	summary *report.RunSummary
}

// start validates preconditions and creates the run directory. Errors
// here are setup errors: nothing has been built yet.
func (r *Runner) start(ctx context.Context, command string) (*session, error) {
	queries := evals.DefaultQuerySet()
	if err := r.preflight(ctx, queries); err != nil {
		return nil, err
	}

	started := time.Now()
	runID := uuid.New().String()
	dir, err := report.NewRunDir(r.cfg.Output.ResultsDir, started, runID)
	if err != nil {
		return nil, err
	}
	log.Printf("[experiment] %s run %s writing to %s", command, runID[:8], dir)
	return &session{
		dir:     dir,
		started: started,
		queries: queries,
		summary: &report.RunSummary{
			RunID:      runID,
			Command:    command,
			StartedAt:  started,
			Store:      r.cfg.Store.Backend,
			EmbedModel: r.cfg.Inference.EmbedModel,
			GenModel:   r.cfg.Inference.GenModel,
			QuerySet:   evals.QuerySetVersion,
			Queries:    len(queries),
		},
	}, nil
}

func (r *Runner) preflight(ctx context.Context, queries []evals.Query) error {
	if err := r.cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := evals.NewValidator().ValidateSet(queries); err != nil {
		return fmt.Errorf("query set: %w", err)
	}
	if err := r.svc.Ping(ctx); err != nil {
		return fmt.Errorf("inference server unreachable: %w", err)
	}
	return nil
}

// runRecord is the run.json payload: enough to reproduce the run.
type runRecord struct {
	RunID     string               `json:"run_id"`
	Command   string               `json:"command"`
	StartedAt time.Time            `json:"started_at"`
	Config    *config.Config       `json:"config"`
	Corpus    *corpus.BuildResult  `json:"corpus,omitempty"`
	Failures  report.FailureCounts `json:"failures"`
}

func (s *session) finish(r *Runner) (*report.RunSummary, error) {
	s.summary.DurationMS = time.Since(s.started).Milliseconds()
	rec := runRecord{
		RunID:     s.summary.RunID,
		Command:   s.summary.Command,
		StartedAt: s.summary.StartedAt,
		Config:    r.cfg,
		Corpus:    s.summary.Corpus,
		Failures:  s.summary.Failures,
	}
	if err := report.WriteJSON(filepath.Join(s.dir, report.RunJSON), rec); err != nil {
		return nil, err
	}
	if err := report.WriteSummary(s.dir, s.summary); err != nil {
		return nil, err
	}
	log.Printf("[experiment] run %s finished in %.1fs (failures: %d)",
		s.summary.RunID[:8], float64(s.summary.DurationMS)/1000, s.summary.Failures.Total())
	return s.summary, nil
}

func (r *Runner) openStore(ctx context.Context, runDir, name string) (store.Store, error) {
	metric, err := store.ParseMetric(r.cfg.Store.Metric)
	if err != nil {
		return nil, err
	}
	if r.cfg.Store.Backend == "postgres" {
		return store.OpenPostgres(ctx, r.cfg.Store.DSN, metric, r.cfg.Inference.EmbedDimension)
	}
	return store.OpenSQLite(filepath.Join(runDir, name), metric, r.cfg.Inference.EmbedDimension)
}

func (r *Runner) buildCorpus(ctx context.Context, st store.Store, size int) (*corpus.BuildResult, error) {
	var extra []corpus.Seed
	if dir := r.cfg.Corpus.SeedDir; dir != "" {
		seeds, err := corpus.LoadSeedDir(dir)
		if err != nil {
			return nil, fmt.Errorf("seed dir: %w", err)
		}
		extra = seeds
	}
	synth := corpus.NewSynthesizer(st, r.svc, r.svc, r.cache)
	return synth.Build(ctx, corpus.BuildSpec{
		Target:     size,
		Multiplier: r.cfg.Corpus.ParaphraseMultiplier,
		ExtraSeeds: extra,
		BatchSize:  r.cfg.Inference.EmbedBatchSize,
		Seed:       r.cfg.Corpus.RandomSeed,
	})
}

// destroyStore tears down an ephemeral store, logging rather than
// failing: by teardown time the results are already on disk.
func destroyStore(st store.Store) {
	if err := st.Destroy(); err != nil {
		log.Printf("[experiment] store teardown: %v", err)
	}
}

// RunSeed builds one corpus, reports the counts, and tears the store
// down. Its lasting side effect is a warmed background-note cache.
func (r *Runner) RunSeed(ctx context.Context, size int) (*report.RunSummary, error) {
	s, err := r.start(ctx, "seed")
	if err != nil {
		return nil, err
	}
	st, err := r.openStore(ctx, s.dir, "corpus.db")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer destroyStore(st)

	res, err := r.buildCorpus(ctx, st, size)
	if err != nil {
		return nil, fmt.Errorf("building corpus: %w", err)
	}
	s.summary.Corpus = res
	return s.finish(r)
}

// RunChannels evaluates each retrieval channel in isolation over the
// query set.
func (r *Runner) RunChannels(ctx context.Context, size int) (*report.RunSummary, error) {
	s, err := r.start(ctx, "channels")
	if err != nil {
		return nil, err
	}
	return r.evaluate(ctx, s, size, evalMode{})
}

// RunFuse adds reciprocal-rank fusion of keyword and vector on top of
// the per-channel evaluation.
func (r *Runner) RunFuse(ctx context.Context, size int) (*report.RunSummary, error) {
	s, err := r.start(ctx, "fuse")
	if err != nil {
		return nil, err
	}
	return r.evaluate(ctx, s, size, evalMode{fuse: true})
}

// RunRerank adds the cross-encoder pass on top of fusion.
func (r *Runner) RunRerank(ctx context.Context, size int) (*report.RunSummary, error) {
	s, err := r.start(ctx, "rerank")
	if err != nil {
		return nil, err
	}
	return r.evaluate(ctx, s, size, evalMode{fuse: true, rerank: true})
}

type evalMode struct {
	fuse   bool
	rerank bool
}

// Per-query result file payloads.
type channelLists struct {
	Query      evals.Query             `json:"query"`
	Keyword    channels.Result         `json:"keyword"`
	Vector     channels.Result         `json:"vector"`
	Structured channels.RelationResult `json:"structured"`
}

type fusedList struct {
	Query evals.Query    `json:"query"`
	Fused []fusion.Fused `json:"fused"`
}

type rerankedList struct {
	Query    evals.Query     `json:"query"`
	Reranked []rerank.Scored `json:"reranked"`
}

func (r *Runner) evaluate(ctx context.Context, s *session, size int, mode evalMode) (*report.RunSummary, error) {
	st, err := r.openStore(ctx, s.dir, "corpus.db")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer destroyStore(st)

	res, err := r.buildCorpus(ctx, st, size)
	if err != nil {
		return nil, fmt.Errorf("building corpus: %w", err)
	}
	s.summary.Corpus = res

	clusters, err := st.ClusterMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading cluster map: %w", err)
	}
	if err := evals.NewValidator().ValidateClusters(s.queries, clusters); err != nil {
		return nil, fmt.Errorf("query set: %w", err)
	}

	keyword := channels.NewKeywordChannel(st, r.cfg.Eval.ChannelLimit)
	vector := channels.NewVectorChannel(st, r.svc, r.cfg.Eval.ChannelLimit, r.cfg.Eval.VectorThreshold)
	structured := channels.NewRelationChannel(st, r.cfg.Eval.ChannelLimit)
	var reranker *rerank.Reranker
	if mode.rerank {
		reranker = rerank.NewReranker(r.svc, rerank.Config{
			TopLogprobs:   r.cfg.Inference.TopLogprobs,
			MaxCandidates: r.cfg.Eval.RerankCandidates,
			Keep:          r.cfg.Eval.RerankTop,
		})
	}

	ks := r.cfg.Eval.PrecisionKs
	var scores []metrics.QueryScore
	var maxNegative float64
	negativeJudged := false

	for _, q := range s.queries {
		kw := keyword.Search(ctx, q.Text)
		vec := vector.Search(ctx, q.Text)
		rel := structured.Search(ctx, q.Text)
		for _, errText := range []string{kw.Err, vec.Err, rel.Err} {
			if errText != "" {
				s.summary.Failures.Channels++
			}
		}
		lists := channelLists{Query: q, Keyword: kw, Vector: vec, Structured: rel}
		if err := report.WriteJSON(filepath.Join(s.dir, report.ChannelsSubdir, q.ID+".json"), lists); err != nil {
			return nil, err
		}
		scores = append(scores,
			metrics.Score(q, channels.ChannelKeyword, kw.EntryIDs(), clusters, ks),
			metrics.Score(q, channels.ChannelVector, vec.EntryIDs(), clusters, ks),
		)
		logLine := fmt.Sprintf("[experiment] %s: keyword=%d vector=%d relations=%d",
			q.ID, len(kw.Candidates), len(vec.Candidates), len(rel.Relations))

		if !mode.fuse {
			log.Print(logLine)
			continue
		}

		fusedAll := fusion.Fuse([]fusion.RankedList{
			{Channel: channels.ChannelKeyword, IDs: kw.EntryIDs()},
			{Channel: channels.ChannelVector, IDs: vec.EntryIDs()},
		}, r.cfg.Eval.RRFK, 0)
		fusedTop := fusedAll
		if top := r.cfg.Eval.FuseTop; top > 0 && len(fusedTop) > top {
			fusedTop = fusedTop[:top]
		}
		if err := report.WriteJSON(filepath.Join(s.dir, report.FusedSubdir, q.ID+".json"), fusedList{Query: q, Fused: fusedTop}); err != nil {
			return nil, err
		}
		scores = append(scores, metrics.Score(q, metrics.StageFused, fusedIDs(fusedTop), clusters, ks))
		logLine += fmt.Sprintf(" fused=%d", len(fusedTop))

		if mode.rerank {
			scored := reranker.Rerank(ctx, q.Text, rerankCandidates(fusedAll, kw, vec))
			for _, sc := range scored {
				if sc.Err != "" {
					s.summary.Failures.Reranks++
				}
				if len(q.Clusters) == 0 {
					negativeJudged = true
					if sc.Score > maxNegative {
						maxNegative = sc.Score
					}
				}
			}
			if err := report.WriteJSON(filepath.Join(s.dir, report.RerankedSubdir, q.ID+".json"), rerankedList{Query: q, Reranked: scored}); err != nil {
				return nil, err
			}
			scores = append(scores, metrics.Score(q, metrics.StageReranked, scoredIDs(scored), clusters, ks))
			logLine += fmt.Sprintf(" reranked=%d", len(scored))
		}
		log.Print(logLine)
	}

	sums := metrics.Summarize(scores)
	s.summary.Summaries = sums
	if mode.fuse {
		comps := metrics.Compare(sums, channels.ChannelKeyword, metrics.StageFused)
		comps = append(comps, metrics.Compare(sums, channels.ChannelVector, metrics.StageFused)...)
		if mode.rerank {
			comps = append(comps, metrics.Compare(sums, metrics.StageFused, metrics.StageReranked)...)
		}
		s.summary.Comparisons = comps
	}
	if negativeJudged {
		s.summary.MaxNegativeRerank = &maxNegative
	}
	return s.finish(r)
}

// rerankCandidates maps fused entries back to their text via the
// channel results that produced them.
func rerankCandidates(fused []fusion.Fused, lists ...channels.Result) []rerank.Candidate {
	texts := make(map[int64]string)
	for _, list := range lists {
		for _, c := range list.Candidates {
			texts[c.EntryID] = c.Text
		}
	}
	out := make([]rerank.Candidate, 0, len(fused))
	for _, f := range fused {
		text, ok := texts[f.EntryID]
		if !ok {
			continue
		}
		out = append(out, rerank.Candidate{EntryID: f.EntryID, Text: text})
	}
	return out
}

func fusedIDs(fused []fusion.Fused) []int64 {
	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.EntryID
	}
	return ids
}

func scoredIDs(scored []rerank.Scored) []int64 {
	ids := make([]int64, len(scored))
	for i, sc := range scored {
		ids[i] = sc.EntryID
	}
	return ids
}

// RunSweep measures the raw distance structure across corpus scales:
// per-class stats and distance files per scale, then the cross-scale
// verdict and a threshold sweep at the largest scale.
func (r *Runner) RunSweep(ctx context.Context, scales []int) (*report.RunSummary, error) {
	if len(scales) == 0 {
		scales = r.cfg.Eval.Scales
	}
	ordered := make([]int, len(scales))
	copy(ordered, scales)
	sort.Ints(ordered)

	s, err := r.start(ctx, "sweep")
	if err != nil {
		return nil, err
	}

	var points []analysis.ScalePoint
	var largest []analysis.DistanceRecord
	for _, scale := range ordered {
		records, point, err := r.sweepScale(ctx, s, scale)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
		largest = records
	}

	s.summary.Scales = points
	verdict := analysis.AssessScales(points, 0)
	s.summary.Verdict = &verdict
	if len(largest) > 0 {
		grid := analysis.ThresholdGrid(largest, r.cfg.Eval.SweepSteps)
		s.summary.Sweep = analysis.Sweep(largest, grid)
	}
	return s.finish(r)
}

// sweepScale builds one corpus at the given scale, scans every query
// against it, and writes the scale's distance files. Queries whose
// clusters fall outside a small corpus simply have no relevant rows;
// that is part of what the sweep measures.
func (r *Runner) sweepScale(ctx context.Context, s *session, scale int) ([]analysis.DistanceRecord, analysis.ScalePoint, error) {
	st, err := r.openStore(ctx, s.dir, fmt.Sprintf("corpus_%d.db", scale))
	if err != nil {
		return nil, analysis.ScalePoint{}, fmt.Errorf("opening store: %w", err)
	}
	defer destroyStore(st)

	if _, err := r.buildCorpus(ctx, st, scale); err != nil {
		return nil, analysis.ScalePoint{}, fmt.Errorf("building %d-entry corpus: %w", scale, err)
	}
	count, err := st.Count(ctx)
	if err != nil {
		return nil, analysis.ScalePoint{}, fmt.Errorf("counting entries: %w", err)
	}

	analyzer := analysis.NewAnalyzer(st, r.svc)
	var scans []*analysis.QueryScan
	var records []analysis.DistanceRecord
	for _, q := range s.queries {
		scan, err := analyzer.Scan(ctx, q)
		if err != nil {
			log.Printf("[experiment] scan %s at scale %d failed: %v", q.ID, scale, err)
			s.summary.Failures.Scans++
			continue
		}
		scans = append(scans, scan)
		records = append(records, scan.Records...)
	}

	csvPath := filepath.Join(s.dir, fmt.Sprintf("distances_%d.csv", scale))
	if err := analysis.WriteCSV(csvPath, records); err != nil {
		return nil, analysis.ScalePoint{}, err
	}
	if r.cfg.Output.Parquet {
		pqPath := filepath.Join(s.dir, fmt.Sprintf("distances_%d.parquet", scale))
		if err := analysis.WriteParquet(pqPath, records); err != nil {
			return nil, analysis.ScalePoint{}, err
		}
	}

	point := analysis.BuildScalePoint(scale, count, scans)
	log.Printf("[experiment] scale %d: %d entries, mean relevant %.4f, min irrelevant %.4f",
		scale, count, point.MeanRelevant, point.MinIrrelevant)
	return records, point, nil
}
