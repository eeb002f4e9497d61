// Package rerank re-scores retrieval candidates with a cross-encoder
// style judgment: one constrained generation call per (query, candidate)
// pair, with the relevance probability read off the first token's
// log-probabilities. A two-way softmax over "yes" and "no" gives a
// calibrated score even though the model was never trained as a
// classifier, and separates true negatives far better than raw
// retrieval distance.
package rerank

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"recallbench/internal/inference"
)

// Config bounds one reranking pass.
type Config struct {
	// TopLogprobs is the K alternatives requested at the judged position.
	TopLogprobs int
	// MaxCandidates is the M candidates scored per query.
	MaxCandidates int
	// Keep is the N candidates returned after re-sorting.
	Keep int
}

// DefaultConfig returns the standard bounds: judge 20 candidates with 20
// logprobs each, keep the top 10.
func DefaultConfig() Config {
	return Config{TopLogprobs: 20, MaxCandidates: 20, Keep: 10}
}

// Candidate is one (entry, text) pair to judge.
type Candidate struct {
	EntryID int64
	Text    string
}

// Scored is a judged candidate. Err records a failed judgment; the
// candidate then carries the conservative score 0.
type Scored struct {
	EntryID int64   `json:"entry_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
	Err     string  `json:"error,omitempty"`
}

// Reranker scores candidates through a Generator.
type Reranker struct {
	gen inference.Generator
	cfg Config
}

// NewReranker creates a reranker. Zero config fields fall back to the
// DefaultConfig values.
func NewReranker(gen inference.Generator, cfg Config) *Reranker {
	def := DefaultConfig()
	if cfg.TopLogprobs <= 0 {
		cfg.TopLogprobs = def.TopLogprobs
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.Keep <= 0 {
		cfg.Keep = def.Keep
	}
	return &Reranker{gen: gen, cfg: cfg}
}

const judgeTemplate = `You are judging search relevance.

Query: %s

Document: %s

Is the Document relevant to the Query? Answer exactly "yes" or "no".`

// JudgePrompt renders the fixed binary-judgment prompt for one pair.
func JudgePrompt(query, document string) string {
	return fmt.Sprintf(judgeTemplate, query, document)
}

// Rerank judges up to MaxCandidates candidates against the query and
// returns the top Keep by descending score. A failed judgment scores
// that candidate 0 and never aborts the batch. Equal scores keep the
// incoming order, so reranking a fused list stays deterministic.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate) []Scored {
	if len(candidates) > r.cfg.MaxCandidates {
		candidates = candidates[:r.cfg.MaxCandidates]
	}

	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		s := Scored{EntryID: c.EntryID, Text: c.Text}
		logprobs, err := r.gen.CompleteLogprobs(ctx, JudgePrompt(query, c.Text), r.cfg.TopLogprobs)
		if err != nil {
			log.Printf("[rerank] judgment failed for entry %d, scoring 0: %v", c.EntryID, err)
			s.Err = err.Error()
		} else {
			s.Score = ScoreFromLogprobs(logprobs)
		}
		scored = append(scored, s)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > r.cfg.Keep {
		scored = scored[:r.cfg.Keep]
	}
	return scored
}

// ScoreFromLogprobs turns the top-K token distribution at the judged
// position into a relevance probability. The list arrives probability-
// descending and only the first occurrence of each verdict token counts;
// a later, lower-probability duplicate must not overwrite it. With both
// verdicts present the score is exp(yes)/(exp(yes)+exp(no)); with only
// "yes" it is 1, and with only "no" or neither it is 0.
func ScoreFromLogprobs(logprobs []inference.TokenLogprob) float64 {
	var yes, no float64
	var haveYes, haveNo bool
	for _, lp := range logprobs {
		switch normalizeToken(lp.Token) {
		case "yes":
			if !haveYes {
				yes = lp.Logprob
				haveYes = true
			}
		case "no":
			if !haveNo {
				no = lp.Logprob
				haveNo = true
			}
		}
	}

	switch {
	case haveYes && haveNo:
		py := math.Exp(yes)
		pn := math.Exp(no)
		return py / (py + pn)
	case haveYes:
		return 1.0
	default:
		return 0.0
	}
}

// normalizeToken maps tokenizer variants (" Yes", "YES", sentencepiece
// word markers) onto the bare verdict word.
func normalizeToken(tok string) string {
	tok = strings.TrimSpace(tok)
	tok = strings.TrimPrefix(tok, "▁")
	return strings.ToLower(tok)
}
