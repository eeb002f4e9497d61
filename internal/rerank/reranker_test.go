package rerank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"recallbench/internal/inference"
)

func yesNo(yes, no float64) []inference.TokenLogprob {
	return []inference.TokenLogprob{
		{Token: "yes", Logprob: yes},
		{Token: "no", Logprob: no},
	}
}

func TestScoreFromLogprobs(t *testing.T) {
	softmax := func(yes, no float64) float64 {
		return math.Exp(yes) / (math.Exp(yes) + math.Exp(no))
	}

	tests := []struct {
		name     string
		logprobs []inference.TokenLogprob
		want     float64
	}{
		{
			name:     "both present",
			logprobs: yesNo(-0.1, -2.3),
			want:     softmax(-0.1, -2.3),
		},
		{
			name: "only yes",
			logprobs: []inference.TokenLogprob{
				{Token: "yes", Logprob: -0.2},
				{Token: "maybe", Logprob: -3.0},
			},
			want: 1.0,
		},
		{
			name: "only no",
			logprobs: []inference.TokenLogprob{
				{Token: "no", Logprob: -0.1},
				{Token: "never", Logprob: -4.0},
			},
			want: 0.0,
		},
		{
			name: "neither verdict token",
			logprobs: []inference.TokenLogprob{
				{Token: "perhaps", Logprob: -0.5},
				{Token: "unsure", Logprob: -1.5},
			},
			want: 0.0,
		},
		{
			name:     "empty distribution",
			logprobs: nil,
			want:     0.0,
		},
		{
			name: "case and whitespace variants count",
			logprobs: []inference.TokenLogprob{
				{Token: " Yes", Logprob: -0.3},
				{Token: "NO", Logprob: -2.0},
			},
			want: softmax(-0.3, -2.0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreFromLogprobs(tt.logprobs)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

// The returned list is probability-descending; a lower-probability
// duplicate of "yes" later in the list must not overwrite the first.
func TestScoreFromLogprobsFirstOccurrenceWins(t *testing.T) {
	logprobs := []inference.TokenLogprob{
		{Token: "yes", Logprob: -1.0},
		{Token: "no", Logprob: -2.0},
		{Token: "Yes", Logprob: -5.0},
		{Token: " no", Logprob: -6.0},
	}

	got := ScoreFromLogprobs(logprobs)
	want := math.Exp(-1.0) / (math.Exp(-1.0) + math.Exp(-2.0))
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected first occurrences used (score %f), got %f", want, got)
	}
}

// scriptByDocument returns a generator whose verdict depends on which
// candidate text appears in the judgment prompt.
func scriptByDocument(scores map[string][]inference.TokenLogprob) *inference.ScriptedGenerator {
	return &inference.ScriptedGenerator{
		LogprobsFunc: func(prompt string, topK int) ([]inference.TokenLogprob, error) {
			for doc, lps := range scores {
				if strings.Contains(prompt, doc) {
					return lps, nil
				}
			}
			return nil, nil
		},
	}
}

func TestRerankOrdersByScore(t *testing.T) {
	gen := scriptByDocument(map[string][]inference.TokenLogprob{
		"doc about espresso":  yesNo(-0.05, -4.0),
		"doc about weather":   yesNo(-4.0, -0.05),
		"doc about both bits": yesNo(-1.0, -1.0),
	})
	r := NewReranker(gen, DefaultConfig())

	scored := r.Rerank(context.Background(), "espresso extraction", []Candidate{
		{EntryID: 1, Text: "doc about weather"},
		{EntryID: 2, Text: "doc about both bits"},
		{EntryID: 3, Text: "doc about espresso"},
	})

	if len(scored) != 3 {
		t.Fatalf("expected 3 scored candidates, got %d", len(scored))
	}
	wantOrder := []int64{3, 2, 1}
	for i, want := range wantOrder {
		if scored[i].EntryID != want {
			t.Errorf("position %d: expected entry %d, got %d", i, want, scored[i].EntryID)
		}
	}
	if scored[0].Score < 0.9 {
		t.Errorf("expected a strong yes near 1.0, got %f", scored[0].Score)
	}
	if scored[2].Score > 0.1 {
		t.Errorf("expected a strong no near 0.0, got %f", scored[2].Score)
	}
}

func TestRerankTruncatesToKeep(t *testing.T) {
	gen := &inference.ScriptedGenerator{
		LogprobsFunc: func(prompt string, topK int) ([]inference.TokenLogprob, error) {
			return yesNo(-1.0, -1.0), nil
		},
	}
	r := NewReranker(gen, Config{Keep: 2})

	var candidates []Candidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, Candidate{EntryID: int64(i), Text: fmt.Sprintf("doc %d", i)})
	}

	scored := r.Rerank(context.Background(), "q", candidates)
	if len(scored) != 2 {
		t.Fatalf("expected 2 kept candidates, got %d", len(scored))
	}
	// All scores tie, so the incoming order must survive.
	if scored[0].EntryID != 0 || scored[1].EntryID != 1 {
		t.Errorf("expected stable order on ties, got %d then %d", scored[0].EntryID, scored[1].EntryID)
	}
}

func TestRerankCapsCandidates(t *testing.T) {
	gen := &inference.ScriptedGenerator{
		LogprobsFunc: func(prompt string, topK int) ([]inference.TokenLogprob, error) {
			return yesNo(-1.0, -1.0), nil
		},
	}
	r := NewReranker(gen, Config{MaxCandidates: 4, Keep: 10})

	var candidates []Candidate
	for i := 0; i < 9; i++ {
		candidates = append(candidates, Candidate{EntryID: int64(i), Text: fmt.Sprintf("doc %d", i)})
	}

	scored := r.Rerank(context.Background(), "q", candidates)
	if len(scored) != 4 {
		t.Fatalf("expected 4 judged candidates, got %d", len(scored))
	}
	if gen.Calls != 4 {
		t.Errorf("expected 4 judgment calls, got %d", gen.Calls)
	}
}

func TestRerankFailureScoresZeroWithoutAborting(t *testing.T) {
	gen := &inference.ScriptedGenerator{
		LogprobsFunc: func(prompt string, topK int) ([]inference.TokenLogprob, error) {
			if strings.Contains(prompt, "poison") {
				return nil, errors.New("read timeout")
			}
			return yesNo(-0.1, -3.0), nil
		},
	}
	r := NewReranker(gen, DefaultConfig())

	scored := r.Rerank(context.Background(), "q", []Candidate{
		{EntryID: 1, Text: "healthy doc"},
		{EntryID: 2, Text: "poison doc"},
		{EntryID: 3, Text: "another healthy doc"},
	})

	if len(scored) != 3 {
		t.Fatalf("expected the whole batch scored, got %d", len(scored))
	}
	var failed *Scored
	for i := range scored {
		if scored[i].EntryID == 2 {
			failed = &scored[i]
		}
	}
	if failed == nil {
		t.Fatal("failed candidate missing from output")
	}
	if failed.Score != 0 {
		t.Errorf("expected score 0 for failed judgment, got %f", failed.Score)
	}
	if failed.Err == "" {
		t.Error("expected the failure recorded on the candidate")
	}
	if scored[len(scored)-1].EntryID != 2 {
		t.Errorf("expected the failed candidate last, got %d", scored[len(scored)-1].EntryID)
	}
}

// Scoring the same pair twice with the same model state must not
// qualitatively diverge.
func TestRerankIdempotent(t *testing.T) {
	gen := scriptByDocument(map[string][]inference.TokenLogprob{
		"stable doc": yesNo(-0.4, -1.6),
	})
	r := NewReranker(gen, DefaultConfig())

	first := r.Rerank(context.Background(), "q", []Candidate{{EntryID: 1, Text: "stable doc"}})
	second := r.Rerank(context.Background(), "q", []Candidate{{EntryID: 1, Text: "stable doc"}})

	if math.Abs(first[0].Score-second[0].Score) > 1e-9 {
		t.Errorf("expected identical scores across runs, got %f and %f", first[0].Score, second[0].Score)
	}
}

// Candidates judged against a query with no relevant entries must all
// score near zero; this is the harness's central claim about the
// cross-encoder.
func TestRerankNegativeQueryScoresStayLow(t *testing.T) {
	gen := &inference.ScriptedGenerator{
		LogprobsFunc: func(prompt string, topK int) ([]inference.TokenLogprob, error) {
			return yesNo(-4.5, -0.02), nil
		},
	}
	r := NewReranker(gen, DefaultConfig())

	var candidates []Candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, Candidate{EntryID: int64(i), Text: fmt.Sprintf("off-topic doc %d", i)})
	}

	scored := r.Rerank(context.Background(), "how do I keep a sourdough starter alive", candidates)
	maxScore := 0.0
	for _, s := range scored {
		if s.Score > maxScore {
			maxScore = s.Score
		}
	}
	if maxScore >= 0.1 {
		t.Errorf("expected max negative-query score below 0.1, got %f", maxScore)
	}
}
