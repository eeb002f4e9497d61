package metrics

import (
	"math"
	"testing"

	"recallbench/evals"
)

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %s %.4f, got %.4f", name, want, got)
	}
}

func TestScorePrecisionAtCutoffs(t *testing.T) {
	q := evals.Query{ID: "q1", Type: evals.Direct, Text: "reef query", Clusters: []int{1}}
	clusters := map[int64]int{
		1: 1, 2: 2, 3: 1, 4: 3, 5: 1,
		6: 2, 7: 1, 8: -1, 9: 2, 10: 1,
	}
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	s := Score(q, "keyword", ids, clusters, nil)
	if s.Returned != 10 {
		t.Errorf("expected returned 10, got %d", s.Returned)
	}
	if s.FalsePositives != 0 {
		t.Errorf("expected no false positives for a scored query, got %d", s.FalsePositives)
	}
	if len(s.Points) != 2 {
		t.Fatalf("expected 2 cutoffs, got %d", len(s.Points))
	}

	at5 := s.Points[0]
	if at5.K != 5 || at5.Returned != 5 || at5.Relevant != 3 {
		t.Errorf("expected k=5 returned=5 relevant=3, got k=%d returned=%d relevant=%d", at5.K, at5.Returned, at5.Relevant)
	}
	approx(t, "precision@5", at5.Precision, 0.6)
	if !at5.Hit {
		t.Error("expected hit at k=5")
	}

	at10 := s.Points[1]
	if at10.K != 10 || at10.Relevant != 5 {
		t.Errorf("expected k=10 relevant=5, got k=%d relevant=%d", at10.K, at10.Relevant)
	}
	approx(t, "precision@10", at10.Precision, 0.5)
}

func TestScoreShortList(t *testing.T) {
	q := evals.Query{ID: "q1", Type: evals.Direct, Text: "x", Clusters: []int{1}}
	clusters := map[int64]int{1: 1, 2: 2, 3: 1}

	s := Score(q, "vector", []int64{1, 2, 3}, clusters, []int{5})
	p := s.Points[0]
	if p.Returned != 3 {
		t.Errorf("expected returned capped at list length 3, got %d", p.Returned)
	}
	approx(t, "precision over returned", p.Precision, 2.0/3.0)
}

func TestScoreEmptyListEarnsNothing(t *testing.T) {
	q := evals.Query{ID: "q1", Type: evals.Paraphrase, Text: "x", Clusters: []int{2}}

	s := Score(q, "keyword", nil, map[int64]int{}, nil)
	for _, p := range s.Points {
		if p.Precision != 0 {
			t.Errorf("expected precision 0 on empty list at k=%d, got %f", p.K, p.Precision)
		}
		if p.Hit {
			t.Errorf("expected no hit on empty list at k=%d", p.K)
		}
	}
	if s.FalsePositives != 0 {
		t.Errorf("expected no false positives, got %d", s.FalsePositives)
	}
}

func TestScoreNegativeQuery(t *testing.T) {
	q := evals.Query{ID: "neg1", Type: evals.Negative, Text: "x"}
	clusters := map[int64]int{4: 3, 8: -1}

	t.Run("stray results count as false positives", func(t *testing.T) {
		s := Score(q, "fused", []int64{4, 8}, clusters, nil)
		if s.FalsePositives != 2 {
			t.Errorf("expected 2 false positives, got %d", s.FalsePositives)
		}
		for _, p := range s.Points {
			if p.Relevant != 0 {
				t.Errorf("expected 0 relevant at k=%d, got %d", p.K, p.Relevant)
			}
		}
	})

	t.Run("returning nothing is clean", func(t *testing.T) {
		s := Score(q, "fused", nil, clusters, nil)
		if s.FalsePositives != 0 {
			t.Errorf("expected 0 false positives, got %d", s.FalsePositives)
		}
		if s.Returned != 0 {
			t.Errorf("expected returned 0, got %d", s.Returned)
		}
	})
}

func TestScoreUnknownEntryIsIrrelevant(t *testing.T) {
	q := evals.Query{ID: "q1", Type: evals.Direct, Text: "x", Clusters: []int{1}}

	s := Score(q, "keyword", []int64{99}, map[int64]int{1: 1}, []int{5})
	if s.Points[0].Relevant != 0 {
		t.Errorf("expected entry missing from cluster map to score irrelevant, got %d", s.Points[0].Relevant)
	}
}

func TestSummarizeGroupsAndOrders(t *testing.T) {
	scores := []QueryScore{
		{
			QueryID: "d1", QueryType: "direct", Stage: "fused", Returned: 5,
			Points: []Point{{K: 5, Returned: 5, Relevant: 5, Precision: 1.0, Hit: true}},
		},
		{
			QueryID: "d1", QueryType: "direct", Stage: "keyword", Returned: 5,
			Points: []Point{{K: 5, Returned: 5, Relevant: 5, Precision: 1.0, Hit: true}},
		},
		{
			QueryID: "d2", QueryType: "direct", Stage: "keyword", Returned: 4,
			Points: []Point{{K: 5, Returned: 4, Relevant: 2, Precision: 0.5, Hit: true}},
		},
		{
			QueryID: "n1", QueryType: "negative", Stage: "keyword", Returned: 3,
			Points:         []Point{{K: 5, Returned: 3}},
			FalsePositives: 3,
		},
		{
			QueryID: "n2", QueryType: "negative", Stage: "keyword",
			Points: []Point{{K: 5}},
		},
	}

	summaries := Summarize(scores)
	if len(summaries) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(summaries))
	}

	// Pipeline order first, then query type order within a stage.
	if summaries[0].Stage != "keyword" || summaries[0].QueryType != "direct" {
		t.Errorf("expected keyword/direct first, got %s/%s", summaries[0].Stage, summaries[0].QueryType)
	}
	if summaries[1].Stage != "keyword" || summaries[1].QueryType != "negative" {
		t.Errorf("expected keyword/negative second, got %s/%s", summaries[1].Stage, summaries[1].QueryType)
	}
	if summaries[2].Stage != "fused" {
		t.Errorf("expected fused last, got %s", summaries[2].Stage)
	}

	direct := summaries[0]
	if direct.Queries != 2 {
		t.Errorf("expected 2 direct keyword queries, got %d", direct.Queries)
	}
	approx(t, "mean precision@5", direct.MeanPrecision[5], 0.75)
	approx(t, "hit rate@5", direct.HitRate[5], 1.0)

	negative := summaries[1]
	if negative.FalsePositives != 3 {
		t.Errorf("expected 3 false positives, got %d", negative.FalsePositives)
	}
	approx(t, "clean rate", negative.CleanRate, 0.5)
}

func TestCompareComputesGains(t *testing.T) {
	summaries := []Summary{
		{Stage: "keyword", QueryType: "direct", MeanPrecision: map[int]float64{5: 0.5, 10: 0.4}},
		{Stage: "fused", QueryType: "direct", MeanPrecision: map[int]float64{5: 0.8, 10: 0.7}},
		{Stage: "keyword", QueryType: "paraphrase", MeanPrecision: map[int]float64{5: 0.2, 10: 0.2}},
		{Stage: "fused", QueryType: "paraphrase", MeanPrecision: map[int]float64{5: 0.6, 10: 0.5}},
		{Stage: "keyword", QueryType: "negative", MeanPrecision: map[int]float64{5: 0, 10: 0}},
		{Stage: "fused", QueryType: "negative", MeanPrecision: map[int]float64{5: 0, 10: 0}},
	}

	deltas := Compare(summaries, "keyword", "fused")
	if len(deltas) != 4 {
		t.Fatalf("expected 4 deltas (2 types x 2 cutoffs, negatives skipped), got %d", len(deltas))
	}
	first := deltas[0]
	if first.QueryType != "direct" || first.K != 5 {
		t.Errorf("expected direct k=5 first, got %s k=%d", first.QueryType, first.K)
	}
	approx(t, "gain", first.Gain, 0.3)
	approx(t, "base precision", first.BasePrecision, 0.5)
	approx(t, "other precision", first.OtherPrecision, 0.8)

	para := deltas[2]
	if para.QueryType != "paraphrase" || para.K != 5 {
		t.Errorf("expected paraphrase k=5 third, got %s k=%d", para.QueryType, para.K)
	}
	approx(t, "paraphrase gain", para.Gain, 0.4)
}

func TestCompareSkipsMissingStage(t *testing.T) {
	summaries := []Summary{
		{Stage: "keyword", QueryType: "direct", MeanPrecision: map[int]float64{5: 0.5}},
	}
	if deltas := Compare(summaries, "keyword", "fused"); len(deltas) != 0 {
		t.Errorf("expected no deltas when a stage is missing, got %d", len(deltas))
	}
}
