package analysis

import (
	"context"
	"fmt"

	"recallbench/evals"
	"recallbench/internal/inference"
	"recallbench/internal/store"
)

// ClassStats aggregates one side of the relevant/irrelevant split.
type ClassStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
}

// QueryScan holds the full brute-force scan for one query: the distance
// to every entry in the corpus, split by whether the entry's cluster is
// relevant to the query.
type QueryScan struct {
	QueryID    string     `json:"query_id"`
	QueryType  string     `json:"query_type"`
	Relevant   ClassStats `json:"relevant"`
	Irrelevant ClassStats `json:"irrelevant"`

	// NearestIrrelevant is the closest off-topic entry. For negative
	// queries it is the headline number: how close the corpus gets to a
	// query that has no right answer. -1 when the corpus held no
	// irrelevant entries at all.
	NearestIrrelevant float64 `json:"nearest_irrelevant"`

	Records []DistanceRecord `json:"-"`
}

// Analyzer runs brute-force distance scans against a store. Unlike the
// search channels it never truncates to a top-k: every entry is scored
// so the resulting distributions are exact.
type Analyzer struct {
	store    store.Store
	embedder inference.Embedder
}

func NewAnalyzer(st store.Store, emb inference.Embedder) *Analyzer {
	return &Analyzer{store: st, embedder: emb}
}

// Scan embeds the query and measures its distance to every entry.
func (a *Analyzer) Scan(ctx context.Context, q evals.Query) (*QueryScan, error) {
	vecs, err := a.embedder.EmbedBatch(ctx, []string{q.Text})
	if err != nil {
		return nil, fmt.Errorf("embedding query %s: %w", q.ID, err)
	}
	dists, err := a.store.Distances(ctx, vecs[0])
	if err != nil {
		return nil, fmt.Errorf("scanning distances for query %s: %w", q.ID, err)
	}

	scan := &QueryScan{
		QueryID:           q.ID,
		QueryType:         string(q.Type),
		NearestIrrelevant: -1,
		Records:           make([]DistanceRecord, 0, len(dists)),
	}
	var relSum, irrSum float64
	for _, d := range dists {
		rel := q.RelevantTo(d.Cluster)
		scan.Records = append(scan.Records, DistanceRecord{
			QueryID:  q.ID,
			EntryID:  d.ID,
			Distance: d.Distance,
			Relevant: rel,
		})
		if rel {
			accumulate(&scan.Relevant, d.Distance)
			relSum += d.Distance
		} else {
			accumulate(&scan.Irrelevant, d.Distance)
			irrSum += d.Distance
		}
	}
	if scan.Relevant.Count > 0 {
		scan.Relevant.Mean = relSum / float64(scan.Relevant.Count)
	}
	if scan.Irrelevant.Count > 0 {
		scan.Irrelevant.Mean = irrSum / float64(scan.Irrelevant.Count)
		scan.NearestIrrelevant = scan.Irrelevant.Min
	}
	return scan, nil
}

func accumulate(s *ClassStats, d float64) {
	if s.Count == 0 || d < s.Min {
		s.Min = d
	}
	if s.Count == 0 || d > s.Max {
		s.Max = d
	}
	s.Count++
}
