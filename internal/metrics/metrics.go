// Package metrics scores ranked retrieval lists against cluster ground
// truth: precision@k per query, aggregates by query type, and
// stage-versus-stage comparisons.
package metrics

import (
	"sort"

	"recallbench/evals"
)

// Default cutoffs for precision@k.
const (
	DefaultKSmall = 5
	DefaultKLarge = 10
)

// DefaultKs returns the standard cutoff pair.
func DefaultKs() []int { return []int{DefaultKSmall, DefaultKLarge} }

// Stage names for the pipeline steps that are not channels. Channel
// stages use the channel name itself.
const (
	StageFused    = "fused"
	StageReranked = "reranked"
)

// Point is one ranked list measured at one cutoff.
type Point struct {
	K        int `json:"k"`
	Returned int `json:"returned"`
	Relevant int `json:"relevant"`
	// Precision is Relevant/Returned. Zero when nothing came back: an
	// empty list earns no credit on a query that has answers.
	Precision float64 `json:"precision"`
	// Hit reports whether any relevant entry appeared within the cutoff.
	Hit bool `json:"hit"`
}

// QueryScore is one (query, stage) measurement across the cutoffs.
type QueryScore struct {
	QueryID   string  `json:"query_id"`
	QueryType string  `json:"query_type"`
	Stage     string  `json:"stage"`
	Returned  int     `json:"returned"`
	Points    []Point `json:"points"`
	// FalsePositives counts entries returned for a negative query, where
	// the ideal list is empty. Zero for queries that have relevant
	// clusters.
	FalsePositives int `json:"false_positives"`
}

// Score measures a ranked entry ID list for q. clusters is the
// ground-truth entry-to-cluster map; entries missing from it count as
// irrelevant. ks nil selects the default cutoffs.
func Score(q evals.Query, stage string, ids []int64, clusters map[int64]int, ks []int) QueryScore {
	if ks == nil {
		ks = DefaultKs()
	}
	s := QueryScore{
		QueryID:   q.ID,
		QueryType: string(q.Type),
		Stage:     stage,
		Returned:  len(ids),
		Points:    make([]Point, 0, len(ks)),
	}
	if len(q.Clusters) == 0 {
		s.FalsePositives = len(ids)
	}
	for _, k := range ks {
		p := Point{K: k}
		for i, id := range ids {
			if i >= k {
				break
			}
			p.Returned++
			if cluster, ok := clusters[id]; ok && q.RelevantTo(cluster) {
				p.Relevant++
			}
		}
		if p.Returned > 0 {
			p.Precision = float64(p.Relevant) / float64(p.Returned)
		}
		p.Hit = p.Relevant > 0
		s.Points = append(s.Points, p)
	}
	return s
}

// Summary aggregates the scores of one (stage, query type) group.
type Summary struct {
	Stage     string `json:"stage"`
	QueryType string `json:"query_type"`
	Queries   int    `json:"queries"`
	// MeanPrecision and HitRate are keyed by cutoff.
	MeanPrecision map[int]float64 `json:"mean_precision"`
	HitRate       map[int]float64 `json:"hit_rate"`
	// FalsePositives and CleanRate only carry signal for negative
	// queries: total stray results, and the share of queries that
	// correctly returned nothing.
	FalsePositives int     `json:"false_positives"`
	CleanRate      float64 `json:"clean_rate"`
}

// Summarize groups scores by (stage, query type) and averages them.
// Output order is deterministic: pipeline stage order, then query type
// in direct, paraphrase, negative order.
func Summarize(scores []QueryScore) []Summary {
	type key struct {
		stage string
		qtype string
	}
	groups := make(map[key][]QueryScore)
	for _, s := range scores {
		k := key{s.Stage, s.QueryType}
		groups[k] = append(groups[k], s)
	}

	out := make([]Summary, 0, len(groups))
	for k, group := range groups {
		sum := Summary{
			Stage:         k.stage,
			QueryType:     k.qtype,
			Queries:       len(group),
			MeanPrecision: make(map[int]float64),
			HitRate:       make(map[int]float64),
		}
		clean := 0
		hits := make(map[int]int)
		for _, s := range group {
			sum.FalsePositives += s.FalsePositives
			if s.Returned == 0 {
				clean++
			}
			for _, p := range s.Points {
				sum.MeanPrecision[p.K] += p.Precision
				if p.Hit {
					hits[p.K]++
				}
			}
		}
		n := float64(len(group))
		for cutoff := range sum.MeanPrecision {
			sum.MeanPrecision[cutoff] /= n
			sum.HitRate[cutoff] = float64(hits[cutoff]) / n
		}
		sum.CleanRate = float64(clean) / n
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return stageRank(out[i].Stage) < stageRank(out[j].Stage)
		}
		return typeRank(out[i].QueryType) < typeRank(out[j].QueryType)
	})
	return out
}

// Delta is one row of a stage comparison: how much Other moved mean
// precision relative to Base for one query type and cutoff.
type Delta struct {
	Base           string  `json:"base"`
	Other          string  `json:"other"`
	QueryType      string  `json:"query_type"`
	K              int     `json:"k"`
	BasePrecision  float64 `json:"base_precision"`
	OtherPrecision float64 `json:"other_precision"`
	Gain           float64 `json:"gain"`
}

// Compare lines up two stages from summaries. Negative queries are
// skipped: their mean precision is uninformative, so the report reads
// their false-positive counts off the summaries directly.
func Compare(summaries []Summary, base, other string) []Delta {
	find := func(stage, qtype string) (Summary, bool) {
		for _, s := range summaries {
			if s.Stage == stage && s.QueryType == qtype {
				return s, true
			}
		}
		return Summary{}, false
	}

	var out []Delta
	for _, qtype := range []string{string(evals.Direct), string(evals.Paraphrase)} {
		b, okB := find(base, qtype)
		o, okO := find(other, qtype)
		if !okB || !okO {
			continue
		}
		ks := make([]int, 0, len(b.MeanPrecision))
		for k := range b.MeanPrecision {
			ks = append(ks, k)
		}
		sort.Ints(ks)
		for _, k := range ks {
			out = append(out, Delta{
				Base:           base,
				Other:          other,
				QueryType:      qtype,
				K:              k,
				BasePrecision:  b.MeanPrecision[k],
				OtherPrecision: o.MeanPrecision[k],
				Gain:           o.MeanPrecision[k] - b.MeanPrecision[k],
			})
		}
	}
	return out
}

// stageRank orders stages the way the pipeline runs them.
func stageRank(stage string) int {
	switch stage {
	case "keyword":
		return 0
	case "vector":
		return 1
	case "structured":
		return 2
	case StageFused:
		return 3
	case StageReranked:
		return 4
	default:
		return 5
	}
}

func typeRank(qtype string) int {
	switch qtype {
	case string(evals.Direct):
		return 0
	case string(evals.Paraphrase):
		return 1
	case string(evals.Negative):
		return 2
	default:
		return 3
	}
}
