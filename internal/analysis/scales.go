package analysis

import "sort"

// DefaultScales are the corpus sizes a sweep run builds, smallest
// first so a broken setup fails fast before the expensive stages.
var DefaultScales = []int{10, 100, 1000, 10000}

// DefaultStabilityTolerance is the absolute band the pooled mean
// relevant distance may wander across scales and still count as stable.
const DefaultStabilityTolerance = 0.05

// ScalePoint condenses one corpus scale into the numbers the
// cross-scale comparison needs.
type ScalePoint struct {
	Scale   int `json:"scale"`
	Entries int `json:"entries"`

	// MeanRelevant pools every (query, relevant entry) distance at this
	// scale. The relevant set is pinned to the seed clusters, so this
	// should barely move as the corpus grows.
	MeanRelevant float64 `json:"mean_relevant_distance"`

	// MinIrrelevant is the closest off-topic pair seen by any query.
	// More background entries mean more chances for an accidental
	// near-neighbor, so this falls as the corpus grows. -1 when no
	// query saw an irrelevant entry.
	MinIrrelevant float64 `json:"min_irrelevant_distance"`

	// NearestNegative is MinIrrelevant restricted to negative queries,
	// for which every entry is off-topic. -1 when the scan had no
	// negative queries.
	NearestNegative float64 `json:"nearest_negative_distance"`
}

// BuildScalePoint folds one scale's scans into a point. scale is the
// requested corpus size, entries the size actually built.
func BuildScalePoint(scale, entries int, scans []*QueryScan) ScalePoint {
	p := ScalePoint{Scale: scale, Entries: entries, MinIrrelevant: -1, NearestNegative: -1}
	var relSum float64
	var relCount int
	for _, s := range scans {
		if s.Relevant.Count > 0 {
			relSum += s.Relevant.Mean * float64(s.Relevant.Count)
			relCount += s.Relevant.Count
		}
		if s.Irrelevant.Count > 0 {
			if p.MinIrrelevant < 0 || s.Irrelevant.Min < p.MinIrrelevant {
				p.MinIrrelevant = s.Irrelevant.Min
			}
			if s.Relevant.Count == 0 {
				if p.NearestNegative < 0 || s.Irrelevant.Min < p.NearestNegative {
					p.NearestNegative = s.Irrelevant.Min
				}
			}
		}
	}
	if relCount > 0 {
		p.MeanRelevant = relSum / float64(relCount)
	}
	return p
}

// ScaleVerdict is the headline of a multi-scale run: the relevant
// distances hold still while the irrelevant floor sinks, which is the
// mechanism that makes any fixed distance cutoff rot as a corpus grows.
type ScaleVerdict struct {
	MeanRelevantStable   bool    `json:"mean_relevant_stable"`
	MeanRelevantSpread   float64 `json:"mean_relevant_spread"`
	MinIrrelevantShrinks bool    `json:"min_irrelevant_shrinks"`
}

// AssessScales checks the two cross-scale behaviors over points, which
// may arrive in any order. tolerance <= 0 selects
// DefaultStabilityTolerance.
func AssessScales(points []ScalePoint, tolerance float64) ScaleVerdict {
	if tolerance <= 0 {
		tolerance = DefaultStabilityTolerance
	}
	sorted := make([]ScalePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Scale < sorted[j].Scale })

	var v ScaleVerdict
	if len(sorted) == 0 {
		return v
	}

	loMean, hiMean := sorted[0].MeanRelevant, sorted[0].MeanRelevant
	for _, p := range sorted[1:] {
		if p.MeanRelevant < loMean {
			loMean = p.MeanRelevant
		}
		if p.MeanRelevant > hiMean {
			hiMean = p.MeanRelevant
		}
	}
	v.MeanRelevantSpread = hiMean - loMean
	v.MeanRelevantStable = v.MeanRelevantSpread <= tolerance

	v.MinIrrelevantShrinks = len(sorted) > 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i].MinIrrelevant > sorted[i-1].MinIrrelevant {
			v.MinIrrelevantShrinks = false
			break
		}
	}
	if len(sorted) > 1 && sorted[len(sorted)-1].MinIrrelevant >= sorted[0].MinIrrelevant {
		v.MinIrrelevantShrinks = false
	}
	return v
}
