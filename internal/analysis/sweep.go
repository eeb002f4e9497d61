package analysis

import "sort"

// DefaultSweepSteps is how many thresholds a sweep tries when the
// caller does not pick its own grid.
const DefaultSweepSteps = 24

// SweepPoint reports selection quality at one distance cutoff. An entry
// is selected when its distance is at most Threshold.
type SweepPoint struct {
	Threshold float64 `json:"threshold"`
	Recall    float64 `json:"recall"`
	Precision float64 `json:"precision"`
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
}

// ThresholdGrid builds steps evenly spaced cutoffs spanning the
// observed distances, padded so the first threshold selects nothing and
// the last selects everything.
func ThresholdGrid(records []DistanceRecord, steps int) []float64 {
	if steps <= 0 {
		steps = DefaultSweepSteps
	}
	if len(records) == 0 {
		return nil
	}
	lo, hi := records[0].Distance, records[0].Distance
	for _, r := range records[1:] {
		if r.Distance < lo {
			lo = r.Distance
		}
		if r.Distance > hi {
			hi = r.Distance
		}
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = 1e-6
	}
	lo -= pad
	hi += pad
	if steps == 1 {
		return []float64{hi}
	}
	grid := make([]float64, steps)
	width := (hi - lo) / float64(steps-1)
	for i := range grid {
		grid[i] = lo + width*float64(i)
	}
	return grid
}

// Sweep evaluates each threshold against the given records and returns
// one point per threshold, sorted by threshold ascending.
//
// Precision is 1.0 when a threshold selects nothing: an empty result
// set contains no mistakes. Recall is 1.0 when there was nothing to
// recall, which makes negative queries score a clean sweep exactly when
// the cutoff excludes the whole corpus.
func Sweep(records []DistanceRecord, thresholds []float64) []SweepPoint {
	grid := make([]float64, len(thresholds))
	copy(grid, thresholds)
	sort.Float64s(grid)

	totalRelevant := 0
	for _, r := range records {
		if r.Relevant {
			totalRelevant++
		}
	}

	points := make([]SweepPoint, 0, len(grid))
	for _, t := range grid {
		p := SweepPoint{Threshold: t}
		for _, r := range records {
			selected := r.Distance <= t
			switch {
			case selected && r.Relevant:
				p.TP++
			case selected && !r.Relevant:
				p.FP++
			case !selected && r.Relevant:
				p.FN++
			}
		}
		p.Recall = 1.0
		if totalRelevant > 0 {
			p.Recall = float64(p.TP) / float64(totalRelevant)
		}
		p.Precision = 1.0
		if p.TP+p.FP > 0 {
			p.Precision = float64(p.TP) / float64(p.TP+p.FP)
		}
		points = append(points, p)
	}
	return points
}
