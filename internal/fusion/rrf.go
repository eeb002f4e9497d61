// Package fusion merges channel rankings with reciprocal rank fusion.
// RRF works on ranks rather than raw scores, so keyword relevance and
// embedding distance never need to share a scale, and entries both
// channels agree on rise without either ranking them first.
package fusion

import (
	"sort"
	"strings"
)

const (
	// DefaultK is the standard RRF smoothing constant. Higher values
	// flatten the difference between adjacent ranks.
	DefaultK = 60
	// DefaultTop is the fused list length callers usually want.
	DefaultTop = 10
)

// RankedList is one channel's ranked entry IDs, best first.
type RankedList struct {
	Channel string
	IDs     []int64
}

// Fused is one entry's combined standing across channels. Channels and
// Ranks record where the entry came from, in input list order.
type Fused struct {
	EntryID  int64          `json:"entry_id"`
	Score    float64        `json:"score"`
	Channels []string       `json:"channels"`
	Ranks    map[string]int `json:"ranks"`
}

// Label renders the channel set the way reports print it, e.g.
// "keyword+vector".
func (f Fused) Label() string {
	return strings.Join(f.Channels, "+")
}

// Fuse combines the lists: each entry scores the sum, over every list
// containing it, of 1/(k + rank + 1) with rank 0-indexed, and entries
// sort by descending score, truncated to topN (0 means no truncation).
//
// Ties keep first-seen order across the input lists, so the first
// list's internal order takes precedence. The tie-break is part of the
// contract: equal-score orderings feed precision measurements and must
// be reproducible.
func Fuse(lists []RankedList, k, topN int) []Fused {
	if k <= 0 {
		k = DefaultK
	}

	var order []int64
	byID := make(map[int64]*Fused)
	for _, list := range lists {
		for rank, id := range list.IDs {
			f, ok := byID[id]
			if !ok {
				f = &Fused{EntryID: id, Ranks: make(map[string]int)}
				byID[id] = f
				order = append(order, id)
			}
			if _, dup := f.Ranks[list.Channel]; dup {
				continue
			}
			f.Score += 1.0 / float64(k+rank+1)
			f.Channels = append(f.Channels, list.Channel)
			f.Ranks[list.Channel] = rank
		}
	}

	out := make([]Fused, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}
