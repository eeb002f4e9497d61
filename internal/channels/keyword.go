package channels

import (
	"context"
	"log"

	"recallbench/internal/store"
)

// Channel name tags carried through results and fusion annotations.
const (
	ChannelKeyword    = "keyword"
	ChannelVector     = "vector"
	ChannelStructured = "structured"
)

// Candidate is one ranked hit from a channel. Rank is 0-indexed within
// the originating channel.
type Candidate struct {
	EntryID  int64   `json:"entry_id"`
	Text     string  `json:"text"`
	Cluster  int     `json:"cluster"`
	Rank     int     `json:"rank"`
	Score    float64 `json:"score,omitempty"`
	Distance float64 `json:"distance,omitempty"`
}

// Result is one channel's output for one query. An empty candidate list
// is valid; Err records a fault that produced an empty list without
// failing the query.
type Result struct {
	Channel    string      `json:"channel"`
	Candidates []Candidate `json:"candidates"`
	Err        string      `json:"error,omitempty"`
}

// EntryIDs returns the ranked entry IDs, for fusion input.
func (r Result) EntryIDs() []int64 {
	ids := make([]int64, len(r.Candidates))
	for i, c := range r.Candidates {
		ids[i] = c.EntryID
	}
	return ids
}

// KeywordChannel retrieves entries by disjunctive full-text match, best
// match first, recency breaking ties.
type KeywordChannel struct {
	store store.Store
	limit int
}

// NewKeywordChannel creates a keyword channel returning at most limit
// candidates per query.
func NewKeywordChannel(st store.Store, limit int) *KeywordChannel {
	return &KeywordChannel{store: st, limit: limit}
}

// Search runs the query through Tokenize and the store's full-text
// index. A query with no usable terms returns an empty result.
func (c *KeywordChannel) Search(ctx context.Context, query string) Result {
	res := Result{Channel: ChannelKeyword}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return res
	}

	rows, err := c.store.KeywordSearch(ctx, terms, c.limit)
	if err != nil {
		log.Printf("[channel] keyword search failed: %v", err)
		res.Err = err.Error()
		return res
	}

	for i, row := range rows {
		res.Candidates = append(res.Candidates, Candidate{
			EntryID: row.ID,
			Text:    row.Text,
			Cluster: row.Cluster,
			Rank:    i,
			Score:   row.Score,
		})
	}
	return res
}
