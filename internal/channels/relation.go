package channels

import (
	"context"
	"log"

	"recallbench/internal/store"
)

// RelationChannel matches query keywords against entity names in the
// subject-predicate-object table. Relations have no entry identity, so
// this channel's output is consumed on its own and never fused.
type RelationChannel struct {
	store store.Store
	limit int
}

// RelationResult is the structured channel's output for one query.
type RelationResult struct {
	Channel   string           `json:"channel"`
	Relations []store.Relation `json:"relations"`
	Err       string           `json:"error,omitempty"`
}

// NewRelationChannel creates a structured-relation channel returning at
// most limit relations per query.
func NewRelationChannel(st store.Store, limit int) *RelationChannel {
	return &RelationChannel{store: st, limit: limit}
}

// Search substring-matches each query term against subject and object
// names, deduplicating relations hit by several terms. Order follows
// term order, then relation ID.
func (c *RelationChannel) Search(ctx context.Context, query string) RelationResult {
	res := RelationResult{Channel: ChannelStructured}

	seen := make(map[int64]bool)
	for _, term := range Tokenize(query) {
		if len(res.Relations) >= c.limit {
			break
		}
		rels, err := c.store.SearchRelations(ctx, term, c.limit)
		if err != nil {
			log.Printf("[channel] relation search failed: %v", err)
			res.Err = err.Error()
			res.Relations = nil
			return res
		}
		for _, rel := range rels {
			if seen[rel.ID] {
				continue
			}
			seen[rel.ID] = true
			res.Relations = append(res.Relations, rel)
			if len(res.Relations) >= c.limit {
				break
			}
		}
	}
	return res
}
