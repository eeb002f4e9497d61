package channels

import (
	"context"
	"log"

	"recallbench/internal/inference"
	"recallbench/internal/store"
)

// VectorChannel retrieves entries by embedding the query and taking the
// nearest neighbors under the store's distance metric. With no
// threshold it always returns the k nearest, relevant or not; that
// failure mode is deliberate and measured by the analyzer.
type VectorChannel struct {
	store       store.Store
	embedder    inference.Embedder
	limit       int
	maxDistance float64
}

// NewVectorChannel creates a vector channel returning at most limit
// candidates within maxDistance. Pass store.NoThreshold to disable the
// distance cutoff.
func NewVectorChannel(st store.Store, embedder inference.Embedder, limit int, maxDistance float64) *VectorChannel {
	return &VectorChannel{store: st, embedder: embedder, limit: limit, maxDistance: maxDistance}
}

// Search embeds the query and runs nearest-neighbor retrieval, nearest
// first. Embedding and store faults degrade to an empty result.
func (c *VectorChannel) Search(ctx context.Context, query string) Result {
	res := Result{Channel: ChannelVector}

	vecs, err := c.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		log.Printf("[channel] query embedding failed: %v", err)
		res.Err = err.Error()
		return res
	}

	rows, err := c.store.VectorSearch(ctx, vecs[0], c.limit, c.maxDistance)
	if err != nil {
		log.Printf("[channel] vector search failed: %v", err)
		res.Err = err.Error()
		return res
	}

	for i, row := range rows {
		res.Candidates = append(res.Candidates, Candidate{
			EntryID:  row.ID,
			Text:     row.Text,
			Cluster:  row.Cluster,
			Rank:     i,
			Distance: row.Distance,
		})
	}
	return res
}
