// Package store provides the ephemeral per-run entry store behind the
// retrieval channels: full-text keyword search, vector nearest-neighbor
// search, brute-force distance scans, and a subject-predicate-object
// relation table. Each experiment run creates, populates, and destroys its
// own store.
package store

import (
	"context"
	"fmt"
	"math"
)

// NoThreshold disables vector distance filtering: searches return the k
// nearest entries regardless of how far away they are.
const NoThreshold = -1.0

// EntryInput is an entry to insert: immutable text, a cluster label
// (positive = ground-truth topic cluster, 0 = noise, negative = background),
// and its embedding.
type EntryInput struct {
	Text      string
	Cluster   int
	Embedding []float32
}

// SearchResult is one ranked row from a keyword or vector search.
type SearchResult struct {
	ID      int64   `json:"id"`
	Text    string  `json:"text"`
	Cluster int     `json:"cluster"`
	Seq     int64   `json:"seq"`
	// Score is the keyword relevance rank value (higher = better for
	// postgres ts_rank; bm25 values are negated so the same holds).
	Score float64 `json:"score,omitempty"`
	// Distance is the vector distance (lower = more similar). Zero for
	// keyword results.
	Distance float64 `json:"distance,omitempty"`
}

// EntryDistance is one row of a brute-force distance scan.
type EntryDistance struct {
	ID       int64
	Cluster  int
	Distance float64
}

// Relation is a subject-predicate-object row for the structured channel.
type Relation struct {
	ID        int64  `json:"id"`
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Store is the ephemeral store interface shared by the sqlite and postgres
// backends. Implementations are single-writer: batch inserts happen during
// corpus synthesis, queries afterwards.
type Store interface {
	// InsertEntries inserts a batch in one transaction and returns the
	// assigned entry IDs in input order.
	InsertEntries(ctx context.Context, entries []EntryInput) ([]int64, error)

	// KeywordSearch runs a disjunctive full-text match over the given
	// terms. Results are relevance-ordered, ties broken by recency
	// (insertion sequence) descending. An empty result is valid.
	KeywordSearch(ctx context.Context, terms []string, limit int) ([]SearchResult, error)

	// VectorSearch returns the entries nearest to the query embedding,
	// ascending by distance. maxDistance filters out entries farther than
	// the threshold; pass NoThreshold to disable.
	VectorSearch(ctx context.Context, query []float32, limit int, maxDistance float64) ([]SearchResult, error)

	// Distances computes the distance from the query embedding to every
	// entry. Order is unspecified; callers aggregate.
	Distances(ctx context.Context, query []float32) ([]EntryDistance, error)

	// InsertRelations inserts subject-predicate-object rows.
	InsertRelations(ctx context.Context, rels []Relation) error

	// SearchRelations matches term as a case-insensitive substring of
	// subject or object entity names.
	SearchRelations(ctx context.Context, term string, limit int) ([]Relation, error)

	// ClusterMap returns the entry ID to cluster ID ground-truth table.
	ClusterMap(ctx context.Context) (map[int64]int, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Close releases the connection without destroying data.
	Close() error

	// Destroy removes the run's data (file or schema) and closes.
	Destroy() error
}

// DistanceMetric selects the vector distance function.
type DistanceMetric int

const (
	// DistanceCosine is 1 - cosine similarity. Default for text
	// embeddings, which arrive near unit norm.
	DistanceCosine DistanceMetric = iota

	// DistanceEuclidean is L2 distance.
	DistanceEuclidean

	// DistanceDotProduct is the negated inner product, so that ascending
	// order still means most similar first.
	DistanceDotProduct
)

// String returns the metric name used in config and reports.
func (m DistanceMetric) String() string {
	switch m {
	case DistanceCosine:
		return "cosine"
	case DistanceEuclidean:
		return "euclidean"
	case DistanceDotProduct:
		return "dot_product"
	default:
		return "unknown"
	}
}

// ParseMetric converts a config string to a DistanceMetric.
func ParseMetric(s string) (DistanceMetric, error) {
	switch s {
	case "cosine":
		return DistanceCosine, nil
	case "euclidean":
		return DistanceEuclidean, nil
	case "dot_product":
		return DistanceDotProduct, nil
	default:
		return DistanceCosine, fmt.Errorf("unknown distance metric %q", s)
	}
}

// Distance computes the metric between two vectors of equal length.
func (m DistanceMetric) Distance(a, b []float32) float64 {
	switch m {
	case DistanceEuclidean:
		return euclideanDistance(a, b)
	case DistanceDotProduct:
		return negativeDotProduct(a, b)
	default:
		return cosineDistance(a, b)
	}
}

// cosineDistance calculates 1 - cosine_similarity.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// euclideanDistance calculates L2 distance.
func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// negativeDotProduct returns the negated inner product.
func negativeDotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return -sum
}
