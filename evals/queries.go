// Package evals carries the fixed, versioned query set the harness
// measures against, plus the preflight validation tying it to corpus
// ground truth.
package evals

// QueryType tags how a query relates to the corpus.
type QueryType string

const (
	// Direct queries reuse vocabulary from their target cluster's seeds.
	Direct QueryType = "direct"
	// Paraphrase queries ask about a cluster in unrelated vocabulary.
	Paraphrase QueryType = "paraphrase"
	// Negative queries have no relevant entries anywhere in the corpus.
	Negative QueryType = "negative"
)

// Query is one experiment input. Queries are static configuration,
// loaded once per run and never mutated.
type Query struct {
	ID       string    `json:"id"`
	Type     QueryType `json:"type"`
	Text     string    `json:"text"`
	Clusters []int     `json:"clusters,omitempty"`
}

// RelevantTo reports whether an entry in cluster is relevant to q.
func (q Query) RelevantTo(cluster int) bool {
	for _, c := range q.Clusters {
		if c == cluster {
			return true
		}
	}
	return false
}

// QuerySetVersion identifies the built-in query set. Bump it when the
// queries change so result files say which set produced them.
const QuerySetVersion = "v1"

// DefaultQuerySet returns the built-in queries: a direct and a
// paraphrase query per topic cluster, then negatives. The slice is
// freshly allocated on each call.
func DefaultQuerySet() []Query {
	return []Query{
		{ID: "direct-coral", Type: Direct, Text: "why does coral bleaching happen", Clusters: []int{1}},
		{ID: "direct-espresso", Type: Direct, Text: "what grind size does espresso extraction need", Clusters: []int{2}},
		{ID: "direct-battery", Type: Direct, Text: "how does a lithium-ion battery store charge", Clusters: []int{3}},
		{ID: "direct-castle", Type: Direct, Text: "how did concentric castle walls stop attackers", Clusters: []int{4}},
		{ID: "direct-marathon", Type: Direct, Text: "how fast should marathon training mileage increase", Clusters: []int{5}},
		{ID: "direct-radar", Type: Direct, Text: "how does doppler weather radar measure rain movement", Clusters: []int{6}},

		{ID: "para-coral", Type: Paraphrase, Text: "what makes reef organisms turn white in warm seas", Clusters: []int{1}},
		{ID: "para-espresso", Type: Paraphrase, Text: "my morning shot tastes sour, what should change", Clusters: []int{2}},
		{ID: "para-battery", Type: Paraphrase, Text: "what wears out a phone's rechargeable cell over the years", Clusters: []int{3}},
		{ID: "para-castle", Type: Paraphrase, Text: "defensive tricks built into medieval strongholds", Clusters: []int{4}},
		{ID: "para-marathon", Type: Paraphrase, Text: "getting your legs ready for a 42 kilometer race", Clusters: []int{5}},
		{ID: "para-radar", Type: Paraphrase, Text: "how storm-watching antennas spot rotation in a supercell", Clusters: []int{6}},

		{ID: "neg-sourdough", Type: Negative, Text: "how do I keep a sourdough starter alive in the fridge"},
		{ID: "neg-quantum", Type: Negative, Text: "error correction codes for quantum computers"},
		{ID: "neg-tax", Type: Negative, Text: "when are quarterly estimated tax payments due"},
		{ID: "neg-orchid", Type: Negative, Text: "why are my orchid leaves turning yellow"},
	}
}

// ByType groups queries by their type tag, preserving order.
func ByType(queries []Query) map[QueryType][]Query {
	out := make(map[QueryType][]Query)
	for _, q := range queries {
		out[q.Type] = append(out[q.Type], q)
	}
	return out
}
