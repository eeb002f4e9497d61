package evals

import (
	"errors"
	"fmt"
	"strings"
)

// Validator checks the query set before a run starts. A validation
// failure is a setup error: the run aborts before any query executes.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks one query's internal consistency.
func (q Query) Validate() error {
	if q.ID == "" {
		return errors.New("missing id")
	}
	if strings.TrimSpace(q.Text) == "" {
		return errors.New("missing text")
	}
	switch q.Type {
	case Direct, Paraphrase:
		if len(q.Clusters) == 0 {
			return fmt.Errorf("%s query needs at least one relevant cluster", q.Type)
		}
	case Negative:
		if len(q.Clusters) != 0 {
			return errors.New("negative query must not list relevant clusters")
		}
	default:
		return fmt.Errorf("unknown query type %q", q.Type)
	}
	return nil
}

// ValidateSet checks every query and rejects duplicate IDs.
func (v *Validator) ValidateSet(queries []Query) error {
	if len(queries) == 0 {
		return errors.New("query set is empty")
	}
	seen := make(map[string]bool, len(queries))
	for _, q := range queries {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("query %q: %w", q.ID, err)
		}
		if seen[q.ID] {
			return fmt.Errorf("duplicate query id %q", q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}

// ValidateClusters checks that every cluster the query set references has
// at least one entry in the ground-truth map. Run it after corpus
// synthesis, before the first query.
func (v *Validator) ValidateClusters(queries []Query, clusterMap map[int64]int) error {
	present := make(map[int]bool)
	for _, cluster := range clusterMap {
		present[cluster] = true
	}
	for _, q := range queries {
		for _, cluster := range q.Clusters {
			if !present[cluster] {
				return fmt.Errorf("query %q references cluster %d, which has no entries in the corpus", q.ID, cluster)
			}
		}
	}
	return nil
}
