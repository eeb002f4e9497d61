package channels

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"recallbench/internal/inference"
	"recallbench/internal/store"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "lowercases and strips punctuation",
			input: "Coral, Bleaching! (heat-stress)",
			want:  []string{"coral", "bleaching", "heat", "stress"},
		},
		{
			name:  "drops short tokens and stopwords",
			input: "how does a lithium ion battery store charge",
			want:  []string{"lithium", "ion", "battery", "store", "charge"},
		},
		{
			name:  "deduplicates preserving first-seen order",
			input: "radar radar doppler radar doppler",
			want:  []string{"radar", "doppler"},
		},
		{
			name:  "normalizes fullwidth forms",
			input: "ｅｓｐｒｅｓｓｏ ｇｒｉｎｄ",
			want:  []string{"espresso", "grind"},
		},
		{
			name:  "empty after filtering",
			input: "is it so?",
			want:  nil,
		},
		{
			name:  "blank input",
			input: "   ",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func newChannelStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.OpenSQLite(":memory:", store.DistanceCosine, 3)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestKeywordChannel(t *testing.T) {
	ctx := context.Background()
	st := newChannelStore(t)

	_, err := st.InsertEntries(ctx, []store.EntryInput{
		{Text: "coral bleaching follows sustained heat stress", Cluster: 1, Embedding: []float32{1, 0, 0}},
		{Text: "espresso extraction depends on grind size", Cluster: 2, Embedding: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("inserting entries: %v", err)
	}

	ch := NewKeywordChannel(st, 10)
	res := ch.Search(ctx, "why does coral bleaching happen?")
	if res.Channel != ChannelKeyword {
		t.Errorf("expected channel %q, got %q", ChannelKeyword, res.Channel)
	}
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(res.Candidates))
	}
	if res.Candidates[0].Cluster != 1 {
		t.Errorf("expected the coral entry, got cluster %d", res.Candidates[0].Cluster)
	}
	if res.Candidates[0].Rank != 0 {
		t.Errorf("expected rank 0, got %d", res.Candidates[0].Rank)
	}

	empty := ch.Search(ctx, "zebra xylophone")
	if len(empty.Candidates) != 0 || empty.Err != "" {
		t.Errorf("expected clean empty result, got %+v", empty)
	}

	// A query that tokenizes to nothing must not hit the store at all.
	none := ch.Search(ctx, "is it so")
	if len(none.Candidates) != 0 || none.Err != "" {
		t.Errorf("expected empty result for empty term set, got %+v", none)
	}
}

func TestVectorChannelRanksByDistance(t *testing.T) {
	ctx := context.Background()
	st := newChannelStore(t)

	ids, err := st.InsertEntries(ctx, []store.EntryInput{
		{Text: "near", Cluster: 1, Embedding: []float32{1, 0, 0}},
		{Text: "middle", Cluster: 0, Embedding: []float32{0.7071, 0.7071, 0}},
		{Text: "far", Cluster: 0, Embedding: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("inserting entries: %v", err)
	}

	emb := inference.NewStaticEmbedder(3)
	emb.Set("the probe", []float32{1, 0, 0})

	ch := NewVectorChannel(st, emb, 2, store.NoThreshold)
	res := ch.Search(ctx, "the probe")
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("expected limit of 2 candidates, got %d", len(res.Candidates))
	}
	if res.Candidates[0].EntryID != ids[0] || res.Candidates[1].EntryID != ids[1] {
		t.Errorf("expected ascending distance order %v, got %+v", ids[:2], res.Candidates)
	}
	if res.Candidates[0].Distance > res.Candidates[1].Distance {
		t.Errorf("expected non-decreasing distances, got %f then %f",
			res.Candidates[0].Distance, res.Candidates[1].Distance)
	}
}

// Ten entries, one relevant: without a threshold the channel returns all
// ten regardless of relevance; with a threshold between the relevant and
// the nearest irrelevant distance it returns exactly one.
func TestVectorChannelThresholdScenario(t *testing.T) {
	ctx := context.Background()
	st := newChannelStore(t)

	inputs := []store.EntryInput{
		{Text: "the one relevant entry", Cluster: 1, Embedding: []float32{1, 0, 0}},
	}
	for i := 0; i < 9; i++ {
		angle := float64(i) / 9
		inputs = append(inputs, store.EntryInput{
			Text:      fmt.Sprintf("irrelevant entry %d", i),
			Cluster:   0,
			Embedding: []float32{0, float32(1 - angle/2), float32(angle / 2)},
		})
	}
	if _, err := st.InsertEntries(ctx, inputs); err != nil {
		t.Fatalf("inserting entries: %v", err)
	}

	emb := inference.NewStaticEmbedder(3)
	emb.Set("find the relevant one", []float32{1, 0, 0})

	unbounded := NewVectorChannel(st, emb, 10, store.NoThreshold)
	res := unbounded.Search(ctx, "find the relevant one")
	if len(res.Candidates) != 10 {
		t.Fatalf("expected all 10 entries without a threshold, got %d", len(res.Candidates))
	}

	bounded := NewVectorChannel(st, emb, 10, 0.5)
	res = bounded.Search(ctx, "find the relevant one")
	if len(res.Candidates) != 1 {
		t.Fatalf("expected exactly 1 entry under the threshold, got %d", len(res.Candidates))
	}
	if res.Candidates[0].Cluster != 1 {
		t.Errorf("expected the relevant entry, got cluster %d", res.Candidates[0].Cluster)
	}
}

func TestVectorChannelEmbedFailure(t *testing.T) {
	ctx := context.Background()
	st := newChannelStore(t)

	emb := inference.NewStaticEmbedder(3)
	emb.FailTexts["broken query"] = true

	ch := NewVectorChannel(st, emb, 10, store.NoThreshold)
	res := ch.Search(ctx, "broken query")
	if res.Err == "" {
		t.Error("expected the embedding failure recorded on the result")
	}
	if len(res.Candidates) != 0 {
		t.Errorf("expected empty candidates on failure, got %d", len(res.Candidates))
	}
}

func TestRelationChannel(t *testing.T) {
	ctx := context.Background()
	st := newChannelStore(t)

	err := st.InsertRelations(ctx, []store.Relation{
		{Subject: "Krak des Chevaliers", Predicate: "located_in", Object: "Syria"},
		{Subject: "Krak des Chevaliers", Predicate: "held_by", Object: "Knights Hospitaller"},
		{Subject: "Edinburgh Castle", Predicate: "built_on", Object: "Castle Rock"},
	})
	if err != nil {
		t.Fatalf("inserting relations: %v", err)
	}

	ch := NewRelationChannel(st, 10)
	res := ch.Search(ctx, "krak chevaliers siege history")
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	// Both terms match both Krak rows; dedupe keeps each once.
	if len(res.Relations) != 2 {
		t.Fatalf("expected 2 deduplicated relations, got %d", len(res.Relations))
	}
	for _, rel := range res.Relations {
		if rel.Subject != "Krak des Chevaliers" {
			t.Errorf("unexpected relation subject %q", rel.Subject)
		}
	}

	empty := ch.Search(ctx, "nothing matches here")
	if len(empty.Relations) != 0 || empty.Err != "" {
		t.Errorf("expected clean empty result, got %+v", empty)
	}
}

func TestRelationChannelLimit(t *testing.T) {
	ctx := context.Background()
	st := newChannelStore(t)

	var rels []store.Relation
	for i := 0; i < 5; i++ {
		rels = append(rels, store.Relation{
			Subject:   fmt.Sprintf("Meridian Station %d", i),
			Predicate: "connects_to",
			Object:    "Central Line",
		})
	}
	if err := st.InsertRelations(ctx, rels); err != nil {
		t.Fatalf("inserting relations: %v", err)
	}

	ch := NewRelationChannel(st, 3)
	res := ch.Search(ctx, "meridian")
	if len(res.Relations) != 3 {
		t.Errorf("expected limit of 3 relations, got %d", len(res.Relations))
	}
}
