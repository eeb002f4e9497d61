package inference

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// StaticEmbedder is a deterministic Embedder for tests. Texts present in
// Vectors come back verbatim; everything else hashes to a stable unit
// vector, so repeated runs see identical geometry without a server.
type StaticEmbedder struct {
	Dim     int
	Vectors map[string][]float32
	// FailTexts marks inputs whose batch should fail, for exercising the
	// skip-and-continue paths.
	FailTexts map[string]bool
	Calls     int
}

// NewStaticEmbedder creates an embedder producing dim-sized vectors.
func NewStaticEmbedder(dim int) *StaticEmbedder {
	return &StaticEmbedder{
		Dim:       dim,
		Vectors:   make(map[string][]float32),
		FailTexts: make(map[string]bool),
	}
}

// Set registers an exact vector for text.
func (e *StaticEmbedder) Set(text string, vec []float32) {
	e.Vectors[text] = vec
}

// EmbedBatch implements Embedder.EmbedBatch.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.Calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.FailTexts[t] {
			return nil, fmt.Errorf("embedding %q: injected failure", t)
		}
		if v, ok := e.Vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = e.hashVector(t)
	}
	return out, nil
}

// hashVector expands an FNV-1a seed into a unit vector via xorshift.
func (e *StaticEmbedder) hashVector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()
	if state == 0 {
		state = 1
	}

	v := make([]float32, e.Dim)
	var norm float64
	for i := range v {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v[i] = float32(int64(state%2000)-1000) / 1000
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Dimension implements Embedder.Dimension.
func (e *StaticEmbedder) Dimension() int {
	return e.Dim
}

// ModelName implements Embedder.ModelName.
func (e *StaticEmbedder) ModelName() string {
	return "static-embedder"
}

// ScriptedGenerator is a deterministic Generator for tests, driven by
// per-prompt hooks. Unset hooks return zero values.
type ScriptedGenerator struct {
	CompleteFunc func(prompt string, maxTokens int) (string, error)
	LogprobsFunc func(prompt string, topK int) ([]TokenLogprob, error)
	Calls        int
}

// Complete implements Generator.Complete.
func (g *ScriptedGenerator) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	g.Calls++
	if g.CompleteFunc == nil {
		return "", nil
	}
	return g.CompleteFunc(prompt, maxTokens)
}

// CompleteLogprobs implements Generator.CompleteLogprobs.
func (g *ScriptedGenerator) CompleteLogprobs(ctx context.Context, prompt string, topK int) ([]TokenLogprob, error) {
	g.Calls++
	if g.LogprobsFunc == nil {
		return nil, nil
	}
	return g.LogprobsFunc(prompt, topK)
}

// FakeService bundles the fakes into a full Service for end-to-end tests.
type FakeService struct {
	*StaticEmbedder
	*ScriptedGenerator
	PingErr error
}

// NewFakeService creates a FakeService with a dim-sized embedder and an
// empty generator script.
func NewFakeService(dim int) *FakeService {
	return &FakeService{
		StaticEmbedder:    NewStaticEmbedder(dim),
		ScriptedGenerator: &ScriptedGenerator{},
	}
}

// Ping implements Service.Ping.
func (f *FakeService) Ping(ctx context.Context) error {
	return f.PingErr
}

// Ensure the fakes satisfy their interfaces.
var (
	_ Embedder  = (*StaticEmbedder)(nil)
	_ Generator = (*ScriptedGenerator)(nil)
	_ Service   = (*FakeService)(nil)
)
