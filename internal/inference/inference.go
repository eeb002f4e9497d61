// Package inference provides clients for the OpenAI-compatible local
// inference server the harness drives: batch embeddings for corpus and
// query vectors, and chat completions for paraphrase generation and
// logprob-based relevance judgments. Production callers wrap the base
// client with retry and circuit breaker layers via NewStack.
package inference

import "context"

// TokenLogprob is one candidate token at a generation position with its
// log probability.
type TokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// Embedder produces fixed-dimension embedding vectors.
type Embedder interface {
	// EmbedBatch embeds texts in one request. The result is aligned with
	// the input: out[i] is the vector for texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the vector size the embedder produces.
	Dimension() int
	// ModelName returns the embedding model identifier.
	ModelName() string
}

// Generator produces chat completions.
type Generator interface {
	// Complete returns the assistant text for prompt, capped at maxTokens.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	// CompleteLogprobs generates exactly one token for prompt and returns
	// the top-K candidate tokens at that position, most probable first.
	CompleteLogprobs(ctx context.Context, prompt string, topK int) ([]TokenLogprob, error)
}

// Service is the full inference surface the harness consumes.
type Service interface {
	Embedder
	Generator
	// Ping verifies the server is reachable before any work starts.
	Ping(ctx context.Context) error
}

// NewStack wraps client with the standard resilience layers: retries
// innermost so transient faults are absorbed per call, the circuit
// breaker outermost so a run of exhausted retries trips it open.
func NewStack(client Service, rc RetryConfig, bc BreakerConfig) Service {
	return NewBreakerService(NewRetryService(client, rc), bc)
}
