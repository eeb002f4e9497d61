package inference

import (
	"context"
	"fmt"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL      = "http://localhost:1234/v1"
	DefaultEmbedModel   = "text-embedding-nomic-embed-text-v1.5"
	DefaultGenModel     = "qwen2.5-7b-instruct"
	DefaultDimension    = 768
	DefaultEmbedTimeout = 30 * time.Second
	DefaultGenTimeout   = 120 * time.Second
)

// Client talks to an OpenAI-compatible server (LM Studio, llama.cpp,
// vLLM). Local servers accept any API key.
type Client struct {
	api          *openai.Client
	baseURL      string
	apiKey       string
	embedModel   string
	genModel     string
	dimension    int
	embedTimeout time.Duration
	genTimeout   time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets the server URL, including the /v1 suffix.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithAPIKey sets the API key sent to the server.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithEmbedModel sets the embedding model.
func WithEmbedModel(model string) Option {
	return func(c *Client) {
		c.embedModel = model
	}
}

// WithGenModel sets the completion model.
func WithGenModel(model string) Option {
	return func(c *Client) {
		c.genModel = model
	}
}

// WithDimension sets the expected embedding dimension. Responses with a
// different dimension are rejected.
func WithDimension(dim int) Option {
	return func(c *Client) {
		c.dimension = dim
	}
}

// WithEmbedTimeout sets the per-request embedding timeout.
func WithEmbedTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.embedTimeout = d
	}
}

// WithGenTimeout sets the per-request completion timeout.
func WithGenTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.genTimeout = d
	}
}

// NewClient creates a client with LM Studio defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		apiKey:       "lm-studio",
		embedModel:   DefaultEmbedModel,
		genModel:     DefaultGenModel,
		dimension:    DefaultDimension,
		embedTimeout: DefaultEmbedTimeout,
		genTimeout:   DefaultGenTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	cfg := openai.DefaultConfig(c.apiKey)
	cfg.BaseURL = c.baseURL
	c.api = openai.NewClientWithConfig(cfg)

	return c
}

// EmbedBatch implements Embedder.EmbedBatch. Results are reassembled by
// response index so out[i] always corresponds to texts[i].
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.embedTimeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("invalid index %d in embedding response", item.Index)
		}
		if c.dimension > 0 && len(item.Embedding) != c.dimension {
			return nil, fmt.Errorf("embedding dimension %d, want %d", len(item.Embedding), c.dimension)
		}
		out[item.Index] = item.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return out, nil
}

// Dimension implements Embedder.Dimension.
func (c *Client) Dimension() int {
	return c.dimension
}

// ModelName implements Embedder.ModelName.
func (c *Client) ModelName() string {
	return c.embedModel
}

// Complete implements Generator.Complete.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.genTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.genModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("creating completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteLogprobs implements Generator.CompleteLogprobs. It requests a
// single deterministic token and returns the top-K alternatives at that
// position sorted by log probability, highest first.
func (c *Client) CompleteLogprobs(ctx context.Context, prompt string, topK int) ([]TokenLogprob, error) {
	ctx, cancel := context.WithTimeout(ctx, c.genTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.genModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   1,
		LogProbs:    true,
		TopLogProbs: topK,
	})
	if err != nil {
		return nil, fmt.Errorf("creating logprob completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("logprob completion returned no choices")
	}
	lp := resp.Choices[0].LogProbs
	if lp == nil || len(lp.Content) == 0 {
		return nil, fmt.Errorf("logprob completion returned no logprobs")
	}

	top := lp.Content[0].TopLogProbs
	out := make([]TokenLogprob, 0, len(top))
	for _, t := range top {
		out = append(out, TokenLogprob{Token: t.Token, Logprob: t.LogProb})
	}
	// Servers usually return these sorted already; the extractor depends
	// on the order, so enforce it.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Logprob > out[j].Logprob
	})
	return out, nil
}

// Ping implements Service.Ping by listing models.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("inference server unreachable at %s: %w", c.baseURL, err)
	}
	return nil
}

// Ensure Client implements Service.
var _ Service = (*Client)(nil)
