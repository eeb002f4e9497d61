// Package config loads harness configuration from environment variables,
// optional .env files, and optional YAML overlays.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the complete harness configuration.
type Config struct {
	Inference InferenceConfig `yaml:"inference" envPrefix:"RECALLBENCH_"`
	Store     StoreConfig     `yaml:"store" envPrefix:"RECALLBENCH_"`
	Corpus    CorpusConfig    `yaml:"corpus" envPrefix:"RECALLBENCH_"`
	Eval      EvalConfig      `yaml:"eval" envPrefix:"RECALLBENCH_"`
	Output    OutputConfig    `yaml:"output" envPrefix:"RECALLBENCH_"`
}

// InferenceConfig configures the embedding and generation clients.
// Defaults target an OpenAI-compatible local server (LM Studio, llama.cpp).
type InferenceConfig struct {
	// BaseURL is the OpenAI-compatible API root.
	BaseURL string `yaml:"base_url" env:"INFERENCE_URL" envDefault:"http://localhost:1234/v1"`

	// APIKey is sent as the bearer token. Local servers accept any value.
	APIKey string `yaml:"api_key" env:"INFERENCE_API_KEY" envDefault:"local"`

	// EmbedModel is the embedding model identifier.
	EmbedModel string `yaml:"embed_model" env:"EMBED_MODEL" envDefault:"text-embedding-nomic-embed-text-v1.5"`

	// EmbedDimension is the expected embedding vector size.
	// Mismatched response dimensions are a setup error.
	EmbedDimension int `yaml:"embed_dimension" env:"EMBED_DIMENSION" envDefault:"768"`

	// GenModel is the text-generation model identifier, used for
	// paraphrases, background notes, and relevance judgments.
	GenModel string `yaml:"gen_model" env:"GEN_MODEL" envDefault:"qwen2.5-7b-instruct"`

	// EmbedTimeout bounds a single embedding request.
	EmbedTimeout time.Duration `yaml:"embed_timeout" env:"EMBED_TIMEOUT" envDefault:"30s"`

	// GenTimeout bounds a single generation request.
	GenTimeout time.Duration `yaml:"gen_timeout" env:"GEN_TIMEOUT" envDefault:"120s"`

	// MaxRetries is the number of retry attempts for transient errors.
	MaxRetries int `yaml:"max_retries" env:"INFERENCE_MAX_RETRIES" envDefault:"3"`

	// TopLogprobs is the number of top token log-probabilities requested
	// from the judgment call. Must be large enough that "yes" and "no"
	// both usually appear. Default: 20
	TopLogprobs int `yaml:"top_logprobs" env:"TOP_LOGPROBS" envDefault:"20"`

	// EmbedBatchSize is the number of texts per embedding request.
	EmbedBatchSize int `yaml:"embed_batch_size" env:"EMBED_BATCH_SIZE" envDefault:"32"`
}

// StoreConfig selects and configures the ephemeral entry store.
type StoreConfig struct {
	// Backend is "sqlite" (default, pure Go) or "postgres" (pgvector).
	Backend string `yaml:"backend" env:"STORE_BACKEND" envDefault:"sqlite"`

	// DSN is the postgres connection string. Ignored for sqlite, which
	// places its database file under the run's results directory.
	DSN string `yaml:"dsn" env:"STORE_DSN" envDefault:"postgres://localhost:5432/recallbench?sslmode=disable"`

	// Metric is the vector distance metric: cosine, euclidean, dot_product.
	Metric string `yaml:"metric" env:"DISTANCE_METRIC" envDefault:"cosine"`
}

// CorpusConfig configures corpus synthesis.
type CorpusConfig struct {
	// ParaphraseMultiplier M inserts M-1 generated paraphrases per seed.
	// 1 disables paraphrase scaling.
	ParaphraseMultiplier int `yaml:"paraphrase_multiplier" env:"PARAPHRASE_MULTIPLIER" envDefault:"1"`

	// CacheDir holds the cross-run background-note cache. Empty resolves
	// to the user cache dir.
	CacheDir string `yaml:"cache_dir" env:"CACHE_DIR"`

	// SeedDir optionally mixes *.txt/*.md files under a directory into the
	// corpus as noise entries. Honors .benchignore patterns.
	SeedDir string `yaml:"seed_dir" env:"SEED_DIR"`

	// RandomSeed drives the corpus shuffle so scaled-down corpora are
	// reproducible. 0 keeps the written seed order.
	RandomSeed int64 `yaml:"random_seed" env:"RANDOM_SEED" envDefault:"42"`

	// GenBatchSize is the number of background notes generated per cache
	// transaction. Interruption loses at most one batch.
	GenBatchSize int `yaml:"gen_batch_size" env:"GEN_BATCH_SIZE" envDefault:"8"`
}

// EvalConfig configures retrieval, fusion, reranking, and sweep parameters.
type EvalConfig struct {
	// ChannelLimit is the per-channel candidate list length.
	ChannelLimit int `yaml:"channel_limit" env:"CHANNEL_LIMIT" envDefault:"20"`

	// RRFK is the reciprocal-rank-fusion smoothing constant. Default: 60
	RRFK int `yaml:"rrf_k" env:"RRF_K" envDefault:"60"`

	// FuseTop is the fused ranking length. Default: 10
	FuseTop int `yaml:"fuse_top" env:"FUSE_TOP" envDefault:"10"`

	// RerankCandidates M is how many fused candidates the cross-encoder
	// scores. Default: 20
	RerankCandidates int `yaml:"rerank_candidates" env:"RERANK_CANDIDATES" envDefault:"20"`

	// RerankTop is the reranked output length. Default: 10
	RerankTop int `yaml:"rerank_top" env:"RERANK_TOP" envDefault:"10"`

	// VectorThreshold drops vector candidates farther than this distance.
	// Negative disables the threshold, so the channel always returns the
	// k nearest entries. That failure mode is what the sweep measures.
	VectorThreshold float64 `yaml:"vector_threshold" env:"VECTOR_THRESHOLD" envDefault:"-1"`

	// PrecisionKs are the cutoffs reported as precision@k.
	PrecisionKs []int `yaml:"precision_ks" env:"PRECISION_KS" envDefault:"5,10" envSeparator:","`

	// Scales are the corpus sizes used by the sensitivity sweep.
	Scales []int `yaml:"scales" env:"SCALES" envDefault:"10,100,1000,10000" envSeparator:","`

	// SweepSteps is the number of thresholds in a sweep grid.
	SweepSteps int `yaml:"sweep_steps" env:"SWEEP_STEPS" envDefault:"24"`
}

// OutputConfig configures result persistence and rendering.
type OutputConfig struct {
	// ResultsDir is the root directory for per-run output.
	ResultsDir string `yaml:"results_dir" env:"RESULTS_DIR" envDefault:"results"`

	// Parquet additionally writes distance records as Parquet files.
	Parquet bool `yaml:"parquet" env:"PARQUET" envDefault:"false"`

	// NoColor disables ANSI colors in terminal output.
	NoColor bool `yaml:"no_color" env:"NO_COLOR" envDefault:"false"`
}

// Default returns the built-in configuration without consulting the
// environment.
func Default() *Config {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		// Only reachable if a struct tag is malformed.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads configuration from a .env file (if present) and the process
// environment. Environment variables win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays a YAML config file on top of cfg. Fields absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate checks for configuration that would make a run impossible.
// Failures here are setup errors: the run must abort before any work.
func (c *Config) Validate() error {
	if c.Inference.EmbedDimension <= 0 {
		return fmt.Errorf("embed dimension must be positive, got %d", c.Inference.EmbedDimension)
	}
	if c.Inference.BaseURL == "" {
		return fmt.Errorf("inference base URL is required")
	}
	switch c.Store.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q (want sqlite or postgres)", c.Store.Backend)
	}
	switch c.Store.Metric {
	case "cosine", "euclidean", "dot_product":
	default:
		return fmt.Errorf("unknown distance metric %q", c.Store.Metric)
	}
	if c.Corpus.ParaphraseMultiplier < 1 {
		return fmt.Errorf("paraphrase multiplier must be >= 1, got %d", c.Corpus.ParaphraseMultiplier)
	}
	if c.Eval.RRFK < 1 {
		return fmt.Errorf("rrf k must be >= 1, got %d", c.Eval.RRFK)
	}
	for _, s := range c.Eval.Scales {
		if s < 1 {
			return fmt.Errorf("scales must be positive, got %d", s)
		}
	}
	return nil
}

// ResolveCacheDir returns the background-cache directory, creating the
// default location under the user cache dir when unset.
func (c *Config) ResolveCacheDir() (string, error) {
	if c.Corpus.CacheDir != "" {
		return c.Corpus.CacheDir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving user cache dir: %w", err)
	}
	return filepath.Join(base, "recallbench"), nil
}

// WithScales returns a copy of the config with the sweep scales set.
func (c Config) WithScales(scales []int) Config {
	c.Eval.Scales = scales
	return c
}

// WithResultsDir returns a copy of the config with the results dir set.
func (c Config) WithResultsDir(dir string) Config {
	c.Output.ResultsDir = dir
	return c
}

// WithStoreBackend returns a copy of the config with the store backend set.
func (c Config) WithStoreBackend(backend string) Config {
	c.Store.Backend = backend
	return c
}

// WithVectorThreshold returns a copy of the config with the vector distance
// threshold set.
func (c Config) WithVectorThreshold(t float64) Config {
	c.Eval.VectorThreshold = t
	return c
}
