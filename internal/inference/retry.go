package inference

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// RetryConfig bounds the retry loop around one logical call.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the standard policy: three attempts with
// exponential backoff from one second, capped at eight.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// Retryable reports whether err is transient: a timeout, a connection
// fault, throttling, or a server-side failure. Validation and setup
// errors are permanent and fail immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range []string{"connection refused", "connection reset", "timeout", "temporarily unavailable", "unexpected eof"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// RetryService retries transient failures of the wrapped service with
// exponential backoff. Permanent errors pass through on the first
// attempt.
type RetryService struct {
	inner Service
	cfg   RetryConfig
}

// NewRetryService wraps inner with cfg.
func NewRetryService(inner Service, cfg RetryConfig) *RetryService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryService{inner: inner, cfg: cfg}
}

func (s *RetryService) do(ctx context.Context, op string, fn func() error) error {
	delay := s.cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}
		log.Printf("[inference] %s attempt %d/%d failed, retrying in %s: %v",
			op, attempt, s.cfg.MaxAttempts, delay, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * s.cfg.Multiplier)
		if s.cfg.MaxDelay > 0 && delay > s.cfg.MaxDelay {
			delay = s.cfg.MaxDelay
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, s.cfg.MaxAttempts, lastErr)
}

// EmbedBatch implements Embedder.EmbedBatch with retries.
func (s *RetryService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := s.do(ctx, "embed", func() error {
		var err error
		out, err = s.inner.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dimension implements Embedder.Dimension.
func (s *RetryService) Dimension() int {
	return s.inner.Dimension()
}

// ModelName implements Embedder.ModelName.
func (s *RetryService) ModelName() string {
	return s.inner.ModelName()
}

// Complete implements Generator.Complete with retries.
func (s *RetryService) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var out string
	err := s.do(ctx, "complete", func() error {
		var err error
		out, err = s.inner.Complete(ctx, prompt, maxTokens)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// CompleteLogprobs implements Generator.CompleteLogprobs with retries.
func (s *RetryService) CompleteLogprobs(ctx context.Context, prompt string, topK int) ([]TokenLogprob, error) {
	var out []TokenLogprob
	err := s.do(ctx, "logprobs", func() error {
		var err error
		out, err = s.inner.CompleteLogprobs(ctx, prompt, topK)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ping implements Service.Ping with retries.
func (s *RetryService) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", func() error {
		return s.inner.Ping(ctx)
	})
}

// Ensure RetryService implements Service.
var _ Service = (*RetryService)(nil)
