package inference

import (
	"context"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker around the inference server.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
}

// DefaultBreakerConfig returns the standard policy: trip after three or
// more calls with a 60% failure ratio, probe again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
	}
}

// BreakerService short-circuits calls to a failing inference server. Once
// open, calls fail immediately with gobreaker.ErrOpenState instead of
// waiting out a timeout each.
type BreakerService struct {
	inner Service
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerService wraps inner with a circuit breaker.
func NewBreakerService(inner Service, cfg BreakerConfig) *BreakerService {
	st := gobreaker.Settings{
		Name:        "inference",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("[inference] circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &BreakerService{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(st),
	}
}

// EmbedBatch implements Embedder.EmbedBatch through the breaker.
func (s *BreakerService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return out.([][]float32), nil
}

// Dimension implements Embedder.Dimension.
func (s *BreakerService) Dimension() int {
	return s.inner.Dimension()
}

// ModelName implements Embedder.ModelName.
func (s *BreakerService) ModelName() string {
	return s.inner.ModelName()
}

// Complete implements Generator.Complete through the breaker.
func (s *BreakerService) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.Complete(ctx, prompt, maxTokens)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// CompleteLogprobs implements Generator.CompleteLogprobs through the breaker.
func (s *BreakerService) CompleteLogprobs(ctx context.Context, prompt string, topK int) ([]TokenLogprob, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.CompleteLogprobs(ctx, prompt, topK)
	})
	if err != nil {
		return nil, err
	}
	return out.([]TokenLogprob), nil
}

// Ping implements Service.Ping through the breaker.
func (s *BreakerService) Ping(ctx context.Context) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.Ping(ctx)
	})
	return err
}

// State returns the breaker's current state for logging.
func (s *BreakerService) State() gobreaker.State {
	return s.cb.State()
}

// Ensure BreakerService implements Service.
var _ Service = (*BreakerService)(nil)
