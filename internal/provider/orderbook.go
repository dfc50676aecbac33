package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/marketflow/perpcore/internal/domain"
)

// ErrBookUnavailable signals that no order book snapshot can be produced
// right now. The policy gate treats a missing book as a soft stop, so callers
// should pass nil downstream instead of aborting the cycle.
var ErrBookUnavailable = errors.New("order book unavailable")

// OrderBookProvider returns the current top-of-book snapshot for a symbol.
type OrderBookProvider interface {
	OrderBook(ctx context.Context, symbol string) (*domain.OrderBookSnapshot, error)
}

// BreakerConfig tunes the circuit breaker wrapping a provider.
type BreakerConfig struct {
	Name                string        `yaml:"name"`
	MaxRequests         uint32        `yaml:"max_requests"`  // probes allowed while half-open
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`       // open duration before probing
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	MinRequests         uint32        `yaml:"min_requests"`  // sample floor for the error-rate trip
	ErrorRate           float64       `yaml:"error_rate"`    // 0..1
}

// DefaultBreakerConfig returns the production breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "orderbook",
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 3,
		MinRequests:         10,
		ErrorRate:           0.3,
	}
}

// BreakerProvider wraps a provider with a circuit breaker. While the circuit
// is open every call fails fast with ErrBookUnavailable.
type BreakerProvider struct {
	inner   OrderBookProvider
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps a provider with a circuit breaker.
func NewBreakerProvider(inner OrderBookProvider, cfg BreakerConfig) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests >= cfg.MinRequests {
				errorRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if errorRate >= cfg.ErrorRate {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("order book breaker state changed")
		},
	}
	return &BreakerProvider{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// OrderBook fetches through the breaker.
func (p *BreakerProvider) OrderBook(ctx context.Context, symbol string) (*domain.OrderBookSnapshot, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.OrderBook(ctx, symbol)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit open", ErrBookUnavailable)
		}
		return nil, err
	}
	return out.(*domain.OrderBookSnapshot), nil
}

// State exposes the breaker state for health reporting.
func (p *BreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}

// RateLimitedProvider wraps a provider with a token-bucket rate limit. Wait
// blocks until a token is available or the context expires.
type RateLimitedProvider struct {
	inner   OrderBookProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps a provider with an rps/burst token bucket.
func NewRateLimitedProvider(inner OrderBookProvider, rps float64, burst int) *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// OrderBook waits for a rate token, then fetches.
func (p *RateLimitedProvider) OrderBook(ctx context.Context, symbol string) (*domain.OrderBookSnapshot, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return p.inner.OrderBook(ctx, symbol)
}

// StaticProvider serves a fixed snapshot. It backs offline evaluation, where
// the book arrives in the input file rather than from an exchange.
type StaticProvider struct {
	book *domain.OrderBookSnapshot
}

// NewStaticProvider creates a provider returning the given snapshot. A nil
// snapshot yields ErrBookUnavailable.
func NewStaticProvider(book *domain.OrderBookSnapshot) *StaticProvider {
	return &StaticProvider{book: book}
}

// OrderBook returns the fixed snapshot.
func (p *StaticProvider) OrderBook(_ context.Context, _ string) (*domain.OrderBookSnapshot, error) {
	if p.book == nil {
		return nil, ErrBookUnavailable
	}
	return p.book, nil
}
