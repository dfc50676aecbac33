package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/perpcore/internal/domain"
)

type failingProvider struct {
	calls int
}

func (p *failingProvider) OrderBook(context.Context, string) (*domain.OrderBookSnapshot, error) {
	p.calls++
	return nil, errors.New("exchange down")
}

func testBook() *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		Symbol:      "BTC-USDT-PERP",
		BestBid:     99.975,
		BestAsk:     100.025,
		SpreadBps:   5.0,
		BidDepthUSD: 300_000,
		AskDepthUSD: 280_000,
	}
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(testBook())
	book, err := p.OrderBook(context.Background(), "BTC-USDT-PERP")
	require.NoError(t, err)
	assert.Equal(t, 99.975, book.BestBid)

	empty := NewStaticProvider(nil)
	_, err = empty.OrderBook(context.Background(), "BTC-USDT-PERP")
	assert.ErrorIs(t, err, ErrBookUnavailable)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingProvider{}
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 3
	cfg.MinRequests = 100 // keep the error-rate trip out of the way
	p := NewBreakerProvider(inner, cfg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := p.OrderBook(ctx, "BTC-USDT-PERP")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBookUnavailable, "inner error passes through while closed")
	}

	// Fourth call: the circuit is open, the inner provider is not touched.
	_, err := p.OrderBook(ctx, "BTC-USDT-PERP")
	assert.ErrorIs(t, err, ErrBookUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerPassesThroughWhileClosed(t *testing.T) {
	p := NewBreakerProvider(NewStaticProvider(testBook()), DefaultBreakerConfig())

	book, err := p.OrderBook(context.Background(), "BTC-USDT-PERP")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT-PERP", book.Symbol)
}

func TestRateLimitedProviderDelivers(t *testing.T) {
	p := NewRateLimitedProvider(NewStaticProvider(testBook()), 100, 1)

	book, err := p.OrderBook(context.Background(), "BTC-USDT-PERP")
	require.NoError(t, err)
	assert.NotNil(t, book)
}

func TestRateLimitedProviderHonorsContext(t *testing.T) {
	// One token per hour with the burst already spent: the second call must
	// give up on the context instead of blocking.
	p := NewRateLimitedProvider(NewStaticProvider(testBook()), 1.0/3600, 1)

	ctx := context.Background()
	_, err := p.OrderBook(ctx, "BTC-USDT-PERP")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = p.OrderBook(short, "BTC-USDT-PERP")
	assert.Error(t, err)
}
