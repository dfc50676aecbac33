package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/signal"
)

func testSnap() signal.Snapshot {
	return signal.Snapshot{
		ID:        "a2f1c9e0-0000-4000-8000-000000000001",
		Side:      domain.SideLong,
		EntryOK:   true,
		RefPrice:  100.2,
		StopPrice: 98.9,
		HasStop:   true,
		Score:     82.5,
		TTL:       120 * time.Second,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSignalCacheSet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSignalCache(client)

	snap := testSnap()
	payload, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet("perpcore:signal:BTC-USDT-PERP", payload, snap.TTL).SetVal("OK")

	require.NoError(t, cache.Set(context.Background(), "BTC-USDT-PERP", snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalCacheSetSkipsZeroTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSignalCache(client)

	snap := testSnap()
	snap.TTL = 0

	require.NoError(t, cache.Set(context.Background(), "BTC-USDT-PERP", snap))
	require.NoError(t, mock.ExpectationsWereMet(), "no redis call expected")
}

func TestSignalCacheGetHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSignalCache(client)

	snap := testSnap()
	payload, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectGet("perpcore:signal:BTC-USDT-PERP").SetVal(string(payload))

	got, found, err := cache.Get(context.Background(), "BTC-USDT-PERP")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, snap.Side, got.Side)
	assert.Equal(t, snap.Score, got.Score)
}

func TestSignalCacheGetMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSignalCache(client)

	mock.ExpectGet("perpcore:signal:BTC-USDT-PERP").RedisNil()

	got, found, err := cache.Get(context.Background(), "BTC-USDT-PERP")
	require.NoError(t, err, "a miss is not an error")
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestSignalCacheInvalidate(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSignalCache(client)

	mock.ExpectDel("perpcore:signal:BTC-USDT-PERP").SetVal(1)
	require.NoError(t, cache.Invalidate(context.Background(), "BTC-USDT-PERP"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFresh(t *testing.T) {
	snap := testSnap()
	created := snap.CreatedAt

	assert.True(t, Fresh(&snap, created.Add(60*time.Second)))
	assert.False(t, Fresh(&snap, created.Add(121*time.Second)))
	assert.False(t, Fresh(nil, created))

	noTTL := testSnap()
	noTTL.TTL = 0
	assert.False(t, Fresh(&noTTL, created))
}
