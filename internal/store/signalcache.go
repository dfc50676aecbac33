package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/marketflow/perpcore/internal/signal"
)

const signalKeyPrefix = "perpcore:signal:"

// SignalCache stores the most recent signal snapshot per symbol in Redis,
// keyed by symbol and expiring on the snapshot's own TTL. A cache miss is
// (nil, false, nil), not an error.
type SignalCache struct {
	client *redis.Client
}

// NewSignalCache creates a Redis-backed signal cache.
func NewSignalCache(client *redis.Client) *SignalCache {
	return &SignalCache{client: client}
}

// Set stores a snapshot under its symbol with the snapshot TTL as expiry.
// Snapshots without a positive TTL are not cached.
func (c *SignalCache) Set(ctx context.Context, symbol string, snap signal.Snapshot) error {
	if snap.TTL <= 0 {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, signalKey(symbol), payload, snap.TTL).Err(); err != nil {
		return fmt.Errorf("cache snapshot for %s: %w", symbol, err)
	}
	return nil
}

// Get returns the cached snapshot for a symbol. found is false when the key
// is absent or expired.
func (c *SignalCache) Get(ctx context.Context, symbol string) (*signal.Snapshot, bool, error) {
	payload, err := c.client.Get(ctx, signalKey(symbol)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch snapshot for %s: %w", symbol, err)
	}
	var snap signal.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, false, fmt.Errorf("unmarshal snapshot for %s: %w", symbol, err)
	}
	return &snap, true, nil
}

// Invalidate drops the cached snapshot for a symbol. Deleting an absent key
// is not an error.
func (c *SignalCache) Invalidate(ctx context.Context, symbol string) error {
	if err := c.client.Del(ctx, signalKey(symbol)).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot for %s: %w", symbol, err)
	}
	return nil
}

// Fresh reports whether a cached snapshot is still within its TTL at the
// given time. Expiry in Redis is authoritative; this covers snapshots passed
// around in memory.
func Fresh(snap *signal.Snapshot, now time.Time) bool {
	if snap == nil || snap.TTL <= 0 {
		return false
	}
	return now.Before(snap.CreatedAt.Add(snap.TTL))
}

func signalKey(symbol string) string {
	return signalKeyPrefix + symbol
}
