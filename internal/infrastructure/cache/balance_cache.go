package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// BalanceCache keeps a short-lived copy of each owner's credit balance for display
// reads. It is written after the ledger transaction commits and is never consulted for
// a consumption decision. A nil *BalanceCache behaves as an always-empty cache.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(ownerID int64) string {
	return fmt.Sprintf("credit:balance:owner:%d", ownerID)
}

// Set stores the balance for ownerID.
func (c *BalanceCache) Set(ctx context.Context, ownerID, available int64) error {
	if c == nil {
		return nil
	}
	return c.client.Set(ctx, balanceKey(ownerID), available, c.ttl).Err()
}

// Get returns the cached balance and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, ownerID int64) (int64, bool, error) {
	if c == nil {
		return 0, false, nil
	}
	raw, err := c.client.Get(ctx, balanceKey(ownerID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	available, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cached balance %q: %w", raw, err)
	}
	return available, true, nil
}

// Invalidate drops the cached balance for ownerID.
func (c *BalanceCache) Invalidate(ctx context.Context, ownerID int64) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, balanceKey(ownerID)).Err()
}
