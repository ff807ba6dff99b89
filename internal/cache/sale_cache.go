package cache

import (
	"context"
	"fmt"
	"time"
)

// SaleCache keeps encoded sale details keyed by sale id. A committed sale
// is immutable because item prices are snapshotted, so entries are never
// invalidated, only expired.
type SaleCache struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewSaleCache creates a new SaleCache.
func NewSaleCache(redis *RedisClient, ttl time.Duration) *SaleCache {
	return &SaleCache{redis: redis, ttl: ttl}
}

func (c *SaleCache) key(saleID int) string {
	return fmt.Sprintf("sale:detail:%d", saleID)
}

// GetSale returns the cached payload, or nil on a miss.
func (c *SaleCache) GetSale(ctx context.Context, saleID int) ([]byte, error) {
	return c.redis.Get(ctx, c.key(saleID))
}

// SetSale stores the payload for the configured TTL.
func (c *SaleCache) SetSale(ctx context.Context, saleID int, payload []byte) error {
	if err := c.redis.Set(ctx, c.key(saleID), payload, c.ttl); err != nil {
		return fmt.Errorf("failed to cache sale %d: %w", saleID, err)
	}
	return nil
}
