package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GTDGit/bakery_api/internal/config"
)

// newTestRedis connects to TEST_REDIS_HOST (port TEST_REDIS_PORT, default
// 6379) or skips.
func newTestRedis(t *testing.T) *RedisClient {
	t.Helper()
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("TEST_REDIS_HOST not set")
	}
	port := os.Getenv("TEST_REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	client, err := NewRedisClient(&config.RedisConfig{Host: host, Port: port, DB: 15})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSaleCacheKey(t *testing.T) {
	c := NewSaleCache(nil, time.Minute)
	assert.Equal(t, "sale:detail:42", c.key(42))
}

func TestNewRedisClientUnreachable(t *testing.T) {
	_, err := NewRedisClient(&config.RedisConfig{Host: "127.0.0.1", Port: "1"})
	assert.Error(t, err)
}

func TestSaleCacheRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	c := NewSaleCache(client, time.Minute)

	miss, err := c.GetSale(ctx, 987654)
	require.NoError(t, err)
	assert.Nil(t, miss)

	payload := []byte(`{"sale":{"id":987655}}`)
	require.NoError(t, c.SetSale(ctx, 987655, payload))
	got, err := c.GetSale(ctx, 987655)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	assert.NoError(t, client.Ping(ctx))
}
