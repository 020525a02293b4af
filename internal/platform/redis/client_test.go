package redis

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePoolSnapshotsStats(t *testing.T) {
	// No server involved: a fresh client reports an empty pool, which is
	// enough to verify the gauges track PoolStats instead of accumulating.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	ObservePool(client)
	ObservePool(client)

	stats := client.PoolStats()
	require.NotNil(t, stats)
	assert.Equal(t, float64(stats.Hits), testutil.ToFloat64(redisPoolHits))
	assert.Equal(t, float64(stats.Misses), testutil.ToFloat64(redisPoolMisses))
	assert.Equal(t, float64(stats.TotalConns), testutil.ToFloat64(redisPoolConns))
}
