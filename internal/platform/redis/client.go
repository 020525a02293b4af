package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	redisPoolHits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "covenant_redis_pool_hits",
		Help: "Cumulative number of times a connection was found in the pool",
	})
	redisPoolMisses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "covenant_redis_pool_misses",
		Help: "Cumulative number of times a connection had to be created",
	})
	redisPoolConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "covenant_redis_pool_conns",
		Help: "Current number of connections in the pool",
	})
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewClient connects to Redis and verifies connectivity before returning.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// ObservePool snapshots pool statistics into Prometheus gauges. go-redis
// reports hits and misses cumulatively, so each call overwrites the previous
// sample.
func ObservePool(client *redis.Client) {
	stats := client.PoolStats()
	redisPoolHits.Set(float64(stats.Hits))
	redisPoolMisses.Set(float64(stats.Misses))
	redisPoolConns.Set(float64(stats.TotalConns))
}
