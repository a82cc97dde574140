// Package historystore persists a rolling history of task runs to Redis.
// It is entirely optional: the supervisor runs with no history at all when
// no Redis address is configured, and its absence never affects dispatch
// or task-runtime behavior.
package historystore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// runTTL bounds how long a run record and its task's recent-runs list stay
// in Redis —
// long enough to diagnose yesterday's failure, not so long that a busy
// watcher fills the instance with history nobody reads.
const runTTL = 24 * time.Hour

// Client wraps a go-redis client with the run-history key layout and
// connection diagnostics.
type Client struct {
	rdb *redis.Client
	log *zap.Logger
}

// NewClient connects to Redis at addr/db. The connection is established
// lazily by go-redis; NewClient issues one diagnostic Ping so connection
// failures are visible in the log immediately rather than on the first run
// record write.
func NewClient(addr string, db int, log *zap.Logger) *Client {
	opts := &redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	}

	c := &Client{
		rdb: redis.NewClient(opts),
		log: log.Named("historystore"),
	}

	c.ping(context.Background())
	return c
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) ping(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	log := c.log.With(zap.String("addr", c.rdb.Options().Addr), zap.Int("db", c.rdb.Options().DB))

	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("redis connection failed", zap.Error(err), zap.Duration("ping_rtt", elapsed))
	} else {
		log.Info("redis connection established", zap.Duration("ping_rtt", elapsed))
	}
}
