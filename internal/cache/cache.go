// Package cache constructs the shared Redis client used by the revocation
// checker and the permission mapping source. The gateway only ever reads
// from the cache; all writes are performed by external workflows.
package cache

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authgate-io/authgate/internal/config"
)

// NewClient builds a client with bounded timeouts on every operation, so a
// cache outage surfaces as a prompt error rather than a hung request.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  time.Duration(cfg.DialTimeoutSecs) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSecs) * time.Second,
	})
}
