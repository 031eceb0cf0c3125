package revocation

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisChecker struct {
	client *redis.Client
	prefix string
}

// NewRedisChecker builds a Checker over the shared Redis client. Each check
// is a single EXISTS round trip; the client's timeouts bound the call, so a
// cache outage surfaces promptly as ErrCacheUnavailable rather than a hung
// request.
func NewRedisChecker(client *redis.Client, keyPrefix string) Checker {
	return &redisChecker{client: client, prefix: keyPrefix}
}

func (c *redisChecker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrCacheUnavailable, err)
	}

	return n > 0, nil
}
