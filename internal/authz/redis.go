package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable reports that the permission mapping could not be
// fetched from the shared cache. The caller owns the fail-open versus
// fail-closed policy.
var ErrCacheUnavailable = errors.New("permission cache unavailable")

type redisSource struct {
	client  *redis.Client
	hashKey string
}

// NewRedisSource builds a PermissionSource over the shared Redis hash. Each
// call is one HGETALL round trip; the mapping is managed by the
// administration plane and treated as always current.
func NewRedisSource(client *redis.Client, hashKey string) PermissionSource {
	return &redisSource{client: client, hashKey: hashKey}
}

func (s *redisSource) Mappings(ctx context.Context) (map[string][]string, error) {
	entries, err := s.client.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCacheUnavailable, err)
	}

	mappings := make(map[string][]string, len(entries))
	for pattern, value := range entries {
		roles, err := parseRoles(value)
		if err != nil {
			// a single malformed entry must not take the whole mapping
			// down: skip it so the remaining patterns still apply
			continue
		}
		mappings[pattern] = roles
	}

	return mappings, nil
}

// parseRoles accepts the two encodings found in the hash: a JSON string
// array (written by the current administration plane) or a comma-separated
// list (legacy entries).
func parseRoles(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if strings.HasPrefix(value, "[") {
		var roles []string
		if err := json.Unmarshal([]byte(value), &roles); err != nil {
			return nil, err
		}
		return roles, nil
	}

	parts := strings.Split(value, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}

	return roles, nil
}
