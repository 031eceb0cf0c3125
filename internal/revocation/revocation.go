// Package revocation checks whether a token has been blacklisted. A
// revocation marker is a cache key whose mere existence voids the token; it
// is written by the logout workflow, never by the gateway. The gateway only
// ever reads.
package revocation

import (
	"context"
	"errors"
)

// ErrCacheUnavailable reports that the shared cache could not answer. It is
// deliberately distinct from "not revoked": the caller owns the fail-open
// versus fail-closed policy, not this package.
var ErrCacheUnavailable = errors.New("revocation cache unavailable")

// Checker answers whether the token identified by jti has been revoked.
// Implementations must be safe for concurrent use.
type Checker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
