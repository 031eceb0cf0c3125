// Package authz decides whether a request's verified authorities grant
// access to its method and path. The permission-to-role mapping lives in
// the shared cache and is fetched fresh for every decision: administrators
// must see permission changes take effect on the very next request, so the
// engine never caches the mapping locally.
package authz

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/authgate-io/authgate/internal/config"
)

// Decision is the engine's verdict for a single request.
type Decision int

const (
	// Allowed grants access.
	Allowed Decision = iota
	// Unauthenticated denies access because the resource requires a
	// verified identity and none was presented.
	Unauthenticated
	// Unauthorized denies access because the caller's roles do not
	// intersect the resource's required roles.
	Unauthorized
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Unauthenticated:
		return "unauthenticated"
	case Unauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// PermissionSource supplies the full pattern-to-roles mapping. The returned
// map is keyed by "METHOD_pattern" ant globs; values are the role names
// required for resources matching that pattern.
type PermissionSource interface {
	Mappings(ctx context.Context) (map[string][]string, error)
}

type Engine struct {
	source        PermissionSource
	bootstrapRule string
}

func NewEngine(source PermissionSource, cfg config.AuthConfig) *Engine {
	return &Engine{
		source:        source,
		bootstrapRule: cfg.BootstrapRule,
	}
}

// Decide applies the authorization algorithm, short-circuiting on the first
// applicable rule. A nil authorities slice means no verified identity was
// presented; an empty non-nil slice is a verified identity that holds no
// roles, which is denied as unauthorized rather than unauthenticated.
//
// An error is returned only when the permission mapping could not be
// fetched; the caller owns the fail-open/fail-closed policy for that case.
func (e *Engine) Decide(ctx context.Context, method, path string, authorities []string) (Decision, error) {
	key := strings.ToUpper(method) + "_" + path

	// preflight requests carry no credentials and must never be blocked
	if strings.EqualFold(method, "OPTIONS") {
		return Allowed, nil
	}

	// the credential-issuing endpoint must be reachable before any token
	// exists
	if e.bootstrapRule != "" && MatchPattern(e.bootstrapRule, key) {
		zerolog.Ctx(ctx).Debug().Str("key", key).Msg("bootstrap rule allows request")
		return Allowed, nil
	}

	if authorities == nil {
		return Unauthenticated, nil
	}

	mappings, err := e.source.Mappings(ctx)
	if err != nil {
		return Unauthorized, err
	}

	// union the required roles of every matching pattern: any one of them
	// grants access, with no precedence between patterns
	required := make(map[string]struct{})
	for pattern, roles := range mappings {
		if !MatchPattern(pattern, key) {
			continue
		}
		for _, role := range roles {
			required[role] = struct{}{}
		}
	}

	for _, authority := range authorities {
		if _, ok := required[authority]; ok {
			return Allowed, nil
		}
	}

	// default deny: no matching pattern, or no intersecting role. Absence
	// of an explicit permission entry is never an implicit allow.
	zerolog.Ctx(ctx).Debug().
		Str("key", key).
		Strs("authorities", authorities).
		Int("requiredRoles", len(required)).
		Msg("access denied")

	return Unauthorized, nil
}
