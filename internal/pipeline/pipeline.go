// Package pipeline orchestrates the per-request authorization decision:
// whitelist bypass, token verification, revocation check, then the path
// authorization engine. Every request resolves to exactly one verdict;
// no failure escapes to the hosting HTTP layer.
package pipeline

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/authgate-io/authgate/internal/audit"
	"github.com/authgate-io/authgate/internal/authz"
	"github.com/authgate-io/authgate/internal/config"
	"github.com/authgate-io/authgate/internal/result"
	"github.com/authgate-io/authgate/internal/revocation"
	"github.com/authgate-io/authgate/internal/token"
)

// Kind enumerates the possible outcomes of a decision.
type Kind int

const (
	Allow Kind = iota
	DenyUnauthenticated
	DenyUnauthorized
	DenyRevoked
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "deny_unauthenticated"
	case DenyUnauthorized:
		return "deny_unauthorized"
	case DenyRevoked:
		return "deny_revoked"
	}
	return "unknown"
}

// Verdict is the pipeline's terminal outcome for one request. For denials,
// Status and Code describe the wire-level envelope; for Allow, Claims
// carries the verified identity (nil for anonymous or whitelisted
// requests).
type Verdict struct {
	Kind   Kind
	Claims *token.ClaimSet
	Status int
	Code   result.Code
}

type Pipeline struct {
	verify      token.Verifier
	revocations revocation.Checker
	engine      *authz.Engine
	whitelist   []string
	tokenHeader string
}

func New(
	cfg config.AuthConfig,
	whitelist *config.Whitelist,
	verify token.Verifier,
	revocations revocation.Checker,
	engine *authz.Engine,
) *Pipeline {
	var patterns []string
	if whitelist != nil {
		patterns = whitelist.Patterns
	}

	return &Pipeline{
		verify:      verify,
		revocations: revocations,
		engine:      engine,
		whitelist:   patterns,
		tokenHeader: cfg.TokenHeader,
	}
}

// Decide runs the stages in order for one request. The stages are strictly
// sequential; the only external I/O is the revocation existence check and
// the permission mapping fetch, both bounded by the request context.
func (p *Pipeline) Decide(r *http.Request) Verdict {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)
	entry := audit.Log(ctx)

	// whitelisted paths bypass authentication entirely: no token work, no
	// cache round trips
	for _, pattern := range p.whitelist {
		if authz.MatchPattern(pattern, r.URL.Path) {
			entry.Verdict = Allow.String()
			return Verdict{Kind: Allow, Status: http.StatusOK, Code: result.Success}
		}
	}

	// preflight requests are resolved before any cache access so a stale
	// or revoked credential can never break CORS negotiation
	if r.Method == http.MethodOptions {
		entry.Verdict = Allow.String()
		return Verdict{Kind: Allow, Status: http.StatusOK, Code: result.Success}
	}

	claims, verdict := p.authenticate(r, entry)
	if verdict != nil {
		return *verdict
	}

	if claims != nil {
		if claims.TokenID == "" {
			// the logout workflow keys revocation markers on jti, so a
			// token without one can never be revoked
			logger.Warn().Str("subject", claims.Subject).
				Msg("verified token carries no jti, revocation check skipped")
		} else {
			revoked, err := p.revocations.IsRevoked(ctx, claims.TokenID)
			if err != nil {
				// fail closed: honouring a token that cannot be checked
				// against the blacklist would defeat the blacklist
				logger.Warn().Err(err).Str("jti", claims.TokenID).
					Msg("revocation check failed, denying")
				return p.deny(entry, DenyRevoked, http.StatusUnauthorized, result.SystemError, err)
			}
			if revoked {
				return p.deny(entry, DenyRevoked, http.StatusUnauthorized, result.TokenInvalidOrExpired, nil)
			}
		}
	}

	var authorities []string
	if claims != nil {
		// non-nil marks a verified identity even when it holds no roles
		authorities = claims.Authorities
		if authorities == nil {
			authorities = []string{}
		}
	}

	decision, err := p.engine.Decide(ctx, r.Method, r.URL.Path, authorities)
	if err != nil {
		logger.Warn().Err(err).Msg("permission mapping fetch failed, denying")
		return p.deny(entry, DenyUnauthorized, http.StatusForbidden, result.SystemError, err)
	}

	switch decision {
	case authz.Unauthenticated:
		return p.deny(entry, DenyUnauthenticated, http.StatusUnauthorized, result.TokenInvalidOrExpired, nil)
	case authz.Unauthorized:
		return p.deny(entry, DenyUnauthorized, http.StatusForbidden, result.AccessUnauthorized, nil)
	}

	entry.Verdict = Allow.String()
	return Verdict{
		Kind:   Allow,
		Claims: claims,
		Status: http.StatusOK,
		Code:   result.Success,
	}
}

// authenticate verifies the bearer token if one is present. Anonymous
// requests continue with nil claims: authentication presence and
// authorization requirement are independent axes, and the engine decides
// whether the resource demands an identity.
func (p *Pipeline) authenticate(r *http.Request, entry *audit.Entry) (*token.ClaimSet, *Verdict) {
	claims, err := p.verify(r.Header.Get(p.tokenHeader))
	if err != nil {
		if errors.Is(err, token.ErrNoToken) {
			return nil, nil
		}

		// malformed and invalid tokens share a verdict but stay
		// distinguishable in the logs
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("token rejected")
		v := p.deny(entry, DenyUnauthenticated, http.StatusUnauthorized, result.TokenInvalidOrExpired, err)
		return nil, &v
	}

	entry.AuthSubject = claims.Subject
	entry.TokenID = claims.TokenID
	entry.Authorities = claims.Authorities
	entry.AuthExpirySecs = claims.Expiry.Unix()

	return claims, nil
}

func (p *Pipeline) deny(entry *audit.Entry, kind Kind, status int, code result.Code, cause error) Verdict {
	entry.Verdict = kind.String()
	if cause != nil {
		entry.Error = cause.Error()
	}

	return Verdict{Kind: kind, Status: status, Code: code}
}
