package pipeline_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate-io/authgate/internal/authz"
	"github.com/authgate-io/authgate/internal/config"
	"github.com/authgate-io/authgate/internal/pipeline"
	"github.com/authgate-io/authgate/internal/result"
	"github.com/authgate-io/authgate/internal/revocation"
	"github.com/authgate-io/authgate/internal/testhelpers"
	"github.com/authgate-io/authgate/internal/token"
)

type fakeChecker struct {
	revoked map[string]bool
	err     error
	calls   int
}

func (f *fakeChecker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[jti], nil
}

type fakeSource struct {
	mappings map[string][]string
	err      error
	calls    int
}

func (f *fakeSource) Mappings(ctx context.Context) (map[string][]string, error) {
	f.calls++
	return f.mappings, f.err
}

// fixture wires a pipeline with in-memory fakes for both cache contracts
// and a stubbed verifier keyed by bearer value.
type fixture struct {
	pipeline *pipeline.Pipeline
	checker  *fakeChecker
	source   *fakeSource
}

func newFixture(t *testing.T, tokens map[string]*token.ClaimSet, mappings map[string][]string, revoked ...string) *fixture {
	t.Helper()
	testhelpers.SetupLogger(t)

	checker := &fakeChecker{revoked: map[string]bool{}}
	for _, jti := range revoked {
		checker.revoked[jti] = true
	}

	source := &fakeSource{mappings: mappings}

	cfg := config.AuthConfig{
		TokenHeader:   "Authorization",
		BootstrapRule: "POST_/iam/oauth/token",
	}

	verify := token.Verifier(func(header string) (*token.ClaimSet, error) {
		if header == "" {
			return nil, token.ErrNoToken
		}
		claims, ok := tokens[header]
		if !ok {
			return nil, token.ErrInvalidToken
		}
		return claims, nil
	})

	whitelist := &config.Whitelist{Patterns: []string{"/public/**"}}
	engine := authz.NewEngine(source, cfg)

	return &fixture{
		pipeline: pipeline.New(cfg, whitelist, verify, checker, engine),
		checker:  checker,
		source:   source,
	}
}

func claimSet(subject, jti string, authorities ...string) *token.ClaimSet {
	payload, _ := json.Marshal(map[string]any{
		"sub":         subject,
		"jti":         jti,
		"authorities": authorities,
	})

	return &token.ClaimSet{
		Subject:     subject,
		TokenID:     jti,
		Authorities: authorities,
		Expiry:      time.Now().Add(time.Hour),
		Payload:     payload,
	}
}

func request(method, path string, headers ...string) *http.Request {
	r := httptest.NewRequest(method, "http://gateway.local"+path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	return r
}

func TestDecide_WhitelistBypassesEverything(t *testing.T) {
	f := newFixture(t, nil, nil)

	// even a garbage token must not matter on a whitelisted path
	v := f.pipeline.Decide(request("GET", "/public/health", "Authorization", "Bearer garbage"))

	assert.Equal(t, pipeline.Allow, v.Kind)
	assert.Nil(t, v.Claims)
	assert.Zero(t, f.checker.calls, "no revocation check expected")
	assert.Zero(t, f.source.calls, "no permission fetch expected")
}

func TestDecide_BootstrapRuleAllowsAnonymousLogin(t *testing.T) {
	f := newFixture(t, nil, nil)

	v := f.pipeline.Decide(request("POST", "/iam/oauth/token"))

	assert.Equal(t, pipeline.Allow, v.Kind)
	assert.Zero(t, f.checker.calls)
}

func TestDecide_OptionsAlwaysAllowed(t *testing.T) {
	tokens := map[string]*token.ClaimSet{
		"Bearer revoked": claimSet("user-1", "jti-revoked", "ROLE_USER"),
	}
	f := newFixture(t, tokens, nil, "jti-revoked")

	// preflight must succeed on any path, with any credential state,
	// including a revoked token
	for _, path := range []string{"/orders/42", "/admin/users/7", "/unmapped"} {
		v := f.pipeline.Decide(request("OPTIONS", path, "Authorization", "Bearer revoked"))
		assert.Equal(t, pipeline.Allow, v.Kind, "path %s", path)
	}

	assert.Zero(t, f.checker.calls, "preflight must not reach the cache")
}

func TestDecide_ValidTokenWithMatchingRole(t *testing.T) {
	tokens := map[string]*token.ClaimSet{
		"Bearer good": claimSet("user-1", "jti-1", "ROLE_USER"),
	}
	mappings := map[string][]string{"GET_/orders/*": {"ROLE_USER"}}
	f := newFixture(t, tokens, mappings)

	v := f.pipeline.Decide(request("GET", "/orders/42", "Authorization", "Bearer good"))

	assert.Equal(t, pipeline.Allow, v.Kind)
	require.NotNil(t, v.Claims)
	assert.Equal(t, "user-1", v.Claims.Subject)
	assert.Equal(t, 1, f.checker.calls)
	assert.Equal(t, 1, f.source.calls)
}

func TestDecide_RevokedToken(t *testing.T) {
	tokens := map[string]*token.ClaimSet{
		"Bearer revoked": claimSet("user-1", "jti-revoked", "ROLE_USER"),
	}
	mappings := map[string][]string{"GET_/orders/*": {"ROLE_USER"}}
	f := newFixture(t, tokens, mappings, "jti-revoked")

	v := f.pipeline.Decide(request("GET", "/orders/42", "Authorization", "Bearer revoked"))

	assert.Equal(t, pipeline.DenyRevoked, v.Kind)
	assert.Equal(t, http.StatusUnauthorized, v.Status)
	assert.Equal(t, result.TokenInvalidOrExpired, v.Code)
	assert.Zero(t, f.source.calls, "revoked request must not reach authorization")
}

func TestDecide_InsufficientRole(t *testing.T) {
	tokens := map[string]*token.ClaimSet{
		"Bearer user": claimSet("user-1", "jti-1", "ROLE_USER"),
	}
	mappings := map[string][]string{"DELETE_/admin/users/*": {"ROLE_ADMIN"}}
	f := newFixture(t, tokens, mappings)

	v := f.pipeline.Decide(request("DELETE", "/admin/users/7", "Authorization", "Bearer user"))

	assert.Equal(t, pipeline.DenyUnauthorized, v.Kind)
	assert.Equal(t, http.StatusForbidden, v.Status)
	assert.Equal(t, result.AccessUnauthorized, v.Code)
}

func TestDecide_UnmappedPathIsDefaultDeny(t *testing.T) {
	tokens := map[string]*token.ClaimSet{
		"Bearer user": claimSet("user-1", "jti-1", "ROLE_USER"),
	}
	f := newFixture(t, tokens, map[string][]string{})

	v := f.pipeline.Decide(request("GET", "/reports/summary", "Authorization", "Bearer user"))

	assert.Equal(t, pipeline.DenyUnauthorized, v.Kind)
	assert.Equal(t, http.StatusForbidden, v.Status)
}

func TestDecide_NoTokenOnProtectedPath(t *testing.T) {
	f := newFixture(t, nil, map[string][]string{})

	v := f.pipeline.Decide(request("GET", "/orders/42"))

	// default deny: absence of a permission entry never becomes an allow
	assert.Equal(t, pipeline.DenyUnauthenticated, v.Kind)
	assert.Equal(t, http.StatusUnauthorized, v.Status)
	assert.Zero(t, f.checker.calls, "anonymous request has nothing to revoke")
}

func TestDecide_InvalidToken(t *testing.T) {
	f := newFixture(t, nil, nil)

	v := f.pipeline.Decide(request("GET", "/orders/42", "Authorization", "Bearer forged"))

	assert.Equal(t, pipeline.DenyUnauthenticated, v.Kind)
	assert.Equal(t, http.StatusUnauthorized, v.Status)
	assert.Equal(t, result.TokenInvalidOrExpired, v.Code)
	assert.Zero(t, f.checker.calls)
}

func TestDecide_TokenWithoutTokenIDWarns(t *testing.T) {
	tokens := map[string]*token.ClaimSet{
		"Bearer no-jti": claimSet("user-1", "", "ROLE_USER"),
	}
	mappings := map[string][]string{"GET_/orders/*": {"ROLE_USER"}}
	f := newFixture(t, tokens, mappings)

	// a token without a jti can never be revoked: the skipped check must
	// be visible in the logs, not silent
	warned := false
	logger := zerolog.New(zerolog.NewTestWriter(t)).Hook(
		zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
			if level == zerolog.WarnLevel {
				warned = true
			}
		}),
	)

	req := request("GET", "/orders/42", "Authorization", "Bearer no-jti")
	req = req.WithContext(logger.WithContext(req.Context()))

	v := f.pipeline.Decide(req)

	assert.Equal(t, pipeline.Allow, v.Kind)
	assert.Zero(t, f.checker.calls, "nothing to look up without a jti")
	assert.True(t, warned, "skipped revocation check should be logged at warn")
}

func TestDecide_RevocationCacheUnavailableFailsClosed(t *testing.T) {
	tokens := map[string]*token.ClaimSet{
		"Bearer good": claimSet("user-1", "jti-1", "ROLE_USER"),
	}
	f := newFixture(t, tokens, map[string][]string{"GET_/orders/*": {"ROLE_USER"}})
	f.checker.err = revocation.ErrCacheUnavailable

	v := f.pipeline.Decide(request("GET", "/orders/42", "Authorization", "Bearer good"))

	assert.Equal(t, pipeline.DenyRevoked, v.Kind)
	assert.Equal(t, http.StatusUnauthorized, v.Status)
	assert.Equal(t, result.SystemError, v.Code)
}

func TestDecide_PermissionCacheUnavailableFailsClosed(t *testing.T) {
	tokens := map[string]*token.ClaimSet{
		"Bearer good": claimSet("user-1", "jti-1", "ROLE_USER"),
	}
	f := newFixture(t, tokens, nil)
	f.source.err = authz.ErrCacheUnavailable

	v := f.pipeline.Decide(request("GET", "/orders/42", "Authorization", "Bearer good"))

	assert.Equal(t, pipeline.DenyUnauthorized, v.Kind)
	assert.Equal(t, http.StatusForbidden, v.Status)
	assert.Equal(t, result.SystemError, v.Code)
}

func TestDecide_Idempotent(t *testing.T) {
	tokens := map[string]*token.ClaimSet{
		"Bearer good": claimSet("user-1", "jti-1", "ROLE_USER"),
	}
	mappings := map[string][]string{"GET_/orders/*": {"ROLE_USER"}}
	f := newFixture(t, tokens, mappings)

	first := f.pipeline.Decide(request("GET", "/orders/42", "Authorization", "Bearer good"))
	second := f.pipeline.Decide(request("GET", "/orders/42", "Authorization", "Bearer good"))

	assert.Equal(t, first.Kind, second.Kind)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Code, second.Code)
}

//
// middleware
//

func TestMiddleware_AllowForwardsWithPayloadHeader(t *testing.T) {
	testhelpers.SetupLogger(t)

	tokens := map[string]*token.ClaimSet{
		"Bearer good": claimSet("user-1", "jti-1", "ROLE_USER"),
	}
	mappings := map[string][]string{"GET_/orders/*": {"ROLE_USER"}}
	f := newFixture(t, tokens, mappings)

	cfg := config.AuthConfig{
		TokenHeader:   "Authorization",
		PayloadHeader: "X-Jwt-Payload",
	}

	var forwarded *http.Request
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r
		w.WriteHeader(http.StatusOK)
	})

	handler := pipeline.Middleware(f.pipeline, cfg)(next)

	rr := httptest.NewRecorder()
	// a spoofed identity header must be stripped, not forwarded
	req := request("GET", "/orders/42",
		"Authorization", "Bearer good",
		"X-Jwt-Payload", `{"sub":"attacker"}`,
	)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, forwarded)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(forwarded.Header.Get("X-Jwt-Payload")), &payload))
	assert.Equal(t, "user-1", payload["sub"], "the verified identity is forwarded, not the spoofed one")
}

func TestMiddleware_DenyWritesEnvelope(t *testing.T) {
	testhelpers.SetupLogger(t)

	f := newFixture(t, nil, map[string][]string{})

	cfg := config.AuthConfig{
		TokenHeader:   "Authorization",
		PayloadHeader: "X-Jwt-Payload",
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	handler := pipeline.Middleware(f.pipeline, cfg)(next)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, request("GET", "/orders/42"))

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	var envelope result.Code
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.Equal(t, result.TokenInvalidOrExpired.Code, envelope.Code)
}

func TestMiddleware_WhitelistedAnonymousHasNoPayloadHeader(t *testing.T) {
	testhelpers.SetupLogger(t)

	f := newFixture(t, nil, nil)

	cfg := config.AuthConfig{
		TokenHeader:   "Authorization",
		PayloadHeader: "X-Jwt-Payload",
	}

	var forwarded *http.Request
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r
	})

	handler := pipeline.Middleware(f.pipeline, cfg)(next)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, request("GET", "/public/health"))

	require.NotNil(t, forwarded)
	assert.Empty(t, forwarded.Header.Get("X-Jwt-Payload"))
}
