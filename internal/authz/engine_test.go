package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate-io/authgate/internal/config"
)

type fakeSource struct {
	mappings map[string][]string
	err      error
	calls    int
}

func (f *fakeSource) Mappings(ctx context.Context) (map[string][]string, error) {
	f.calls++
	return f.mappings, f.err
}

func defaultAuthConfig() config.AuthConfig {
	return config.AuthConfig{BootstrapRule: "POST_/iam/oauth/token"}
}

func TestDecide(t *testing.T) {
	mappings := map[string][]string{
		"GET_/orders/*":    {"ROLE_USER", "ROLE_ADMIN"},
		"DELETE_/admin/**": {"ROLE_ADMIN"},
		"GET_/shared/**":   {"ROLE_USER"},
		"GET_/shared/x/*":  {"ROLE_AUDITOR"},
	}

	testCases := []struct {
		name        string
		method      string
		path        string
		authorities []string
		want        Decision
	}{
		{
			name:        "matching role allows",
			method:      "GET",
			path:        "/orders/42",
			authorities: []string{"ROLE_USER"},
			want:        Allowed,
		},
		{
			name:        "method is canonicalised to upper case",
			method:      "get",
			path:        "/orders/42",
			authorities: []string{"ROLE_USER"},
			want:        Allowed,
		},
		{
			name:        "insufficient role denies",
			method:      "DELETE",
			path:        "/admin/users/7",
			authorities: []string{"ROLE_USER"},
			want:        Unauthorized,
		},
		{
			name:        "unmapped path is default deny",
			method:      "GET",
			path:        "/reports/summary",
			authorities: []string{"ROLE_USER"},
			want:        Unauthorized,
		},
		{
			name:        "no identity on protected path",
			method:      "GET",
			path:        "/orders/42",
			authorities: nil,
			want:        Unauthenticated,
		},
		{
			name:        "identity with no roles is unauthorized, not unauthenticated",
			method:      "GET",
			path:        "/orders/42",
			authorities: []string{},
			want:        Unauthorized,
		},
		{
			name:        "options preflight always allowed",
			method:      "OPTIONS",
			path:        "/anything/at/all",
			authorities: nil,
			want:        Allowed,
		},
		{
			name:        "bootstrap rule allows anonymous login",
			method:      "POST",
			path:        "/iam/oauth/token",
			authorities: nil,
			want:        Allowed,
		},
		{
			name:        "bootstrap rule is method specific",
			method:      "GET",
			path:        "/iam/oauth/token",
			authorities: nil,
			want:        Unauthenticated,
		},
		{
			name:   "union of overlapping patterns, any role suffices",
			method: "GET",
			path:   "/shared/x/1",
			// matches both GET_/shared/** (ROLE_USER) and GET_/shared/x/*
			// (ROLE_AUDITOR); either role is enough
			authorities: []string{"ROLE_AUDITOR"},
			want:        Allowed,
		},
		{
			// "/orders/42/" is a different resource than "/orders/42":
			// no pattern matches it, so default deny applies
			name:        "trailing slash is not normalised",
			method:      "GET",
			path:        "/orders/42/",
			authorities: []string{"ROLE_USER"},
			want:        Unauthorized,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			source := &fakeSource{mappings: mappings}
			engine := NewEngine(source, defaultAuthConfig())

			decision, err := engine.Decide(context.Background(), tc.method, tc.path, tc.authorities)
			require.NoError(t, err)
			assert.Equal(t, tc.want, decision)
		})
	}
}

func TestDecide_NoCacheCallForPreflightOrBootstrap(t *testing.T) {
	source := &fakeSource{}
	engine := NewEngine(source, defaultAuthConfig())

	_, err := engine.Decide(context.Background(), "OPTIONS", "/orders/42", nil)
	require.NoError(t, err)

	_, err = engine.Decide(context.Background(), "POST", "/iam/oauth/token", nil)
	require.NoError(t, err)

	assert.Zero(t, source.calls)
}

func TestDecide_MappingFetchedFreshEveryDecision(t *testing.T) {
	source := &fakeSource{mappings: map[string][]string{}}
	engine := NewEngine(source, defaultAuthConfig())

	for i := 0; i < 3; i++ {
		_, err := engine.Decide(context.Background(), "GET", "/orders/42", []string{"ROLE_USER"})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, source.calls)
}

func TestDecide_PermissionChangeTakesImmediateEffect(t *testing.T) {
	source := &fakeSource{mappings: map[string][]string{}}
	engine := NewEngine(source, defaultAuthConfig())

	decision, err := engine.Decide(context.Background(), "GET", "/orders/42", []string{"ROLE_USER"})
	require.NoError(t, err)
	assert.Equal(t, Unauthorized, decision)

	// the administration plane registers the permission: the very next
	// decision must observe it
	source.mappings = map[string][]string{"GET_/orders/*": {"ROLE_USER"}}

	decision, err = engine.Decide(context.Background(), "GET", "/orders/42", []string{"ROLE_USER"})
	require.NoError(t, err)
	assert.Equal(t, Allowed, decision)
}

func TestDecide_SourceErrorSurfaces(t *testing.T) {
	sentinel := errors.New("cache down")
	source := &fakeSource{err: sentinel}
	engine := NewEngine(source, defaultAuthConfig())

	decision, err := engine.Decide(context.Background(), "GET", "/orders/42", []string{"ROLE_USER"})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, Unauthorized, decision)
}

func TestDecide_Idempotent(t *testing.T) {
	source := &fakeSource{mappings: map[string][]string{
		"GET_/orders/*": {"ROLE_USER"},
	}}
	engine := NewEngine(source, defaultAuthConfig())

	first, err := engine.Decide(context.Background(), "GET", "/orders/42", []string{"ROLE_USER"})
	require.NoError(t, err)

	second, err := engine.Decide(context.Background(), "GET", "/orders/42", []string{"ROLE_USER"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
