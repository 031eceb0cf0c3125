// Package token verifies bearer tokens and extracts their claims. The
// signature is checked exactly once, here: every later stage of the
// decision pipeline works from a ClaimSet and never re-parses the raw
// token. Verification is pure given the key material; the package performs
// no network or cache access.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authgate-io/authgate/internal/config"
	"github.com/authgate-io/authgate/internal/keys"
)

var (
	// ErrNoToken indicates the header was absent or blank. This is not a
	// failure: anonymous requests are still subject to authorization.
	ErrNoToken = errors.New("no token presented")

	// ErrMalformedToken indicates the token is structurally invalid (wrong
	// segment count, undecodable payload).
	ErrMalformedToken = errors.New("malformed token")

	// ErrInvalidToken indicates a structurally valid token that failed
	// signature verification or validity checks (expiry, not-before).
	ErrInvalidToken = errors.New("invalid or expired token")
)

// ClaimSet is the verified identity extracted from a bearer token. It is
// only ever constructed from a token whose signature has been verified.
type ClaimSet struct {
	Subject     string
	TokenID     string
	Authorities []string
	Expiry      time.Time

	// Payload is the verified claim payload as JSON: the token's payload
	// segment exactly as issued, suitable for forwarding to downstream
	// services as the identity header.
	Payload []byte
}

// Verifier validates a raw token header value and yields a ClaimSet.
type Verifier func(header string) (*ClaimSet, error)

// New builds a Verifier for the given key material. Only RS256 signatures
// are accepted.
func New(material keys.Material, cfg config.AuthConfig) Verifier {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithLeeway(time.Duration(cfg.ClockSkewSecs)*time.Second),
	)

	keyFunc := func(t *jwt.Token) (any, error) {
		return material.Public, nil
	}

	prefix := cfg.TokenPrefix
	authoritiesClaim := cfg.AuthoritiesClaim
	authorityPrefix := cfg.AuthorityPrefix

	return func(header string) (*ClaimSet, error) {
		raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		if raw == "" {
			return nil, ErrNoToken
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(raw, claims, keyFunc)
		if err != nil {
			return nil, classifyParseError(err)
		}

		return newClaimSet(raw, claims, authoritiesClaim, authorityPrefix)
	}
}

func newClaimSet(raw string, claims jwt.MapClaims, authoritiesClaim, authorityPrefix string) (*ClaimSet, error) {
	cs := &ClaimSet{}

	if sub, ok := claims["sub"].(string); ok {
		cs.Subject = sub
	}
	if jti, ok := claims["jti"].(string); ok {
		cs.TokenID = jti
	}
	if exp, ok := claims["exp"].(float64); ok {
		cs.Expiry = time.Unix(int64(exp), 0)
	}

	cs.Authorities = authorityClaims(claims[authoritiesClaim], authorityPrefix)

	// The payload segment is decoded directly so downstream services see
	// the claims exactly as issued. The signature over this segment has
	// already been verified above.
	payload, err := payloadSegment(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedToken, err)
	}
	cs.Payload = payload

	return cs, nil
}

// authorityClaims extracts the authorities claim, applying the configured
// authority prefix to any value that lacks it. Issuers in this ecosystem
// store bare role names in the claim; the permission mapping stores the
// prefixed form, so the prefix is applied here, once, at extraction.
func authorityClaims(claim any, prefix string) []string {
	values, ok := claim.([]any)
	if !ok {
		return nil
	}

	authorities := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if !strings.HasPrefix(s, prefix) {
			s = prefix + s
		}
		authorities = append(authorities, s)
	}

	return authorities
}

func payloadSegment(raw string) ([]byte, error) {
	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		return nil, errors.New("expected 3 token segments")
	}

	return base64.RawURLEncoding.DecodeString(segments[1])
}

func classifyParseError(err error) error {
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return fmt.Errorf("%w: %s", ErrMalformedToken, err)
	}

	return fmt.Errorf("%w: %s", ErrInvalidToken, err)
}
