package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// mint creates a signed token from a local private key, for exercising a
// locally running gateway.
func main() {
	keyPath := flag.String("key", ".development/keys/private.pem", "path to the RSA private key PEM")
	subject := flag.String("sub", "dev-user", "token subject")
	tokenID := flag.String("jti", "", "token ID (default: random UUID)")
	roles := flag.String("authorities", "ROLE_admin", "comma-separated authorities")
	ttl := flag.Duration("ttl", time.Hour, "token validity period")
	flag.Parse()

	if *tokenID == "" {
		*tokenID = uuid.NewString()
	}

	keyBytes, err := os.ReadFile(*keyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading private key: %v\n", err)
		os.Exit(1)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing private key: %v\n", err)
		os.Exit(1)
	}

	token, err := createJWT(privateKey,
		validity(josejwt.Claims{
			Subject: *subject,
			ID:      *tokenID,
		}, *ttl),
		map[string]any{
			"authorities": strings.Split(*roles, ","),
		},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating JWT: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s", token)
}

func createJWT(key any, claims ...any) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}

	builder := josejwt.Signed(signer)

	for _, claim := range claims {
		builder = builder.Claims(claim)
	}

	return builder.Serialize()
}

func validity(claims josejwt.Claims, ttl time.Duration) josejwt.Claims {
	now := time.Now().UTC()

	claims.IssuedAt = josejwt.NewNumericDate(now)
	claims.NotBefore = josejwt.NewNumericDate(now.Add(-1 * time.Minute))
	claims.Expiry = josejwt.NewNumericDate(now.Add(ttl))

	return claims
}
