// Package keys loads the RSA key material used to verify bearer tokens.
// The material is loaded once at startup and never changes for the life of
// the process.
package keys

import (
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authgate-io/authgate/internal/config"
)

type Material struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// Load reads the configured PEM files. The public key is required: without
// it no token can be verified. The private key is optional, as the gateway
// only verifies; it is used by tooling that mints tokens locally.
func Load(cfg config.AuthConfig) (Material, error) {
	if cfg.PublicKeyPath == "" {
		return Material{}, fmt.Errorf("public key path not configured")
	}

	pub, err := loadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return Material{}, err
	}

	m := Material{Public: pub}

	if cfg.PrivateKeyPath != "" {
		priv, err := loadPrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return Material{}, err
		}
		m.Private = priv
	}

	return m, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read public key: %w", err)
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("could not parse public key %s: %w", path, err)
	}

	return key, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read private key: %w", err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key %s: %w", path, err)
	}

	return key, nil
}
