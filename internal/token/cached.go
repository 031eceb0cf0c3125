package token

import (
	"time"

	"github.com/maypok86/otter"
	"github.com/rs/zerolog/log"
)

// Cached supplies a verifier wrapper that caches successful verifications,
// keyed by the raw header value. Verification is deterministic given the
// key material, so a cached hit is as trustworthy as a fresh one. Expiry is
// wall-clock dependent though, so a hit is re-checked against the token's
// own expiry before being returned. Failures are never cached; a rejected
// token is cheap to reject again.
func Cached(ttl time.Duration) (func(Verifier) Verifier, error) {
	cache, err := otter.
		MustBuilder[string, ClaimSet](10_000).
		CollectStats().
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return func(verify Verifier) Verifier {
		return func(header string) (*ClaimSet, error) {
			if cached, ok := cache.Get(header); ok {
				if cached.Expiry.After(time.Now()) {
					return &cached, nil
				}

				// the token itself has expired while cached: drop the entry
				// and re-verify, which reports the expiry to the caller
				log.Debug().Str("subject", cached.Subject).
					Msg("cached token verification expired")
				cache.Delete(header)
			}

			claims, err := verify(header)
			if err != nil {
				return nil, err
			}

			cache.Set(header, *claims)

			return claims, nil
		}
	}, nil
}
