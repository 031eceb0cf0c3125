package pipeline

import (
	"net/http"

	"github.com/authgate-io/authgate/internal/config"
	"github.com/authgate-io/authgate/internal/result"
)

// Middleware adapts the decision pipeline for the hosting HTTP layer: a
// denied request is terminated with the error envelope; an allowed request
// is forwarded with the verified claim payload attached, so downstream
// services can read the caller's identity without re-parsing the token.
func Middleware(p *Pipeline, cfg config.AuthConfig) func(http.Handler) http.Handler {
	payloadHeader := cfg.PayloadHeader

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// the identity header is only ever set by this gateway: an
			// inbound copy is a spoofing attempt and is dropped regardless
			// of the verdict
			r.Header.Del(payloadHeader)

			verdict := p.Decide(r)
			if verdict.Kind != Allow {
				result.WriteDenied(w, verdict.Status, verdict.Code)
				return
			}

			if verdict.Claims != nil {
				r.Header.Set(payloadHeader, string(verdict.Claims.Payload))
			}

			next.ServeHTTP(w, r)
		})
	}
}
