// Package result defines the stable error-code taxonomy shared with API
// clients, and renders deny verdicts as the wire-level error envelope.
// Codes are stable across releases: clients branch on them.
package result

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Code is a stable machine-readable outcome code with its default
// human-readable message.
type Code struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	Success = Code{"00000", "ok"}

	// TokenInvalidOrExpired covers every 401 condition: missing identity on
	// a protected resource, malformed or badly-signed tokens, expiry, and
	// revocation. The remediation is the same for all of them: the caller
	// must re-authenticate.
	TokenInvalidOrExpired = Code{"A0230", "token is invalid or expired"}

	// AccessUnauthorized is the 403 condition: a verified identity whose
	// roles do not grant access to the requested resource.
	AccessUnauthorized = Code{"A0301", "access not authorized"}

	// SystemError marks a fail-closed denial caused by infrastructure
	// (e.g. the shared cache being unreachable) rather than the caller.
	SystemError = Code{"B0001", "system execution error"}
)

// WriteDenied renders the envelope for a denied request and terminates the
// response. A failed write is logged but not propagated: there is nothing
// further to do for the client at that point.
func WriteDenied(w http.ResponseWriter, status int, code Code) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body, err := json.Marshal(code)
	if err != nil {
		// Code is a fixed struct of strings; this cannot happen in practice.
		log.Error().Err(err).Msg("failed to marshal deny envelope")
		return
	}

	if _, err := w.Write(body); err != nil {
		log.Info().Err(err).Msg("failed to write deny envelope")
	}
}
