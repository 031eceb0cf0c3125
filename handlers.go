package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"
)

// handleForward proxies an allowed request to the configured upstream. By
// the time a request reaches this handler the decision pipeline has already
// attached the verified claim payload header (or stripped any spoofed
// copy), so the upstream can trust the identity it receives.
func handleForward(upstream *url.URL) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(upstream)

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		zerolog.Ctx(r.Context()).Warn().Err(err).
			Str("upstream", upstream.Host).
			Msg("upstream request failed")
		w.WriteHeader(http.StatusBadGateway)
	}

	return proxy
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// maxRequestSize limits the request body size to prevent accidental or
// deliberate abuse of the forwarding path.
func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
