package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/star/aplab/internal/httputil"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// exemptPaths are always public regardless of method.
var exemptPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// computePaths take a POST body but change no state.
var computePaths = map[string]bool{
	"/api/v1/calculate": true,
	"/api/v1/simulate":  true,
	"/api/v1/sky-flux":  true,
	"/api/v1/sweep":     true,
	"/api/v1/synth":     true,
	"/api/v1/fov":       true,
	"/api/v1/analyze":   true,
}

// isExempt reports whether r can pass without a token. Reads are public;
// anything that edits the data dir or starts a solver process is not.
func isExempt(r *http.Request) bool {
	if exemptPaths[r.URL.Path] || computePaths[r.URL.Path] {
		return true
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Middleware returns an HTTP middleware that enforces Bearer token auth
// on mutating requests when auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || isExempt(r) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")

			if header == "" || token == header || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="aplab"`)
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
