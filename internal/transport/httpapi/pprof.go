package httpapi

import (
	"crypto/subtle"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
)

// PprofConfig mounts net/http/pprof on the API router.
type PprofConfig struct {
	Enabled bool
	Prefix  string // default: "/debug/pprof"
	Token   string // optional bearer token
}

func mountPprof(r chi.Router, cfg PprofConfig) {
	base := normalizePrefix(cfg.Prefix)
	r.Route(base, func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))
		r.Get("/", pprofIndexAt(base))
		r.Get("/cmdline", hpprof.Cmdline)
		r.Get("/profile", hpprof.Profile)
		r.Get("/symbol", hpprof.Symbol)
		r.Post("/symbol", hpprof.Symbol)
		r.Get("/trace", hpprof.Trace)
		r.Get("/{profile}", pprofIndexAt(base))
	})
}

// bearerAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
// An empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				const p = "Bearer "
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) {
					got = strings.TrimSpace(strings.TrimPrefix(ah, p))
				}
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// normalizePrefix returns the prefix with a leading and no trailing slash.
func normalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		p = "debug/pprof"
	}
	return "/" + p
}

// pprof.Index looks up named profiles relative to /debug/pprof/, so requests
// under a custom prefix are rewritten first.
func pprofIndexAt(base string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		suffix := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, base), "/")
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + suffix
		hpprof.Index(w, r2)
	}
}
