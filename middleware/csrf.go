package middleware

import (
	"net/http"

	authcore "github.com/vaultharden/authcore"
)

// mutating methods require the double-submit check; safe methods pass.
func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

// CSRF enforces the double-submit token check on every mutating request.
// Rejection is FORBIDDEN-class; the engine records an audit entry noting
// which side of the comparison was missing, never the values.
func CSRF(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if engine == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			transport := authcore.NewHTTPTransport(w, r)
			if err := engine.ValidateCSRF(r.Context(), transport); err != nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
