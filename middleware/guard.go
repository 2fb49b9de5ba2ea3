package middleware

import (
	"context"
	"net/http"
	"strings"

	authcore "github.com/vaultharden/authcore"
)

type identityContextKey struct{}

// IdentityFromContext returns the validated identity a [Guard] stored on
// the request context.
func IdentityFromContext(ctx context.Context) (authcore.AccessIdentity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(authcore.AccessIdentity)
	return id, ok
}

// Guard authenticates requests with an access token from the Authorization
// header or, failing that, the access cookie. Validation is stateless; no
// store round-trip happens on this path. The validated identity is injected
// into the request context for downstream handlers.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				token, ok = engine.AccessTokenFrom(authcore.NewHTTPTransport(w, r))
			}
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			identity, err := engine.ValidateAccess(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
