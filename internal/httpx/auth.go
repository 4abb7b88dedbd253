package httpx

import (
	"net/http"
	"strings"

	"github.com/ariefcatur/go-preorders/internal/auth"
)

// TokenParser turns a bearer token into an actor. *auth.Authenticator
// satisfies it.
type TokenParser interface {
	Parse(raw string) (auth.Actor, error)
}

// RequireActor validates the bearer token and stores the actor in the request
// context. Missing or invalid tokens get 401.
func RequireActor(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			actor, err := tokens.Parse(strings.TrimSpace(raw))
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
		})
	}
}

// RequirePermission answers 403 unless the actor holds perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := auth.FromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			if !actor.Can(perm) {
				writeError(w, r, http.StatusForbidden, "FORBIDDEN", "missing permission "+perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
