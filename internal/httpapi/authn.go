package httpapi

import (
	"net/http"
	"strings"

	"plantops.org/internal/auth"
)

// publicPaths are reachable without a bearer token.
var publicPaths = map[string]bool{
	"/":              true,
	"/healthz":       true,
	"/readyz":        true,
	"/metrics":       true,
	"/v1/info":       true,
	"/auth/register": true,
	"/auth/token":    true,
}

// withAuth resolves the bearer token and stores the identity on the
// request context. Requests to public paths pass through untouched.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		identity, err := a.authSvc.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), identity)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// requireRole guards a handler body. Returns false after writing the
// error response when the caller lacks every listed role.
func requireRole(w http.ResponseWriter, r *http.Request, roles ...auth.Role) bool {
	if !auth.HasRole(r.Context(), roles...) {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}
