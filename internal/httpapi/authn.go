package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authgate.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/v1/auth/forgot-password",
	"/v1/auth/reset-password",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}

		claims, err := a.svc.VerifyAccessToken(raw)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}

		principal := auth.NewPrincipal(claims.Subject, claims.Email, claims.Roles, claims.Permissions)
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// ensurePermission authorizes against the store, not the token claims, so
// a role revoked after issuance is enforced within the access-token TTL on
// admin surfaces.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return false
	}
	allowed, err := a.rbac.HasPermission(r.Context(), principal.UserID, perm)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "authorization check failed")
		return false
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
