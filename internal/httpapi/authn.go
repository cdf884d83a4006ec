package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gearguard.io/internal/auth"
	"gearguard.io/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Endpoints reachable without an access token. Everything else requires
// a bearer header.
var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/v1/auth/forgot-password",
	"/v1/auth/reset-password",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gearguard"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		uc, err := a.auth.Authenticate(token)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), uc)))
	})
}

// RequirePermission gates a downstream resource handler on a permission.
// Missing identity yields 401, insufficient grants 403.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uc, ok := auth.UserFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gearguard"`)
				writeError(w, r, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
				return
			}
			if !auth.HasPermission(uc.Permissions, perm) {
				obs.ObserveAuthzDenied()
				writeError(w, r, http.StatusForbidden, auth.ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// currentUser pulls the authenticated caller set by withAuth, writing a
// 401 when absent.
func (a *API) currentUser(w http.ResponseWriter, r *http.Request) (auth.UserContext, bool) {
	uc, ok := auth.UserFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gearguard"`)
		writeError(w, r, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
		return auth.UserContext{}, false
	}
	return uc, true
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
