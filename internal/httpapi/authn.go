package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"classvote.org/internal/apperr"
	"classvote.org/internal/auth"
	"classvote.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	challenge  = `Bearer realm="classvote"`
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/verify",
	"/v1/auth/resend-verification",
	"/v1/auth/password-reset",
	"/v1/auth/password-reset/complete",
}

var publicPrefixes = []string{
	"/v1/public/",
}

var errMissingToken = apperr.New(apperr.KindUnauthenticated, "missing_token", "missing bearer token")

// withAuth resolves the bearer token into a principal. The account is
// reloaded on every request so deactivation and role changes apply at once.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", challenge)
			a.fail(w, r, err)
			return
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		u, err := a.users.Lookup(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				err = auth.ErrInvalidToken
			}
			a.fail(w, r, err)
			return
		}
		if !u.Active {
			a.fail(w, r, identity.ErrAccountDeactivated)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), u.Principal())
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers that hold none of roles.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := auth.PrincipalFromContext(r.Context())
			if err := auth.Authorize(p, auth.RequireRole(roles...)); err != nil {
				kind := apperr.KindOf(err)
				w.Header().Set("WWW-Authenticate", challenge)
				writeErrorCode(w, r, kind.HTTPStatus(), apperr.CodeOf(err), err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", apperr.New(apperr.KindUnauthenticated, "invalid_scheme", "invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
