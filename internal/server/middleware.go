package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/hnrobert/facenroll/internal/auth"
)

type ctxKey string

const ctxClaims ctxKey = "claims"

func (a *App) withAuthContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cl := a.readAuth(r); cl != nil {
			r = r.WithContext(context.WithValue(r.Context(), ctxClaims, cl))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) readAuth(r *http.Request) *auth.Claims {
	// Prefer cookie.
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		if cl, err := a.sessions.Parse(c.Value); err == nil {
			return cl
		}
	}
	// Fallback: Authorization: Bearer <token>
	authz := r.Header.Get("Authorization")
	if authz != "" {
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if cl, err := a.sessions.Parse(strings.TrimSpace(parts[1])); err == nil {
				return cl
			}
		}
	}
	return nil
}

func claimsFrom(r *http.Request) *auth.Claims {
	cl, _ := r.Context().Value(ctxClaims).(*auth.Claims)
	return cl
}

func usernameFrom(r *http.Request) string {
	if cl := claimsFrom(r); cl != nil {
		return cl.Username
	}
	return ""
}

func isAdminFrom(r *http.Request) bool {
	cl := claimsFrom(r)
	return cl != nil && cl.Admin()
}

func (a *App) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if usernameFrom(r) == "" {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		h(w, r)
	}
}

func (a *App) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !isAdminFrom(r) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		h(w, r)
	})
}
