package httputil

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/pkg/ctxlog"
)

type contextKey string

// Request context keys set by AuthMiddleware.
const (
	UserIDKey contextKey = "user_id"
	RoleKey   contextKey = "role"
)

// TokenValidator resolves an access token to the caller's identity.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (userID string, role domain.Role, err error)
}

type credentials struct {
	token      string
	fromCookie bool
}

// readCredentials prefers the Authorization header over the session cookie.
// A non-empty problem explains why no token could be read.
func readCredentials(r *http.Request) (credentials, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
			return credentials{token: c.Value, fromCookie: true}, ""
		}
		return credentials{}, "missing authorization header"
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return credentials{}, "invalid authorization header format"
	}
	return credentials{token: token}, ""
}

// csrfSatisfied applies the double-submit check: a state-changing request
// riding on the session cookie must echo the csrf cookie in a header.
func csrfSatisfied(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	c, err := r.Cookie(CSRFTokenCookie)
	if err != nil || c.Value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(r.Header.Get(CSRFTokenHeader))) == 1
}

// AuthMiddleware authenticates the caller and stores its id and role in the
// request context.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, problem := readCredentials(r)
			if problem != "" {
				Error(w, http.StatusUnauthorized, problem)
				return
			}

			userID, role, err := validator.ValidateToken(r.Context(), creds.token)
			if err != nil {
				Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if creds.fromCookie && !csrfSatisfied(r) {
				Error(w, http.StatusForbidden, "csrf token mismatch")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, RoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctxlog.With(ctx, "user_id", userID)))
		})
	}
}

// RequireRole lets through callers whose role is at least minRole.
func RequireRole(minRole domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r.Context())
			switch {
			case role == "":
				Error(w, http.StatusUnauthorized, "unauthorized")
			case !role.HasPermission(minRole):
				Error(w, http.StatusForbidden, "insufficient permissions")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// GetUserID returns the authenticated user id, or "".
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// GetRole returns the authenticated role, or "".
func GetRole(ctx context.Context) domain.Role {
	role, _ := ctx.Value(RoleKey).(domain.Role)
	return role
}
