// Package middleware provides the HTTP middleware for session
// authentication, role gating, and request metrics.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/identity"
	"github.com/filehaven/filehaven/pkg/session"
)

// CookieName is the session cookie attached on login and rotation.
const CookieName = "filehaven_session"

type contextKey int

const sessionContextKey contextKey = iota

// SessionFromContext returns the verified session for the request, or nil.
func SessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionContextKey).(*session.Session)
	return s
}

// UserFromContext returns the authenticated user for the request, or nil.
func UserFromContext(ctx context.Context) *identity.User {
	if s := SessionFromContext(ctx); s != nil {
		return s.User
	}
	return nil
}

// SetSessionCookie attaches the session cookie to the response.
func SetSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter) {
	SetSessionCookie(w, "", -1)
}

// SessionAuth verifies the session cookie and binds the session to the
// request context. When the remaining lifetime has entered the rotation
// window, a fresh cookie is attached to the response; the old token stays
// valid until its natural expiry.
func SessionAuth(authority *session.Authority) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(CookieName)
			if err != nil || cookie.Value == "" {
				denyUnauthorized(w)
				return
			}

			sess, err := authority.Verify(cookie.Value)
			if err != nil {
				denyUnauthorized(w)
				return
			}

			if authority.ShouldRotate(sess) {
				// Reissue keeps the nonce so per-session state survives.
				if token, _, err := authority.Reissue(sess); err == nil {
					SetSessionCookie(w, token, int(authority.TTL().Seconds()))
				} else {
					logger.WarnCtx(r.Context(), "session rotation failed",
						logger.KeyUsername, sess.User.Username, logger.KeyError, err)
				}
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			ctx = logger.WithContext(ctx, &logger.LogContext{
				RequestID: chimiddleware.GetReqID(ctx),
				ClientIP:  r.RemoteAddr,
				Username:  sess.User.Username,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireWrite rejects read-only sessions.
func RequireWrite() func(http.Handler) http.Handler {
	return requireRole(func(role identity.Role) bool { return role.CanWrite() })
}

// RequireAdmin rejects everything but admin sessions.
func RequireAdmin() func(http.Handler) http.Handler {
	return requireRole(identity.Role.IsAdmin)
}

func requireRole(allowed func(identity.Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				denyUnauthorized(w)
				return
			}
			if !allowed(user.Role) {
				writeJSONError(w, http.StatusForbidden, "Forbidden.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func denyUnauthorized(w http.ResponseWriter) {
	writeJSONError(w, http.StatusUnauthorized, "Unauthorized.")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
