package handlers

import (
	"net/http"

	"github.com/filehaven/filehaven/internal/api/middleware"
	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/audit"
	"github.com/filehaven/filehaven/pkg/identity"
	"github.com/filehaven/filehaven/pkg/s3conn"
	"github.com/filehaven/filehaven/pkg/session"
)

// AuthHandler handles login, logout and session introspection.
type AuthHandler struct {
	users     *identity.Registry
	authority *session.Authority
	conns     *s3conn.Registry
	audit     *audit.Log
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(users *identity.Registry, authority *session.Authority, conns *s3conn.Registry, auditLog *audit.Log) *AuthHandler {
	return &AuthHandler{users: users, authority: authority, conns: conns, audit: auditLog}
}

// LoginRequest is the body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserResponse is the sanitized user representation.
type UserResponse struct {
	Username string        `json:"username"`
	Role     identity.Role `json:"role"`
}

// Login handles POST /api/auth/login.
//
// Unknown user and wrong password collapse into one message on the wire; the
// audit log records which it was.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		badRequest(w, "Username and password are required.")
		return
	}

	user := h.users.Lookup(req.Username)
	if user == nil {
		h.audit.Record(audit.Event{
			IP: r.RemoteAddr, Action: "login_failed",
			Detail: map[string]string{"username": req.Username, "reason": "user_not_found"},
		})
		unauthorized(w, "Invalid credentials.")
		return
	}
	if !user.VerifyPassword(req.Password) {
		h.audit.Record(audit.Event{
			IP: r.RemoteAddr, User: user.Username, Action: "login_failed",
			Detail: map[string]string{"reason": "bad_password"},
		})
		unauthorized(w, "Invalid credentials.")
		return
	}

	token, _, err := h.authority.Issue(user)
	if err != nil {
		internalError(w, r, err, "Login failed.")
		return
	}
	middleware.SetSessionCookie(w, token, int(h.authority.TTL().Seconds()))

	h.audit.Record(audit.Event{IP: r.RemoteAddr, User: user.Username, Action: "login"})
	logger.Info("user logged in", logger.KeyUsername, user.Username)

	writeJSON(w, http.StatusOK, map[string]any{
		"user": UserResponse{Username: user.Username, Role: user.Role},
	})
}

// Logout handles POST /api/auth/logout. Tokens are stateless; logout clears
// the cookie and drops the session's S3 connections.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sess := middleware.SessionFromContext(r.Context()); sess != nil {
		h.conns.DetachAll(sess.Nonce)
		h.audit.Record(audit.Event{IP: r.RemoteAddr, User: sess.User.Username, Action: "logout"})
	}
	middleware.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		unauthorized(w, "Unauthorized.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": UserResponse{Username: user.Username, Role: user.Role},
	})
}
