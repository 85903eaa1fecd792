// Package session implements stateless signed session tokens.
//
// A token is base64url(payload) "." base64url(HMAC-SHA256(secret, payload))
// where payload is a canonical JSON document {user, nonce, exp}. Verification
// recomputes the signature and compares it in constant time; no server-side
// session table exists.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/filehaven/filehaven/pkg/identity"
)

// Sentinel errors for token operations.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidSecretLength = errors.New("session secret must be at least 32 bytes")
)

// Config holds session authority configuration.
type Config struct {
	// Secret is the HMAC signing key. Must be at least 32 bytes.
	Secret string

	// TTL is the token lifetime. Default: 8 hours.
	TTL time.Duration

	// RotateWindow is the remaining-lifetime threshold below which a fresh
	// token is attached to responses. Default: 30 minutes.
	RotateWindow time.Duration
}

// Authority issues and verifies session tokens against the user registry.
type Authority struct {
	config Config
	users  *identity.Registry
	now    func() time.Time
}

// Session is a verified token binding a request to a user.
type Session struct {
	User      *identity.User
	Nonce     string
	ExpiresAt time.Time
}

// payload is the JSON wire form of a token.
type payload struct {
	User  string `json:"user"`
	Nonce string `json:"nonce"`
	Exp   int64  `json:"exp"`
}

// New creates a session authority.
func New(config Config, users *identity.Registry) (*Authority, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if config.TTL == 0 {
		config.TTL = 8 * time.Hour
	}
	if config.RotateWindow == 0 {
		config.RotateWindow = 30 * time.Minute
	}
	return &Authority{config: config, users: users, now: time.Now}, nil
}

// Issue creates a fresh token for the user with a new session nonce.
func (a *Authority) Issue(user *identity.User) (string, *Session, error) {
	return a.issue(user, uuid.NewString())
}

// Reissue creates a fresh token for an existing session, keeping its nonce.
// State keyed on the nonce (such as attached S3 connections) survives token
// rotation this way.
func (a *Authority) Reissue(s *Session) (string, *Session, error) {
	return a.issue(s.User, s.Nonce)
}

func (a *Authority) issue(user *identity.User, nonce string) (string, *Session, error) {
	exp := a.now().Add(a.config.TTL)

	body, err := json.Marshal(payload{User: user.Username, Nonce: nonce, Exp: exp.Unix()})
	if err != nil {
		return "", nil, err
	}

	token := base64.RawURLEncoding.EncodeToString(body) + "." +
		base64.RawURLEncoding.EncodeToString(a.sign(body))
	return token, &Session{User: user, Nonce: nonce, ExpiresAt: exp}, nil
}

// Verify validates a token and resolves its user. Every structural anomaly
// fails uniformly as ErrUnauthorized; callers never learn why a token was
// rejected.
func (a *Authority) Verify(token string) (*Session, error) {
	dot := strings.IndexByte(token, '.')
	if dot < 0 || strings.IndexByte(token[dot+1:], '.') >= 0 {
		return nil, ErrUnauthorized
	}

	body, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		return nil, ErrUnauthorized
	}
	sig, err := base64.RawURLEncoding.DecodeString(token[dot+1:])
	if err != nil {
		return nil, ErrUnauthorized
	}
	if !hmac.Equal(sig, a.sign(body)) {
		return nil, ErrUnauthorized
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrUnauthorized
	}
	if p.User == "" || p.Nonce == "" || p.Exp <= 0 {
		return nil, ErrUnauthorized
	}
	exp := time.Unix(p.Exp, 0)
	if !a.now().Before(exp) {
		return nil, ErrUnauthorized
	}

	user := a.users.Lookup(p.User)
	if user == nil {
		return nil, ErrUnauthorized
	}
	return &Session{User: user, Nonce: p.Nonce, ExpiresAt: exp}, nil
}

// ShouldRotate reports whether the session's remaining lifetime has dropped
// into the rotation window. The old token stays valid until natural expiry.
func (a *Authority) ShouldRotate(s *Session) bool {
	return s.ExpiresAt.Sub(a.now()) <= a.config.RotateWindow
}

// TTL returns the configured token lifetime.
func (a *Authority) TTL() time.Duration {
	return a.config.TTL
}

func (a *Authority) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(a.config.Secret))
	mac.Write(body)
	return mac.Sum(nil)
}
