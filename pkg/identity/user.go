// Package identity holds the user registry and credential verification.
//
// Users are loaded once at startup, either from a users file (or inline JSON)
// or from a single-admin fallback, and are immutable until restart.
package identity

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Role is the capability level of a user.
type Role string

const (
	RoleReadOnly  Role = "read-only"
	RoleReadWrite Role = "read-write"
	RoleAdmin     Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleReadOnly, RoleReadWrite, RoleAdmin:
		return true
	}
	return false
}

// CanWrite reports whether the role may perform mutating operations.
func (r Role) CanWrite() bool {
	return r == RoleReadWrite || r == RoleAdmin
}

// IsAdmin reports whether the role may perform admin operations.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// User is an entry in the registry.
type User struct {
	// Username identifies the user; unique within the registry.
	Username string

	// Role governs which operations the user may perform.
	Role Role

	// RootPath is the declared virtual root (POSIX, starts with "/"),
	// interpreted relative to the configured file root.
	RootPath string

	// RootReal is the realpath of the user's sandbox on the host, computed
	// at load time. Every path resolution is scoped to it.
	RootReal string

	// Secret is either a plaintext password or an
	// "scrypt$<base64-salt>$<base64-hash>" tuple.
	Secret string
}

// scrypt parameters matching the stored hash format.
const (
	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// VerifyPassword checks a presented password against the user's secret in
// constant time. Scrypt tuples are re-derived with the stored salt and the
// stored hash length; plaintext secrets are compared with a constant-time
// comparison.
func (u *User) VerifyPassword(presented string) bool {
	if strings.HasPrefix(u.Secret, "scrypt$") {
		return verifyScrypt(u.Secret, presented)
	}
	return subtle.ConstantTimeCompare([]byte(u.Secret), []byte(presented)) == 1
}

func verifyScrypt(stored, presented string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 3 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(want) == 0 {
		return false
	}
	got, err := scrypt.Key([]byte(presented), salt, scryptN, scryptR, scryptP, len(want))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}

// HashPassword derives an scrypt tuple for storage in a users file. Used by
// operators to provision hashed secrets; the server itself never writes users.
func HashPassword(password string, salt []byte) (string, error) {
	if len(salt) == 0 {
		return "", fmt.Errorf("salt is required")
	}
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, 64)
	if err != nil {
		return "", fmt.Errorf("scrypt derivation failed: %w", err)
	}
	return "scrypt$" + base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(key), nil
}
