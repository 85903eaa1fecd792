package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/filehaven/filehaven/internal/logger"
)

// Registry is the immutable set of users loaded at startup.
type Registry struct {
	users map[string]*User
}

// userSpec is the JSON shape of a users file entry.
type userSpec struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Root     string `json:"root"`
	Password string `json:"password"`
}

// LoadOptions controls registry construction.
type LoadOptions struct {
	// FileRoot is the host directory all user sandboxes must live under.
	FileRoot string

	// UsersFile is the path of a JSON users file. Optional.
	UsersFile string

	// UsersJSON is an inline JSON users document. Takes precedence over
	// UsersFile when both are set. Optional.
	UsersJSON string

	// AdminPassword enables the single-admin fallback when no users file is
	// configured: one "admin" user rooted at "/".
	AdminPassword string
}

// Load builds the registry from a users file, inline JSON, or the
// single-admin fallback. Each user's sandbox directory is created if missing
// and realpath-resolved; a sandbox that escapes FileRoot is a hard error.
func Load(opts LoadOptions) (*Registry, error) {
	if opts.FileRoot == "" {
		return nil, fmt.Errorf("file root is required")
	}

	rootReal, err := realizeRoot(opts.FileRoot)
	if err != nil {
		return nil, fmt.Errorf("file root: %w", err)
	}

	var specs []userSpec
	switch {
	case opts.UsersJSON != "":
		if err := json.Unmarshal([]byte(opts.UsersJSON), &specs); err != nil {
			return nil, fmt.Errorf("parse inline users JSON: %w", err)
		}
	case opts.UsersFile != "":
		data, err := os.ReadFile(opts.UsersFile)
		if err != nil {
			return nil, fmt.Errorf("read users file: %w", err)
		}
		if err := json.Unmarshal(data, &specs); err != nil {
			return nil, fmt.Errorf("parse users file %q: %w", opts.UsersFile, err)
		}
	case opts.AdminPassword != "":
		specs = []userSpec{{
			Username: "admin",
			Role:     string(RoleAdmin),
			Root:     "/",
			Password: opts.AdminPassword,
		}}
	default:
		return nil, fmt.Errorf("no users configured: set a users file, inline users JSON, or an admin password")
	}

	reg := &Registry{users: make(map[string]*User, len(specs))}
	for i, spec := range specs {
		user, err := buildUser(spec, rootReal)
		if err != nil {
			return nil, fmt.Errorf("user %d (%q): %w", i, spec.Username, err)
		}
		if _, dup := reg.users[user.Username]; dup {
			return nil, fmt.Errorf("duplicate username %q", user.Username)
		}
		reg.users[user.Username] = user
	}

	logger.Info("user registry loaded", "users", len(reg.users))
	return reg, nil
}

func buildUser(spec userSpec, fileRootReal string) (*User, error) {
	if spec.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if spec.Password == "" {
		return nil, fmt.Errorf("password is required")
	}

	role := Role(spec.Role)
	if spec.Role == "" {
		role = RoleReadWrite
	}
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", spec.Role)
	}

	rootPath := spec.Root
	if rootPath == "" {
		rootPath = "/"
	}
	if !strings.HasPrefix(rootPath, "/") {
		return nil, fmt.Errorf("root %q must start with /", spec.Root)
	}

	host := filepath.Join(fileRootReal, filepath.FromSlash(rootPath))
	rootReal, err := realizeRoot(host)
	if err != nil {
		return nil, fmt.Errorf("sandbox %q: %w", rootPath, err)
	}
	if rootReal != fileRootReal && !strings.HasPrefix(rootReal, fileRootReal+string(filepath.Separator)) {
		return nil, fmt.Errorf("sandbox %q resolves outside the file root", rootPath)
	}

	return &User{
		Username: spec.Username,
		Role:     role,
		RootPath: rootPath,
		RootReal: rootReal,
		Secret:   spec.Password,
	}, nil
}

// realizeRoot creates the directory if missing and returns its realpath.
func realizeRoot(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	return real, nil
}

// Lookup returns the user with the given username, or nil.
func (r *Registry) Lookup(username string) *User {
	return r.users[username]
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	return len(r.users)
}

// All returns every registered user in no particular order.
func (r *Registry) All() []*User {
	users := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	return users
}
