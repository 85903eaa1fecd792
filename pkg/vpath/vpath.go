// Package vpath resolves virtual POSIX paths against a user's scoped root.
//
// Virtual paths are what API callers see: absolute, slash-separated, rooted at
// the user's sandbox. Resolution maps them to host paths and enforces that the
// result stays inside the root even in the presence of symlinks.
package vpath

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// TrashDir is the reserved directory name at the root of every sandbox.
// It is never addressable through the public path surface.
const TrashDir = ".trash"

var (
	// ErrInvalidPath indicates a path that fails normalization or names a
	// reserved location.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotFound indicates the resolved host entry does not exist.
	ErrNotFound = errors.New("path not found")

	// ErrEscape indicates the resolved real path lies outside the root.
	ErrEscape = errors.New("path escapes root")
)

// Resolved is the outcome of resolving a virtual path.
type Resolved struct {
	// Normalized is the cleaned virtual path, always beginning with "/".
	Normalized string

	// HostPath is the absolute host-native path.
	HostPath string
}

// Normalize cleans a caller-supplied path into canonical virtual form.
//
// Backslashes are rewritten to slashes, a leading "/" is ensured, and "..",
// "." and duplicate separators are collapsed. The result always begins with
// "/" and contains no ".." segments. An empty input fails with ErrInvalidPath.
func Normalize(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrInvalidPath
	}
	if strings.ContainsRune(trimmed, 0) {
		return "", ErrInvalidPath
	}

	p := strings.ReplaceAll(trimmed, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		return "/", nil
	}
	return p, nil
}

// IsTrashPath reports whether the normalized virtual path is the trash
// directory or nested under it.
func IsTrashPath(normalized string) bool {
	return normalized == "/"+TrashDir || strings.HasPrefix(normalized, "/"+TrashDir+"/")
}

// ResolveSafe resolves a virtual path that must already exist on the host.
//
// The path is normalized, checked against the reserved trash namespace,
// joined to rootReal and realpath-resolved. The realpath must equal rootReal
// or be nested under rootReal plus the host separator; a bare prefix match is
// not enough ("/data/foobar" must not pass against root "/data/foo").
//
// Returns ErrNotFound if the host entry does not exist and ErrEscape if the
// realpath lies outside the root.
func ResolveSafe(virtual, rootReal string) (*Resolved, error) {
	normalized, err := Normalize(virtual)
	if err != nil {
		return nil, err
	}
	if IsTrashPath(normalized) {
		return nil, ErrInvalidPath
	}

	host := filepath.Join(rootReal, filepath.FromSlash(normalized))
	real, err := filepath.EvalSymlinks(host)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !withinRoot(real, rootReal) {
		return nil, ErrEscape
	}
	return &Resolved{Normalized: normalized, HostPath: real}, nil
}

// ResolveDestination resolves a virtual path that may not yet exist.
//
// The parent must resolve through ResolveSafe; the leaf is sanitized and
// joined without touching the host. The root itself and anything in the trash
// namespace are not legal destinations.
func ResolveDestination(virtual, rootReal string) (*Resolved, error) {
	normalized, err := Normalize(virtual)
	if err != nil {
		return nil, err
	}
	if normalized == "/" || IsTrashPath(normalized) {
		return nil, ErrInvalidPath
	}

	leaf := path.Base(normalized)
	if err := CheckLeaf(leaf); err != nil {
		return nil, err
	}

	parent, err := ResolveSafe(path.Dir(normalized), rootReal)
	if err != nil {
		return nil, err
	}
	return &Resolved{
		Normalized: normalized,
		HostPath:   filepath.Join(parent.HostPath, leaf),
	}, nil
}

// CheckLeaf validates a single path component: non-empty, no separators,
// not "." or "..", no NUL.
func CheckLeaf(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidPath
	}
	if strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return ErrInvalidPath
	}
	return nil
}

// withinRoot reports whether real equals root or is separator-nested under it.
func withinRoot(real, root string) bool {
	if real == root {
		return true
	}
	return strings.HasPrefix(real, root+string(filepath.Separator))
}
