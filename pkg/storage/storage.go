// Package storage defines the uniform adapter contract shared by the local
// filesystem and S3 backends, plus the entry model both return.
package storage

import (
	"context"
	"errors"
)

// EntryType discriminates directory members.
type EntryType string

const (
	TypeDir  EntryType = "dir"
	TypeFile EntryType = "file"
)

// Entry is a directory member as seen through a virtual path listing.
type Entry struct {
	// Name is the leaf name: no separators, never empty, never "." or "..".
	Name string `json:"name"`

	// Type is "dir" or "file".
	Type EntryType `json:"type"`

	// Size is the byte size; always 0 for directories.
	Size int64 `json:"size"`

	// MTime is the modification time in epoch milliseconds.
	MTime int64 `json:"mtime"`
}

// ListOptions carries optional pagination for List.
type ListOptions struct {
	// Limit caps the number of returned entries. 0 means unlimited.
	Limit int

	// Offset skips that many entries after sorting.
	Offset int
}

// ListResult is the outcome of a List call.
type ListResult struct {
	// Entries is the page of entries, sorted dirs-first then name
	// (case-insensitive within each group).
	Entries []Entry `json:"entries"`

	// Total is the unpaginated entry count.
	Total int `json:"total"`
}

// Sentinel errors shared by both adapters. The HTTP layer maps them onto the
// response taxonomy; adapters never leak backend-specific error types.
var (
	ErrNotFound      = errors.New("entry not found")
	ErrConflict      = errors.New("destination already exists")
	ErrIntoItself    = errors.New("cannot move or copy a directory into itself")
	ErrParentMissing = errors.New("destination parent no longer exists")
	ErrNotDirectory  = errors.New("not a directory")
	ErrIsDirectory   = errors.New("is a directory")
)

// Adapter is the uniform CRUD surface over virtual paths.
//
// Every method takes a virtual path as seen by the caller under their scoped
// root. Implementations are safe for concurrent use.
type Adapter interface {
	// List returns the members of a directory, sorted and paginated.
	List(ctx context.Context, path string, opts ListOptions) (*ListResult, error)

	// Stat returns the entry at path, or nil if it does not exist.
	Stat(ctx context.Context, path string) (*Entry, error)

	// Read returns the full content of a file.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores content at path, creating parent directories as needed.
	Write(ctx context.Context, path string, data []byte) error

	// Delete removes the entry at path, recursively for directories.
	Delete(ctx context.Context, path string) error

	// Move relocates an entry. Refuses to move a directory into itself.
	Move(ctx context.Context, source, dest string) error

	// Copy duplicates an entry recursively. Refuses to copy a directory
	// into itself.
	Copy(ctx context.Context, source, dest string) error

	// Mkdir creates a directory at path.
	Mkdir(ctx context.Context, path string) error

	// Exists reports whether an entry exists at path.
	Exists(ctx context.Context, path string) (bool, error)
}
