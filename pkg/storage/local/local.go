// Package local implements the storage adapter backed by a sandboxed area of
// the host filesystem.
//
// Every host operation is preceded by a safe resolve against the adapter's
// root realpath. Symbolic links are never traversed: listings skip them and
// copies ignore them. Logical delete moves the entry into the sandbox trash
// with a sidecar record instead of unlinking it.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/filehaven/filehaven/pkg/storage"
	"github.com/filehaven/filehaven/pkg/vpath"
)

// Adapter is a filesystem-backed storage adapter scoped to one sandbox root.
type Adapter struct {
	root string // realpath of the sandbox
}

// New creates an adapter over the given sandbox root. The root must already
// be realpath-resolved (the identity registry does this at load time).
func New(rootReal string) *Adapter {
	return &Adapter{root: rootReal}
}

// Root returns the sandbox root realpath.
func (a *Adapter) Root() string {
	return a.root
}

// Resolve maps a virtual path to its host path, enforcing sandbox
// containment. Exposed for the archive and search surfaces, which operate on
// host paths already proven inside the root.
func (a *Adapter) Resolve(virtual string) (*vpath.Resolved, error) {
	return vpath.ResolveSafe(virtual, a.root)
}

// List returns the directory members at path, skipping symlinks and the
// trash directory at the sandbox root.
func (a *Adapter) List(ctx context.Context, virtual string, opts storage.ListOptions) (*storage.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := a.Resolve(virtual)
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(res.HostPath)
	if err != nil {
		if isNotDir(err) {
			return nil, storage.ErrNotDirectory
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}

	entries := make([]storage.Entry, 0, len(dirents))
	for _, d := range dirents {
		if d.Type()&fs.ModeSymlink != 0 {
			continue
		}
		if res.Normalized == "/" && d.Name() == vpath.TrashDir {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Entry vanished between readdir and stat.
			continue
		}
		entries = append(entries, entryFromInfo(d.Name(), info))
	}

	storage.SortEntries(entries)
	total := len(entries)
	return &storage.ListResult{
		Entries: storage.Page(entries, opts),
		Total:   total,
	}, nil
}

// Stat returns the entry at path, or nil if nothing exists there.
func (a *Adapter) Stat(ctx context.Context, virtual string) (*storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := a.Resolve(virtual)
	if err != nil {
		if errors.Is(err, vpath.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	info, err := os.Stat(res.HostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat: %w", err)
	}

	name := path.Base(res.Normalized)
	if res.Normalized == "/" {
		name = "/"
	}
	entry := entryFromInfo(name, info)
	return &entry, nil
}

// Read returns the full content of the file at path.
func (a *Adapter) Read(ctx context.Context, virtual string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := a.Resolve(virtual)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(res.HostPath)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return nil, storage.ErrIsDirectory
	}
	return os.ReadFile(res.HostPath)
}

// Write stores data at path, creating missing parent directories inside the
// sandbox. Overwrites existing files; refuses to overwrite a directory.
func (a *Adapter) Write(ctx context.Context, virtual string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized, err := vpath.Normalize(virtual)
	if err != nil {
		return err
	}
	if normalized == "/" || vpath.IsTrashPath(normalized) {
		return vpath.ErrInvalidPath
	}
	leaf := path.Base(normalized)
	if err := vpath.CheckLeaf(leaf); err != nil {
		return err
	}

	parentHost, err := a.ensureDir(path.Dir(normalized))
	if err != nil {
		return err
	}

	host := filepath.Join(parentHost, leaf)
	if info, err := os.Lstat(host); err == nil {
		if info.IsDir() {
			return storage.ErrIsDirectory
		}
		// Never write through a symlink; the target may lie outside the
		// sandbox.
		if info.Mode()&fs.ModeSymlink != 0 {
			return vpath.ErrInvalidPath
		}
	}
	return os.WriteFile(host, data, 0o644)
}

// Delete soft-deletes: the entry moves into the sandbox trash with a sidecar
// record (see trash.go).
func (a *Adapter) Delete(ctx context.Context, virtual string) error {
	_, err := a.Trash(ctx, virtual)
	return err
}

// Move relocates an entry. The destination must not exist and must not be
// the source or nested under it.
func (a *Adapter) Move(ctx context.Context, source, dest string) error {
	srcHost, destHost, err := a.resolvePair(ctx, source, dest)
	if err != nil {
		return err
	}
	if err := os.Rename(srcHost, destHost); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Copy duplicates an entry recursively, silently skipping symlinks inside
// the source tree.
func (a *Adapter) Copy(ctx context.Context, source, dest string) error {
	srcHost, destHost, err := a.resolvePair(ctx, source, dest)
	if err != nil {
		return err
	}
	return copyTree(ctx, srcHost, destHost)
}

// Mkdir creates a directory at path, including missing ancestors. Idempotent.
func (a *Adapter) Mkdir(ctx context.Context, virtual string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized, err := vpath.Normalize(virtual)
	if err != nil {
		return err
	}
	if vpath.IsTrashPath(normalized) {
		return vpath.ErrInvalidPath
	}
	_, err = a.ensureDir(normalized)
	return err
}

// Exists reports whether an entry exists at path.
func (a *Adapter) Exists(ctx context.Context, virtual string) (bool, error) {
	entry, err := a.Stat(ctx, virtual)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// resolvePair resolves a source that must exist and a destination that must
// not, and applies the into-itself guard.
func (a *Adapter) resolvePair(ctx context.Context, source, dest string) (srcHost, destHost string, err error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	src, err := a.Resolve(source)
	if err != nil {
		return "", "", err
	}
	if src.Normalized == "/" {
		return "", "", vpath.ErrInvalidPath
	}

	dst, err := vpath.ResolveDestination(dest, a.root)
	if err != nil {
		return "", "", err
	}

	if _, err := os.Lstat(dst.HostPath); err == nil {
		return "", "", storage.ErrConflict
	} else if !os.IsNotExist(err) {
		return "", "", fmt.Errorf("stat destination: %w", err)
	}

	if dst.HostPath == src.HostPath ||
		strings.HasPrefix(dst.HostPath, src.HostPath+string(filepath.Separator)) {
		return "", "", storage.ErrIntoItself
	}
	return src.HostPath, dst.HostPath, nil
}

// ensureDir resolves a virtual directory, creating missing ancestors inside
// the sandbox. Returns the host path of the directory.
func (a *Adapter) ensureDir(virtual string) (string, error) {
	res, err := a.Resolve(virtual)
	if err == nil {
		info, statErr := os.Stat(res.HostPath)
		if statErr != nil {
			return "", fmt.Errorf("stat: %w", statErr)
		}
		if !info.IsDir() {
			return "", storage.ErrNotDirectory
		}
		return res.HostPath, nil
	}
	if !errors.Is(err, vpath.ErrNotFound) {
		return "", err
	}

	leaf := path.Base(virtual)
	if err := vpath.CheckLeaf(leaf); err != nil {
		return "", err
	}
	parentHost, err := a.ensureDir(path.Dir(virtual))
	if err != nil {
		return "", err
	}
	host := filepath.Join(parentHost, leaf)
	if err := os.Mkdir(host, 0o755); err != nil && !os.IsExist(err) {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	return host, nil
}

// copyTree copies src to dest. Directories recurse; symlinks are skipped.
func copyTree(ctx context.Context, src, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return nil
	case info.IsDir():
		if err := os.MkdirAll(dest, info.Mode().Perm()); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
		dirents, err := os.ReadDir(src)
		if err != nil {
			return fmt.Errorf("read dir: %w", err)
		}
		for _, d := range dirents {
			if err := copyTree(ctx, filepath.Join(src, d.Name()), filepath.Join(dest, d.Name())); err != nil {
				return err
			}
		}
		return nil
	default:
		return copyFile(src, dest, info.Mode().Perm())
	}
}

func copyFile(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}

func entryFromInfo(name string, info fs.FileInfo) storage.Entry {
	entry := storage.Entry{
		Name:  name,
		Type:  storage.TypeFile,
		Size:  info.Size(),
		MTime: info.ModTime().UnixMilli(),
	}
	if info.IsDir() {
		entry.Type = storage.TypeDir
		entry.Size = 0
	}
	return entry
}

func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}
