package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/storage"
	"github.com/filehaven/filehaven/pkg/vpath"
)

// metaDirName is the sidecar directory inside the trash.
const metaDirName = ".meta"

// Record is the sidecar metadata written for every trashed entry.
//
// Invariant: at the moment a sidecar is written, a physical item exists at
// <root>/.trash/<TrashName>. The sidecar is written first; Reconcile removes
// sidecars whose target vanished (a crash between write and rename).
type Record struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	OriginalPath string            `json:"originalPath"`
	DeletedAt    int64             `json:"deletedAt"`
	Type         storage.EntryType `json:"type"`
	Size         int64             `json:"size"`
	TrashName    string            `json:"trashName"`
}

// TrashDir returns the host path of the sandbox trash directory.
func (a *Adapter) TrashDir() string {
	return filepath.Join(a.root, vpath.TrashDir)
}

// TrashMetaDir returns the host path of the sidecar directory.
func (a *Adapter) TrashMetaDir() string {
	return filepath.Join(a.TrashDir(), metaDirName)
}

// Trash moves the entry at the virtual path into the trash and writes its
// sidecar record. The sandbox root itself cannot be trashed, and anything
// already inside the trash is rejected by resolution.
func (a *Adapter) Trash(ctx context.Context, virtual string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := a.Resolve(virtual)
	if err != nil {
		return nil, err
	}
	if res.Normalized == "/" {
		return nil, vpath.ErrInvalidPath
	}

	info, err := os.Stat(res.HostPath)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	if err := os.MkdirAll(a.TrashMetaDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create trash dirs: %w", err)
	}

	entry := entryFromInfo(path.Base(res.Normalized), info)
	rec := &Record{
		ID:           uuid.NewString(),
		Name:         entry.Name,
		OriginalPath: res.Normalized,
		DeletedAt:    time.Now().UnixMilli(),
		Type:         entry.Type,
		Size:         entry.Size,
	}
	rec.TrashName = fmt.Sprintf("%d-%s-%s", rec.DeletedAt, sanitizeTrashName(entry.Name), rec.ID)

	// Sidecar first, then rename. A crash in between leaves a dangling
	// sidecar that Reconcile cleans up on the next start.
	sidecar := filepath.Join(a.TrashMetaDir(), rec.ID+".json")
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(sidecar, data, 0o644); err != nil {
		return nil, fmt.Errorf("write sidecar: %w", err)
	}

	if err := os.Rename(res.HostPath, filepath.Join(a.TrashDir(), rec.TrashName)); err != nil {
		_ = os.Remove(sidecar)
		return nil, fmt.Errorf("move to trash: %w", err)
	}
	return rec, nil
}

// Restore moves a trashed item back to its original path and removes the
// sidecar. The original parent must still exist and the destination leaf
// must be free.
func (a *Adapter) Restore(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	trashItem := filepath.Join(a.TrashDir(), rec.TrashName)
	if _, err := os.Lstat(trashItem); err != nil {
		if os.IsNotExist(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("stat trash item: %w", err)
	}

	parent, err := a.Resolve(path.Dir(rec.OriginalPath))
	if err != nil {
		if errors.Is(err, vpath.ErrNotFound) {
			return storage.ErrParentMissing
		}
		return err
	}

	leaf := path.Base(rec.OriginalPath)
	if err := vpath.CheckLeaf(leaf); err != nil {
		return err
	}
	dest := filepath.Join(parent.HostPath, leaf)
	if _, err := os.Lstat(dest); err == nil {
		return storage.ErrConflict
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat destination: %w", err)
	}

	if err := os.Rename(trashItem, dest); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := os.Remove(filepath.Join(a.TrashMetaDir(), rec.ID+".json")); err != nil {
		logger.Warn("failed to remove trash sidecar after restore",
			"id", rec.ID, "error", err)
	}
	return nil
}

// ReadRecord loads a single sidecar by id.
func (a *Adapter) ReadRecord(id string) (*Record, error) {
	if err := vpath.CheckLeaf(id); err != nil {
		return nil, storage.ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(a.TrashMetaDir(), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read sidecar: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse sidecar %s: %w", id, err)
	}
	return &rec, nil
}

// Reconcile removes sidecars whose physical trash item is missing. Run once
// at startup; orphan physical items (item without sidecar) are left alone.
func (a *Adapter) Reconcile() error {
	dirents, err := os.ReadDir(a.TrashMetaDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read trash meta dir: %w", err)
	}

	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(d.Name(), ".json")
		rec, err := a.ReadRecord(id)
		if err != nil {
			continue
		}
		if _, err := os.Lstat(filepath.Join(a.TrashDir(), rec.TrashName)); os.IsNotExist(err) {
			logger.Info("removing dangling trash sidecar", "id", id, "trash_name", rec.TrashName)
			_ = os.Remove(filepath.Join(a.TrashMetaDir(), d.Name()))
		}
	}
	return nil
}

// sanitizeTrashName flattens a leaf name into a filesystem-safe token for
// embedding in the physical trash filename.
func sanitizeTrashName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "item"
	}
	return b.String()
}
