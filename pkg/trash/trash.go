// Package trash exposes the per-user trash contents as a listable,
// restorable collection over the local storage adapter's sidecar records.
package trash

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/storage/local"
)

// Store reads and consumes trash records for one sandbox.
type Store struct {
	adapter *local.Adapter
}

// NewStore wraps the given local adapter.
func NewStore(adapter *local.Adapter) *Store {
	return &Store{adapter: adapter}
}

// List returns all trash records, newest deletion first. Sidecars that fail
// to parse or lack required fields are skipped with a warning rather than
// failing the whole listing.
func (s *Store) List(ctx context.Context) ([]local.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(s.adapter.TrashMetaDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []local.Record{}, nil
		}
		return nil, err
	}

	records := make([]local.Record, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.adapter.TrashMetaDir(), d.Name()))
		if err != nil {
			continue
		}
		var rec local.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.Warn("skipping unreadable trash sidecar", "file", d.Name(), "error", err)
			continue
		}
		if rec.ID == "" || rec.TrashName == "" || rec.OriginalPath == "" {
			logger.Warn("skipping incomplete trash sidecar", "file", d.Name())
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].DeletedAt > records[j].DeletedAt
	})
	return records, nil
}

// Consume restores the trashed item with the given id back to its original
// path. Returns the restored record on success.
func (s *Store) Consume(ctx context.Context, id string) (*local.Record, error) {
	rec, err := s.adapter.ReadRecord(id)
	if err != nil {
		return nil, err
	}
	if err := s.adapter.Restore(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
