package handlers

import (
	"context"
	"fmt"
	"path"

	"github.com/filehaven/filehaven/pkg/identity"
	"github.com/filehaven/filehaven/pkg/storage"
	"github.com/filehaven/filehaven/pkg/vpath"
)

// listResponse is the wire shape shared by the local and S3 listing routes.
type listResponse struct {
	Path     string          `json:"path"`
	Parent   string          `json:"parent"`
	Entries  []storage.Entry `json:"entries"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
	User     string          `json:"user"`
	Role     identity.Role   `json:"role"`
}

const defaultPageSize = 100

// listEntries runs a paged listing against any adapter.
func listEntries(ctx context.Context, ad storage.Adapter, user *identity.User, virtual string, page, pageSize int) (*listResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	normalized, err := vpath.Normalize(virtual)
	if err != nil {
		return nil, err
	}

	res, err := ad.List(ctx, normalized, storage.ListOptions{
		Offset: (page - 1) * pageSize,
		Limit:  pageSize,
	})
	if err != nil {
		return nil, err
	}

	parent := path.Dir(normalized)
	if normalized == "/" {
		parent = ""
	}
	if res.Entries == nil {
		res.Entries = []storage.Entry{}
	}
	return &listResponse{
		Path:     normalized,
		Parent:   parent,
		Entries:  res.Entries,
		Total:    res.Total,
		Page:     page,
		PageSize: pageSize,
		User:     user.Username,
		Role:     user.Role,
	}, nil
}

// readCapped fetches a file enforcing a byte cap via Stat before Read.
// Strictly-over-cap files fail with errTooLarge.
func readCapped(ctx context.Context, ad storage.Adapter, virtual string, maxBytes int64) ([]byte, *storage.Entry, error) {
	entry, err := ad.Stat(ctx, virtual)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, vpath.ErrNotFound
	}
	if entry.Type == storage.TypeDir {
		return nil, nil, storage.ErrIsDirectory
	}
	if entry.Size > maxBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes over %d cap", errTooLarge, entry.Size, maxBytes)
	}

	data, err := ad.Read(ctx, virtual)
	if err != nil {
		return nil, nil, err
	}
	return data, entry, nil
}

// mkdirIn creates {path}/{name}, validating the leaf separately so a name
// containing separators cannot smuggle extra levels.
func mkdirIn(ctx context.Context, ad storage.Adapter, dir, name string) (string, error) {
	if err := vpath.CheckLeaf(name); err != nil {
		return "", err
	}
	normalized, err := vpath.Normalize(dir)
	if err != nil {
		return "", err
	}
	target := path.Join(normalized, name)
	if err := ad.Mkdir(ctx, target); err != nil {
		return "", err
	}
	return target, nil
}
