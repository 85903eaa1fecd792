package trash

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filehaven/filehaven/pkg/storage"
	"github.com/filehaven/filehaven/pkg/storage/local"
)

func newStore(t *testing.T) (*Store, *local.Adapter) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	a := local.New(root)
	return NewStore(a), a
}

func TestListEmpty(t *testing.T) {
	s, _ := newStore(t)
	records, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListNewestFirst(t *testing.T) {
	s, a := newStore(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/first.txt", []byte("1")))
	require.NoError(t, a.Write(ctx, "/second.txt", []byte("2")))

	_, err := a.Trash(ctx, "/first.txt")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = a.Trash(ctx, "/second.txt")
	require.NoError(t, err)

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second.txt", records[0].Name)
	assert.Equal(t, "first.txt", records[1].Name)
}

func TestListSkipsBrokenSidecars(t *testing.T) {
	s, a := newStore(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/ok.txt", []byte("ok")))
	_, err := a.Trash(ctx, "/ok.txt")
	require.NoError(t, err)

	meta := a.TrashMetaDir()
	require.NoError(t, os.WriteFile(filepath.Join(meta, "garbage.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(meta, "empty.json"), []byte("{}"), 0o644))

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok.txt", records[0].Name)
}

func TestConsume(t *testing.T) {
	s, a := newStore(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/doc.txt", []byte("body")))
	rec, err := a.Trash(ctx, "/doc.txt")
	require.NoError(t, err)

	restored, err := s.Consume(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "/doc.txt", restored.OriginalPath)

	got, err := a.Read(ctx, "/doc.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), got)

	// Consuming twice fails.
	_, err = s.Consume(ctx, rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConsumeUnknownID(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Consume(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Consume(context.Background(), "../escape")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
