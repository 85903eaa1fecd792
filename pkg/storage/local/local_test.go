package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filehaven/filehaven/pkg/storage"
	"github.com/filehaven/filehaven/pkg/vpath"
)

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return New(root)
}

func TestWriteReadRoundTrip(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/notes.txt", []byte("hello")))
	got, err := a.Read(ctx, "/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestWriteCreatesParents(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/a/b/c/deep.txt", []byte("x")))
	exists, err := a.Exists(ctx, "/a/b/c/deep.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	entry, err := a.Stat(ctx, "/a/b")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, storage.TypeDir, entry.Type)
}

func TestListSortingAndPagination(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/zebra.txt", []byte("z")))
	require.NoError(t, a.Write(ctx, "/Apple.txt", []byte("a")))
	require.NoError(t, a.Mkdir(ctx, "/music"))
	require.NoError(t, a.Mkdir(ctx, "/Docs"))

	res, err := a.List(ctx, "/", storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)

	names := make([]string, len(res.Entries))
	for i, e := range res.Entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"Docs", "music", "Apple.txt", "zebra.txt"}, names)

	page, err := a.List(ctx, "/", storage.ListOptions{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "music", page.Entries[0].Name)
	assert.Equal(t, "Apple.txt", page.Entries[1].Name)
}

func TestListSkipsSymlinksAndTrash(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/real.txt", []byte("r")))
	require.NoError(t, os.Symlink("/etc", filepath.Join(a.Root(), "link")))
	require.NoError(t, os.MkdirAll(a.TrashDir(), 0o755))

	res, err := a.List(ctx, "/", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "real.txt", res.Entries[0].Name)
}

func TestStatMissingReturnsNil(t *testing.T) {
	a := newAdapter(t)
	entry, err := a.Stat(context.Background(), "/nope")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMove(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/a.txt", []byte("a")))

	require.NoError(t, a.Move(ctx, "/a.txt", "/b.txt"))
	existsA, _ := a.Exists(ctx, "/a.txt")
	existsB, _ := a.Exists(ctx, "/b.txt")
	assert.False(t, existsA)
	assert.True(t, existsB)

	// Round-trip back.
	require.NoError(t, a.Move(ctx, "/b.txt", "/a.txt"))
	got, err := a.Read(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
}

func TestMoveGuards(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Mkdir(ctx, "/dir"))
	require.NoError(t, a.Write(ctx, "/other.txt", []byte("o")))

	t.Run("into itself", func(t *testing.T) {
		err := a.Move(ctx, "/dir", "/dir/sub")
		assert.ErrorIs(t, err, storage.ErrIntoItself)
	})

	t.Run("existing destination", func(t *testing.T) {
		require.NoError(t, a.Write(ctx, "/src.txt", []byte("s")))
		err := a.Move(ctx, "/src.txt", "/other.txt")
		assert.ErrorIs(t, err, storage.ErrConflict)
	})

	t.Run("root is not movable", func(t *testing.T) {
		err := a.Move(ctx, "/", "/elsewhere")
		assert.ErrorIs(t, err, vpath.ErrInvalidPath)
	})
}

func TestCopyRecursiveSkipsSymlinks(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/tree/file.txt", []byte("f")))
	require.NoError(t, a.Write(ctx, "/tree/sub/nested.txt", []byte("n")))
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(a.Root(), "tree", "evil")))

	require.NoError(t, a.Copy(ctx, "/tree", "/tree2"))

	got, err := a.Read(ctx, "/tree2/sub/nested.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("n"), got)

	_, err = os.Lstat(filepath.Join(a.Root(), "tree2", "evil"))
	assert.True(t, os.IsNotExist(err), "symlink must not be copied")

	// Source remains.
	exists, _ := a.Exists(ctx, "/tree/file.txt")
	assert.True(t, exists)
}

func TestMkdirIdempotent(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Mkdir(ctx, "/d"))
	require.NoError(t, a.Mkdir(ctx, "/d"))
	require.NoError(t, a.Mkdir(ctx, "/d/e/f"))
}

func TestTrashRoundTrip(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/notes.txt", []byte("hello")))

	rec, err := a.Trash(ctx, "/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", rec.Name)
	assert.Equal(t, "/notes.txt", rec.OriginalPath)
	assert.Equal(t, storage.TypeFile, rec.Type)
	assert.NotEmpty(t, rec.ID)

	// Gone from the listing, physically present in the trash.
	exists, _ := a.Exists(ctx, "/notes.txt")
	assert.False(t, exists)
	assert.FileExists(t, filepath.Join(a.TrashDir(), rec.TrashName))
	assert.FileExists(t, filepath.Join(a.TrashMetaDir(), rec.ID+".json"))

	require.NoError(t, a.Restore(ctx, rec))
	got, err := a.Read(ctx, "/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	assert.NoFileExists(t, filepath.Join(a.TrashMetaDir(), rec.ID+".json"))
}

func TestTrashPreconditions(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	_, err := a.Trash(ctx, "/")
	assert.ErrorIs(t, err, vpath.ErrInvalidPath)

	_, err = a.Trash(ctx, "/.trash")
	assert.ErrorIs(t, err, vpath.ErrInvalidPath)

	_, err = a.Trash(ctx, "/missing.txt")
	assert.ErrorIs(t, err, vpath.ErrNotFound)
}

func TestRestoreConflictAndParentMissing(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	t.Run("conflict", func(t *testing.T) {
		require.NoError(t, a.Write(ctx, "/x.txt", []byte("1")))
		rec, err := a.Trash(ctx, "/x.txt")
		require.NoError(t, err)
		require.NoError(t, a.Write(ctx, "/x.txt", []byte("2")))

		assert.ErrorIs(t, a.Restore(ctx, rec), storage.ErrConflict)
	})

	t.Run("parent missing", func(t *testing.T) {
		require.NoError(t, a.Write(ctx, "/dir/y.txt", []byte("y")))
		rec, err := a.Trash(ctx, "/dir/y.txt")
		require.NoError(t, err)
		_, err = a.Trash(ctx, "/dir")
		require.NoError(t, err)

		assert.ErrorIs(t, a.Restore(ctx, rec), storage.ErrParentMissing)
	})
}

func TestReconcileRemovesDanglingSidecars(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/keep.txt", []byte("k")))
	require.NoError(t, a.Write(ctx, "/lost.txt", []byte("l")))

	kept, err := a.Trash(ctx, "/keep.txt")
	require.NoError(t, err)
	lost, err := a.Trash(ctx, "/lost.txt")
	require.NoError(t, err)

	// Simulate a crash that lost the physical item but kept the sidecar.
	require.NoError(t, os.Remove(filepath.Join(a.TrashDir(), lost.TrashName)))

	require.NoError(t, a.Reconcile())
	assert.NoFileExists(t, filepath.Join(a.TrashMetaDir(), lost.ID+".json"))
	assert.FileExists(t, filepath.Join(a.TrashMetaDir(), kept.ID+".json"))
}

func TestSizeProbe(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "/d/one.bin", make([]byte, 1000)))
	require.NoError(t, a.Write(ctx, "/d/two.bin", make([]byte, 1000)))

	res, err := a.Resolve("/d")
	require.NoError(t, err)

	total, hit, err := a.SizeProbe(ctx, []string{res.HostPath}, 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), total)
	assert.False(t, hit)

	// Limit equal to the running total must report a hit (>=, not >).
	_, hit, err = a.SizeProbe(ctx, []string{res.HostPath}, 2000)
	require.NoError(t, err)
	assert.True(t, hit)

	_, hit, err = a.SizeProbe(ctx, []string{res.HostPath}, 1500)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestWriteRejectsReservedPaths(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	assert.ErrorIs(t, a.Write(ctx, "/", []byte("x")), vpath.ErrInvalidPath)
	assert.ErrorIs(t, a.Write(ctx, "/.trash/x", []byte("x")), vpath.ErrInvalidPath)
}

func TestWriteRefusesSymlinkLeaf(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	outside := filepath.Join(t.TempDir(), "victim.txt")
	require.NoError(t, os.WriteFile(outside, []byte("original"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(a.Root(), "link.txt")))

	err := a.Write(ctx, "/link.txt", []byte("pwned"))
	assert.ErrorIs(t, err, vpath.ErrInvalidPath)

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data), "target outside the sandbox must stay untouched")
}
