package s3conn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filehaven/filehaven/pkg/s3config"
	s3store "github.com/filehaven/filehaven/pkg/storage/s3"
)

func fakeDial(ctx context.Context, profile s3config.Profile) (*s3store.Adapter, error) {
	return s3store.New(nil, profile.Bucket, profile.Prefix), nil
}

func profile(id string) s3config.Profile {
	return s3config.Profile{ID: id, Name: id, Region: "us-east-1", Bucket: "b-" + id}
}

func TestAttachResolveDetach(t *testing.T) {
	r := NewRegistry(0, fakeDial)
	ctx := context.Background()

	adapter, err := r.Attach(ctx, "sess-1", profile("cfg-a"))
	require.NoError(t, err)
	require.NotNil(t, adapter)

	got, err := r.Resolve("sess-1", "cfg-a")
	require.NoError(t, err)
	assert.Same(t, adapter, got)

	// Re-attach returns the existing adapter.
	again, err := r.Attach(ctx, "sess-1", profile("cfg-a"))
	require.NoError(t, err)
	assert.Same(t, adapter, again)

	require.NoError(t, r.Detach("sess-1", "cfg-a"))
	_, err = r.Resolve("sess-1", "cfg-a")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestResolveUnknown(t *testing.T) {
	r := NewRegistry(0, fakeDial)

	_, err := r.Resolve("sess-x", "cfg-a")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, r.Detach("sess-x", "cfg-a"), ErrNotConnected)
}

func TestDistinctConfigCap(t *testing.T) {
	r := NewRegistry(2, fakeDial)
	ctx := context.Background()

	_, err := r.Attach(ctx, "sess-1", profile("cfg-a"))
	require.NoError(t, err)
	_, err = r.Attach(ctx, "sess-2", profile("cfg-b"))
	require.NoError(t, err)

	// A third distinct config is over the cap.
	_, err = r.Attach(ctx, "sess-3", profile("cfg-c"))
	assert.ErrorIs(t, err, ErrAtLimit)

	// An already-connected config does not count again.
	_, err = r.Attach(ctx, "sess-3", profile("cfg-a"))
	require.NoError(t, err)

	// Freeing a slot allows a new config in.
	require.NoError(t, r.Detach("sess-2", "cfg-b"))
	_, err = r.Attach(ctx, "sess-3", profile("cfg-c"))
	require.NoError(t, err)
}

func TestDetachAll(t *testing.T) {
	r := NewRegistry(0, fakeDial)
	ctx := context.Background()

	_, err := r.Attach(ctx, "sess-1", profile("cfg-a"))
	require.NoError(t, err)
	_, err = r.Attach(ctx, "sess-1", profile("cfg-b"))
	require.NoError(t, err)

	r.DetachAll("sess-1")
	assert.Empty(t, r.Connections("sess-1"))
}

func TestOnProfileDeleted(t *testing.T) {
	r := NewRegistry(0, fakeDial)
	ctx := context.Background()

	_, err := r.Attach(ctx, "sess-1", profile("cfg-a"))
	require.NoError(t, err)
	_, err = r.Attach(ctx, "sess-2", profile("cfg-a"))
	require.NoError(t, err)
	_, err = r.Attach(ctx, "sess-2", profile("cfg-b"))
	require.NoError(t, err)

	r.OnProfileDeleted("cfg-a")

	_, err = r.Resolve("sess-1", "cfg-a")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = r.Resolve("sess-2", "cfg-a")
	assert.ErrorIs(t, err, ErrNotConnected)

	got, err := r.Resolve("sess-2", "cfg-b")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestConnectionsSorted(t *testing.T) {
	r := NewRegistry(0, fakeDial)
	ctx := context.Background()

	for _, id := range []string{"cfg-z", "cfg-a", "cfg-m"} {
		_, err := r.Attach(ctx, "sess-1", profile(id))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"cfg-a", "cfg-m", "cfg-z"}, r.Connections("sess-1"))
}

func TestDialErrorPropagates(t *testing.T) {
	boom := errors.New("dial failed")
	r := NewRegistry(0, func(context.Context, s3config.Profile) (*s3store.Adapter, error) {
		return nil, boom
	})

	_, err := r.Attach(context.Background(), "sess-1", profile("cfg-a"))
	assert.ErrorIs(t, err, boom)
}
