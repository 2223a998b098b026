//go:build integration

package photos_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anac-tg/incident-desk/internal/photos"
	"github.com/anac-tg/incident-desk/internal/testutil"
)

func TestMinioStore_SaveOpenRemove(t *testing.T) {
	ctx := context.Background()
	jpeg := []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01")
	container, err := testutil.NewMinioContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	store, err := photos.NewMinioStore(ctx, photos.MinioConfig{
		Endpoint:  container.Endpoint,
		AccessKey: container.AccessKey,
		SecretKey: container.SecretKey,
		Bucket:    "incident-photos",
	})
	require.NoError(t, err)

	// Save
	key, err := store.Save(ctx, jpeg, "../../etc/photo.JPG")
	require.NoError(t, err)
	assert.False(t, strings.Contains(key, ".."))
	assert.True(t, strings.HasPrefix(key, "incidents/"), key)
	assert.True(t, strings.HasSuffix(key, "_photo.jpg"), key)

	// Open
	rc, err := store.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, jpeg, data)

	// Remove
	require.NoError(t, store.Remove(ctx, key))
	_, err = store.Open(ctx, key)
	assert.ErrorIs(t, err, photos.ErrPhotoNotFound)

	t.Run("non-image rejected", func(t *testing.T) {
		_, err := store.Save(ctx, []byte("<html><script></script></html>"), "x.jpg")
		assert.ErrorIs(t, err, photos.ErrNotAnImage)
	})

	t.Run("bucket creation is idempotent", func(t *testing.T) {
		_, err := photos.NewMinioStore(ctx, photos.MinioConfig{
			Endpoint:  container.Endpoint,
			AccessKey: container.AccessKey,
			SecretKey: container.SecretKey,
			Bucket:    "incident-photos",
		})
		assert.NoError(t, err)
	})
}
