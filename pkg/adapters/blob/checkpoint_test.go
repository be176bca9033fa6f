package blob_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/blob"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

func snapshot(id string, vars map[string]any) *domain.ProcessState {
	return domain.NewProcessState(id, "main", vars, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()

	c, err := blob.Open(ctx, "mem://", "test/")
	require.NoError(t, err)
	defer c.Close()

	t.Run("Download returns not found for missing label", func(t *testing.T) {
		_, err := c.Download(ctx, "p-1", "nope")
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	})

	t.Run("Upload and Download round-trip", func(t *testing.T) {
		require.NoError(t, c.Upload(ctx, snapshot("p-1", map[string]any{"a": "x"}), "after-charge"))

		got, err := c.Download(ctx, "p-1", "after-charge")
		require.NoError(t, err)
		assert.Equal(t, "p-1", got.ID)
		assert.Equal(t, "x", got.Variables["a"])
	})

	t.Run("Upload replaces", func(t *testing.T) {
		require.NoError(t, c.Upload(ctx, snapshot("p-1", map[string]any{"a": "y"}), "after-charge"))

		got, err := c.Download(ctx, "p-1", "after-charge")
		require.NoError(t, err)
		assert.Equal(t, "y", got.Variables["a"])
	})

	t.Run("Labels and Delete", func(t *testing.T) {
		require.NoError(t, c.Upload(ctx, snapshot("p-1", nil), "stage/2"))
		require.NoError(t, c.Upload(ctx, snapshot("p-10", nil), "other"))

		labels, err := c.Labels(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"after-charge", "stage/2"}, labels)

		require.NoError(t, c.Delete(ctx, "p-1"))
		labels, err = c.Labels(ctx, "p-1")
		require.NoError(t, err)
		assert.Empty(t, labels)

		_, err = c.Download(ctx, "p-10", "other")
		assert.NoError(t, err, "other processes keep their checkpoints")
	})
}

func TestCheckpoints_KeyFormat(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	c := blob.New(bucket, "")
	defer c.Close()

	require.NoError(t, c.Upload(ctx, snapshot("p 1", nil), "a/b"))

	exists, err := bucket.Exists(ctx, "checkpoints/p%201/a%2Fb.json")
	require.NoError(t, err)
	assert.True(t, exists)

	attrs, err := bucket.Attributes(ctx, "checkpoints/p%201/a%2Fb.json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", attrs.ContentType)
	assert.Equal(t, "a/b", attrs.Metadata["label"])

}
