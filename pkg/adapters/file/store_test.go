package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/file"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ensure Store implements StateStore
var _ ports.StateStore = (*file.Store)(nil)

func TestFileStore_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, file.New(t.TempDir()))
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	state := domain.NewProcessState("order-7", "main", nil, time.Now())
	require.NoError(t, store.Save(ctx, "order-7", state))

	_, err := os.Stat(filepath.Join(dir, "order-7.json"))
	require.NoError(t, err, "one file per process")

	// Leftover temp files from a crashed write are not processes.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tmp-order-8-123.json"), []byte("{"), 0o644))
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"order-7"}, ids)
}

func TestFileStore_RejectsPathIDs(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"", "../escape", `a\b`, ".."} {
		assert.Error(t, store.Save(ctx, id, domain.NewProcessState(id, "main", nil, time.Now())), id)
	}
}

func TestFileStore_ListMissingDir(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "absent"))
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
