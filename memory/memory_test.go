package memory_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/shelly/memory"
)

func testStore(t *testing.T, maxEntries int) *memory.Store {
	t.Helper()

	store, err := memory.Open(memory.Config{
		Path:       filepath.Join(t.TempDir(), "journal.db"),
		MaxEntries: maxEntries,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestAppendAndRecent(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	store := testStore(t, 100)

	requireT.NoError(store.Append(ctx, "tool_result", "df: 42% used"))
	requireT.NoError(store.Append(ctx, "error", "bash: boom"))

	entries, err := store.Recent(ctx, 10)
	requireT.NoError(err)
	requireT.Len(entries, 2)

	// Newest first.
	requireT.Equal("error", entries[0].Kind)
	requireT.Equal("bash: boom", entries[0].Content)
	requireT.Equal("tool_result", entries[1].Kind)
	requireT.NotEmpty(entries[0].ID)
	requireT.False(entries[0].CreatedAt.IsZero())
}

func TestRecentLimit(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	store := testStore(t, 100)
	for i := range 5 {
		requireT.NoError(store.Append(ctx, "note", fmt.Sprintf("entry %d", i)))
	}

	entries, err := store.Recent(ctx, 2)
	requireT.NoError(err)
	requireT.Len(entries, 2)
	requireT.Equal("entry 4", entries[0].Content)
	requireT.Equal("entry 3", entries[1].Content)
}

func TestPruning(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	store := testStore(t, 3)
	for i := range 10 {
		requireT.NoError(store.Append(ctx, "note", fmt.Sprintf("entry %d", i)))
	}

	entries, err := store.Recent(ctx, 100)
	requireT.NoError(err)
	requireT.Len(entries, 3)
	requireT.Equal("entry 9", entries[0].Content)
	requireT.Equal("entry 7", entries[2].Content)
}

func TestReopen(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	config := memory.Config{
		Path:       filepath.Join(t.TempDir(), "journal.db"),
		MaxEntries: 100,
	}

	store, err := memory.Open(config)
	requireT.NoError(err)
	requireT.NoError(store.Append(ctx, "note", "survives restarts"))
	requireT.NoError(store.Close())

	store, err = memory.Open(config)
	requireT.NoError(err)
	defer store.Close()

	entries, err := store.Recent(ctx, 10)
	requireT.NoError(err)
	requireT.Len(entries, 1)
	requireT.Equal("survives restarts", entries[0].Content)
}
