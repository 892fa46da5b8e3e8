package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), DefaultFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCatalog_RecordAndGet(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	dir := t.TempDir()

	require.NoError(t, c.Record(ctx, Entry{
		IndexID:    "idx-1",
		Mode:       "HYBRID",
		Directory:  dir,
		Version:    "1",
		ChunkCount: 42,
		CreatedAt:  created,
	}))

	got, ok, err := c.Get(ctx, "idx-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "HYBRID", got.Mode)
	assert.Equal(t, dir, got.Directory)
	assert.Equal(t, 42, got.ChunkCount)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCatalog_RecordUpserts(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	require.NoError(t, c.Record(ctx, Entry{IndexID: "idx", Mode: "KEYWORD", Directory: "/a", Version: "1", ChunkCount: 1}))
	require.NoError(t, c.Record(ctx, Entry{IndexID: "idx", Mode: "KEYWORD", Directory: "/a", Version: "1", ChunkCount: 7}))

	entries, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 7, entries[0].ChunkCount)
}

func TestCatalog_RecordRequiresID(t *testing.T) {
	c := openTest(t)

	err := c.Record(context.Background(), Entry{Mode: "GREP"})

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestCatalog_ListNewestFirst(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new", "mid"} {
		offset := map[string]time.Duration{"old": 0, "mid": time.Hour, "new": 2 * time.Hour}[id]
		require.NoError(t, c.Record(ctx, Entry{
			IndexID:   id,
			Mode:      "GREP",
			Directory: fmt.Sprintf("/idx/%d", i),
			Version:   "1",
			UpdatedAt: base.Add(offset),
		}))
	}

	entries, err := c.List(ctx)
	require.NoError(t, err)
	ids := []string{}
	for _, e := range entries {
		ids = append(ids, e.IndexID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
}

func TestCatalog_EmptyList(t *testing.T) {
	entries, err := openTest(t).List(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestCatalog_GetUnknown(t *testing.T) {
	_, ok, err := openTest(t).Get(context.Background(), "missing")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalog_RemoveDropsEntryAndSearchLog(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	require.NoError(t, c.Record(ctx, Entry{IndexID: "idx", Mode: "GREP", Directory: "/a", Version: "1"}))
	require.NoError(t, c.LogSearch(ctx, Search{IndexID: "idx", Mode: "GREP", Query: "q", Results: 1}))

	require.NoError(t, c.Remove(ctx, "idx"))
	require.NoError(t, c.Remove(ctx, "idx"))

	_, ok, err := c.Get(ctx, "idx")
	require.NoError(t, err)
	assert.False(t, ok)
	st, err := c.SearchStats(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Searches)
}

func TestCatalog_SearchStats(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	for i, results := range []int{3, 0, 5, 0} {
		require.NoError(t, c.LogSearch(ctx, Search{
			IndexID: "idx",
			Mode:    "KEYWORD",
			Query:   fmt.Sprintf("query %d", i),
			Results: results,
			Latency: 12 * time.Millisecond,
		}))
	}

	st, err := c.SearchStats(ctx, "idx")

	require.NoError(t, err)
	assert.Equal(t, 4, st.Searches)
	assert.Equal(t, 2, st.ZeroResults)
	assert.Equal(t, "query 3", st.LastQuery)
}

func TestCatalog_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFile)
	ctx := context.Background()

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Record(ctx, Entry{IndexID: "keep", Mode: "VECTOR", Directory: "/v", Version: "1"}))
	require.NoError(t, c.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	_, ok, err := reopened.Get(ctx, "keep")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, path, reopened.Path())
}

func TestCatalog_InMemory(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Record(context.Background(), Entry{IndexID: "mem", Mode: "GREP", Directory: "/m", Version: "1"}))
	entries, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
