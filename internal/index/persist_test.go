package index

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

var persistChunks = []chunk.Chunk{
	{ID: "a", Text: "python programming language", Metadata: map[string]string{chunk.MetaSource: "a.md", chunk.MetaHeadingPath: "Intro"}},
	{ID: "b", Text: "snake reptile\nwith scales", Metadata: map[string]string{chunk.MetaSource: "b.md"}},
	{ID: "c", Text: "go database network", Metadata: map[string]string{}},
}

func TestSaveLoad_RoundTripEveryBackend(t *testing.T) {
	opts := config.Default()
	opts.Extra = map[string]any{"team": "docs"}

	for _, idx := range newAll(t, opts) {
		t.Run(string(idx.Mode()), func(t *testing.T) {
			ctx := context.Background()
			dir := filepath.Join(t.TempDir(), "index")
			require.NoError(t, idx.AddChunks(ctx, persistChunks, nil))

			// When: saved and loaded
			require.NoError(t, idx.Save(dir))
			loaded, err := Load(ctx, dir, quiet(), WithEmbedder(&MockEmbedder{}))
			require.NoError(t, err)

			// Then: identity, chunks and options survive
			assert.Equal(t, idx.Mode(), loaded.Mode())
			assert.Equal(t, idx.ID(), loaded.ID())
			assert.Equal(t, idx.ChunkCount(), loaded.ChunkCount())
			assert.Equal(t, collect(idx), collect(loaded))
			assert.Equal(t, idx.Options().BM25K1, loaded.Options().BM25K1)
			assert.Equal(t, "docs", loaded.Options().Extra["team"])

			// And: searches agree
			q := Query{Text: "python"}
			want, err := idx.Search(ctx, q, 5)
			require.NoError(t, err)
			got, err := loaded.Search(ctx, q, 5)
			require.NoError(t, err)
			assert.Equal(t, resultIDs(want), resultIDs(got))
			for i := range want {
				assert.InDelta(t, want[i].Score, got[i].Score, 1e-6)
			}
		})
	}
}

func TestLoad_ContinuesIngestionAfterLoad(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "kw")
	k := newKeyword(t, persistChunks...)
	require.NoError(t, k.Save(dir))

	loaded, err := Load(ctx, dir, quiet())
	require.NoError(t, err)
	require.NoError(t, loaded.AddChunks(ctx, []chunk.Chunk{textChunk("d", "python tips")}, nil))

	results, err := loaded.Search(ctx, Query{Text: "python"}, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "d"}, resultIDs(results))

	// Re-adding a restored id is still rejected
	err = loaded.AddChunks(ctx, []chunk.Chunk{textChunk("a", "again")}, nil)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestSave_OverwritesPriorContents(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("old"), 0o644))

	g := newGrep(t, nil, persistChunks...)
	require.NoError(t, g.Save(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{ManifestFile, ChunksFile}, names)
}

func TestSave_ManifestContents(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vec")
	v := newVector(t, nil, &MockEmbedder{}, WithID("fixed-id"))
	require.NoError(t, v.AddChunks(context.Background(), persistChunks, nil))
	require.NoError(t, v.Save(dir))

	m, err := ReadManifest(dir)
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, m.Version)
	assert.Equal(t, ModeVector, m.Mode)
	assert.Equal(t, "fixed-id", m.IndexID)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, "mock", m.Backend["model"])
	assert.Equal(t, VectorDType, m.Backend["dtype"])
	assert.EqualValues(t, len(mockVocabulary), m.Backend["dimension"])
	assert.EqualValues(t, 3, m.Backend["count"])
	assert.EqualValues(t, float64(config.Version), m.Options["config_version"])

	info, err := os.Stat(filepath.Join(dir, VectorsFile))
	require.NoError(t, err)
	assert.EqualValues(t, 3*len(mockVocabulary)*4, info.Size())
}

func TestLoad_MissingManifest(t *testing.T) {
	ctx := context.Background()

	t.Run("empty directory", func(t *testing.T) {
		_, err := Load(ctx, t.TempDir())
		assert.Equal(t, errors.ErrCodeManifestNotFound, errors.GetCode(err))
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := Load(ctx, filepath.Join(t.TempDir(), "nope"))
		assert.Equal(t, errors.ErrCodeManifestNotFound, errors.GetCode(err))
	})
}

func TestLoad_ChunkCountMismatchIsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "kw")
	require.NoError(t, newKeyword(t, persistChunks...).Save(dir))

	// Drop the last chunk record
	path := filepath.Join(dir, ChunksFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines[:2], "\n")+"\n"), 0o644))

	_, err = Load(ctx, dir, quiet())

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCorruptIndex, errors.GetCode(err))
}

func TestLoad_VectorFileSizeMismatchIsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "vec")
	v := newVector(t, nil, &MockEmbedder{})
	require.NoError(t, v.AddChunks(ctx, persistChunks, nil))
	require.NoError(t, v.Save(dir))

	path := filepath.Join(dir, VectorsFile)
	require.NoError(t, os.Truncate(path, 4*int64(len(mockVocabulary))))

	_, err := Load(ctx, dir, quiet(), WithEmbedder(&MockEmbedder{}))

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCorruptIndex, errors.GetCode(err))
}

func TestLoad_VectorCountMismatchIsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "vec")
	v := newVector(t, nil, &MockEmbedder{})
	require.NoError(t, v.AddChunks(ctx, persistChunks, nil))
	require.NoError(t, v.Save(dir))

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	m.Backend["count"] = 2
	require.NoError(t, WriteManifest(dir, m))

	_, err = Load(ctx, dir, quiet(), WithEmbedder(&MockEmbedder{}))

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCorruptIndex, errors.GetCode(err))
}

func TestLoad_EmbedderWidthMustMatchManifest(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "vec")
	v := newVector(t, nil, &MockEmbedder{})
	require.NoError(t, v.AddChunks(ctx, persistChunks, nil))
	require.NoError(t, v.Save(dir))

	_, err := Load(ctx, dir, quiet(), WithEmbedder(&MockEmbedder{DimensionsValue: 4}))

	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))
}

func TestLoad_StaticModelResolvedFromManifest(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "vec")
	v, err := NewVector(ctx, config.Default(), quiet())
	require.NoError(t, err)
	require.NoError(t, v.AddChunks(ctx, persistChunks, nil))
	require.NoError(t, v.Save(dir))

	loaded, err := Load(ctx, dir, quiet())

	require.NoError(t, err)
	assert.Equal(t, 3, loaded.ChunkCount())
	assert.Equal(t, v.Dimensions(), loaded.(*Vector).Dimensions())
}

func TestLoad_HybridManifestIsNotASingleIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteManifest(dir, Manifest{Mode: ModeHybrid}))

	_, err := Load(context.Background(), dir)

	assert.Equal(t, errors.ErrCodeCorruptIndex, errors.GetCode(err))
}

func TestManifest_MissingFieldsGetDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`{"mode": "KEYWORD"}`), 0o644))

	m, err := ReadManifest(dir)

	require.NoError(t, err)
	assert.Equal(t, FormatVersion, m.Version)
	assert.Equal(t, UnknownIndexID, m.IndexID)
	assert.Equal(t, ModeKeyword, m.Mode)
	assert.NotNil(t, m.Options)
	assert.NotNil(t, m.Backend)
	assert.True(t, m.CreatedAt.IsZero())
}

func TestManifest_InvalidContentIsCorruption(t *testing.T) {
	tests := map[string]string{
		"not json":     `{"mode":`,
		"unknown mode": `{"mode": "FUZZY"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(body), 0o644))

			_, err := ReadManifest(dir)

			assert.Equal(t, errors.ErrCodeCorruptIndex, errors.GetCode(err))
		})
	}
}

func TestManifest_CreatedAtRoundTrip(t *testing.T) {
	k := newKeyword(t)
	m := k.manifest(nil)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	var back Manifest
	require.NoError(t, json.Unmarshal(data, &back))

	assert.True(t, k.CreatedAt().Equal(back.CreatedAt))
	assert.Equal(t, k.ID(), back.IndexID)
	assert.EqualValues(t, 0, back.Backend["chunk_count"])
}

func TestReadChunks_NonStringMetadataIsStringified(t *testing.T) {
	path := filepath.Join(t.TempDir(), ChunksFile)
	body := `{"chunk_id":"x","text":"hi","metadata":{"page":3,"draft":true,"title":"T"}}` + "\n\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	chunks, err := readChunks(path)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, map[string]string{"page": "3", "draft": "true", "title": "T"}, chunks[0].Metadata)
}
