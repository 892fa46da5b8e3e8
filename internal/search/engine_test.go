package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/index"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// MockEmbedder implements embed.Embedder for testing.
type MockEmbedder struct {
	EmbedFn func(ctx context.Context, text string) ([]float32, error)
}

var vocabulary = []string{"python", "snake", "database", "network", "bread"}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}
	v := make([]float32, len(vocabulary))
	for _, w := range strings.Fields(strings.ToLower(text)) {
		for i, term := range vocabulary {
			if w == term {
				v[i]++
			}
		}
	}
	return v, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int                  { return len(vocabulary) }
func (m *MockEmbedder) ModelName() string                { return "mock" }
func (m *MockEmbedder) Available(_ context.Context) bool { return true }
func (m *MockEmbedder) Close() error                     { return nil }

var corpus = []chunk.Chunk{
	{ID: "py", Text: "python programming language", Metadata: map[string]string{chunk.MetaSource: "py.md"}},
	{ID: "snake", Text: "snake reptile python", Metadata: map[string]string{chunk.MetaSource: "zoo.md"}},
	{ID: "db", Text: "database network tuning", Metadata: map[string]string{chunk.MetaSource: "ops.md"}},
}

func newTestEngine(t *testing.T, eo EngineOptions) *Engine {
	t.Helper()
	if eo.Embedder == nil {
		eo.Embedder = &MockEmbedder{}
	}
	if eo.Logger == nil {
		eo.Logger = slog.New(slog.DiscardHandler)
	}
	e, err := NewEngine(context.Background(), config.Default(), eo)
	require.NoError(t, err)
	require.NoError(t, e.AddChunks(context.Background(), corpus, nil))
	return e
}

func TestEngine_BuildsAllBackendsByDefault(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})

	assert.Equal(t, AllBackends, e.Backends())
	assert.Equal(t, 3, e.ChunkCount())
	for _, mode := range AllBackends {
		idx, ok := e.Index(mode)
		require.True(t, ok)
		assert.Equal(t, e.ID(), idx.ID())
	}
}

func TestEngine_SearchEveryMode(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	for _, mode := range []index.Mode{index.ModeGrep, index.ModeKeyword, index.ModeVector, index.ModeHybrid} {
		t.Run(string(mode), func(t *testing.T) {
			results, err := e.Search(ctx, index.Query{Text: "python", Mode: mode}, 5)

			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, mode.Backend(), results[0].Metadata[index.MetaBackend])
			got := ids(results)
			assert.Contains(t, got, "py")
			if mode == index.ModeGrep || mode == index.ModeKeyword {
				assert.NotContains(t, got, "db")
			}
		})
	}
}

func TestEngine_HybridMatchesBlendOfComponents(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})
	ctx := context.Background()
	q := index.Query{Text: "python snake"}

	kw, err := e.Search(ctx, index.Query{Text: q.Text, Mode: index.ModeKeyword}, 10)
	require.NoError(t, err)
	vec, err := e.Search(ctx, index.Query{Text: q.Text, Mode: index.ModeVector}, 10)
	require.NoError(t, err)

	// default_mode is hybrid
	hybrid, err := e.Search(ctx, q, 2)
	require.NoError(t, err)

	want := Blend(kw, vec, 0.5, 0.5, 2)
	assert.Equal(t, ids(want), ids(hybrid))
	for i := range want {
		assert.InDelta(t, want[i].Score, hybrid[i].Score, 1e-9)
	}
}

func TestEngine_MissingBackendIsUnavailable(t *testing.T) {
	e := newTestEngine(t, EngineOptions{Backends: []index.Mode{index.ModeKeyword}})
	ctx := context.Background()

	_, err := e.Search(ctx, index.Query{Text: "python", Mode: index.ModeVector}, 5)
	assert.True(t, errors.IsBackendUnavailable(err))

	_, err = e.Search(ctx, index.Query{Text: "python", Mode: index.ModeHybrid}, 5)
	assert.True(t, errors.IsBackendUnavailable(err))

	results, err := e.Search(ctx, index.Query{Text: "python", Mode: index.ModeKeyword}, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestEngine_Supports(t *testing.T) {
	full := newTestEngine(t, EngineOptions{})
	partial := newTestEngine(t, EngineOptions{Backends: []index.Mode{index.ModeGrep, index.ModeKeyword}})

	for _, mode := range []index.Mode{index.ModeGrep, index.ModeKeyword, index.ModeVector, index.ModeHybrid} {
		assert.True(t, full.Supports(mode), mode)
	}
	assert.True(t, partial.Supports(index.ModeKeyword))
	assert.False(t, partial.Supports(index.ModeVector))
	assert.False(t, partial.Supports(index.ModeHybrid))
}

func TestEngine_FallbackDropsUnavailableVector(t *testing.T) {
	opts := config.Default()
	opts.VectorModelName = "no-such-model"
	quiet := slog.New(slog.DiscardHandler)

	_, err := NewEngine(context.Background(), opts, EngineOptions{Logger: quiet})
	assert.True(t, errors.IsBackendUnavailable(err))

	e, err := NewEngine(context.Background(), opts, EngineOptions{Logger: quiet, Fallback: true})
	require.NoError(t, err)
	assert.Equal(t, []index.Mode{index.ModeGrep, index.ModeKeyword}, e.Backends())
}

func TestEngine_HybridFallsBackToKeywordWhenVectorUnavailable(t *testing.T) {
	embedder := &MockEmbedder{}
	e := newTestEngine(t, EngineOptions{Embedder: embedder})

	embedder.EmbedFn = func(_ context.Context, _ string) ([]float32, error) {
		return nil, errors.BackendUnavailable("model server down", nil)
	}
	results, err := e.Search(context.Background(), index.Query{Text: "python", Mode: index.ModeHybrid}, 5)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"py", "snake"}, ids(results))
	for _, r := range results {
		assert.Equal(t, 0.0, r.Metadata[index.MetaVectorScore])
	}
}

func TestEngine_InvalidModeRejected(t *testing.T) {
	e := newTestEngine(t, EngineOptions{Backends: []index.Mode{index.ModeGrep}})

	_, err := NewEngine(context.Background(), config.Default(), EngineOptions{Backends: []index.Mode{index.ModeHybrid}})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	assert.Equal(t, []index.Mode{index.ModeGrep}, e.Backends())
}

func TestEngine_ProgressTaggedPerBackend(t *testing.T) {
	e, err := NewEngine(context.Background(), config.Default(), EngineOptions{
		Embedder: &MockEmbedder{},
		Logger:   slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	var mu sync.Mutex
	counts := map[string]int{}
	progress := func(ev index.ProgressEvent) error {
		mu.Lock()
		defer mu.Unlock()
		counts[ev.Metadata["backend"]]++
		return nil
	}

	require.NoError(t, e.AddChunks(context.Background(), corpus, progress))

	assert.Equal(t, map[string]int{"grep": 3, "keyword": 3, "vector": 3}, counts)
}

func TestEngine_DuplicateChunkRejectedEverywhere(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})

	err := e.AddChunks(context.Background(), []chunk.Chunk{corpus[0]}, nil)

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	for _, mode := range e.Backends() {
		idx, _ := e.Index(mode)
		assert.Equal(t, 3, idx.ChunkCount())
	}
}

func TestEngine_FailedIngestBlocksSave(t *testing.T) {
	// Given an engine whose embedding model fails every batch
	embedder := &MockEmbedder{EmbedFn: func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("model crashed")
	}}
	e, err := NewEngine(context.Background(), config.Default(), EngineOptions{
		Embedder: embedder,
		Logger:   slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	// When ingestion fails after grep already took the chunks
	require.Error(t, e.AddChunks(context.Background(), corpus, nil))
	grep, _ := e.Index(index.ModeGrep)
	vec, _ := e.Index(index.ModeVector)
	require.NotEqual(t, grep.ChunkCount(), vec.ChunkCount())

	// Then the engine refuses to persist or ingest more
	dir := filepath.Join(t.TempDir(), "engine")
	err = e.Save(dir)
	assert.Equal(t, errors.ErrCodeIndexFailed, errors.GetCode(err))
	assert.NoDirExists(t, dir)

	embedder.EmbedFn = nil
	err = e.AddChunks(context.Background(), []chunk.Chunk{{ID: "late", Text: "bread"}}, nil)
	assert.Equal(t, errors.ErrCodeIndexFailed, errors.GetCode(err))
}

func TestEngine_InvalidBatchLeavesBackendsUntouched(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})

	err := e.AddChunks(context.Background(), []chunk.Chunk{
		{ID: "fresh", Text: "bread network"},
		{ID: "", Text: "no id"},
	}, nil)

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	for _, mode := range e.Backends() {
		idx, _ := e.Index(mode)
		assert.Equal(t, 3, idx.ChunkCount(), mode)
	}

	// A valid batch afterwards still ingests and saves.
	require.NoError(t, e.AddChunks(context.Background(), []chunk.Chunk{{ID: "fresh", Text: "bread network"}}, nil))
	assert.Equal(t, 4, e.ChunkCount())
	require.NoError(t, e.Save(filepath.Join(t.TempDir(), "engine")))
}

func TestEngine_ConcurrentSearchDuringIngest(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := chunk.Chunk{ID: fmt.Sprintf("extra-%d", i), Text: "python bread"}
			assert.NoError(t, e.AddChunks(ctx, []chunk.Chunk{c}, nil))
		}()
		go func() {
			defer wg.Done()
			_, err := e.Search(ctx, index.Query{Text: "python", Mode: index.ModeHybrid}, 5)
			assert.NoError(t, err)
			assert.GreaterOrEqual(t, e.ChunkCount(), 3)
			assert.True(t, e.Supports(index.ModeHybrid))
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, e.ChunkCount())
}

func TestEngine_SaveLoadRoundTrip(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})
	dir := filepath.Join(t.TempDir(), "engine")
	ctx := context.Background()

	require.NoError(t, e.Save(dir))

	// Root manifest plus one directory per backend
	m, err := index.ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, index.ModeHybrid, m.Mode)
	assert.Equal(t, e.ID(), m.IndexID)
	for _, name := range []string{"grep", "keyword", "vector"} {
		assert.FileExists(t, filepath.Join(dir, name, index.ManifestFile))
	}

	loaded, err := LoadEngine(ctx, dir, EngineOptions{Embedder: &MockEmbedder{}})
	require.NoError(t, err)
	assert.Equal(t, e.ID(), loaded.ID())
	assert.Equal(t, e.Backends(), loaded.Backends())
	assert.Equal(t, e.ChunkCount(), loaded.ChunkCount())

	var before, after []string
	for c := range e.Chunks() {
		before = append(before, c.ID)
	}
	for c := range loaded.Chunks() {
		after = append(after, c.ID)
	}
	assert.Equal(t, before, after)

	want, err := e.Search(ctx, index.Query{Text: "python"}, 5)
	require.NoError(t, err)
	got, err := loaded.Search(ctx, index.Query{Text: "python"}, 5)
	require.NoError(t, err)
	assert.Equal(t, ids(want), ids(got))
}

func TestLoadEngine_WithoutVectorDirectory(t *testing.T) {
	e := newTestEngine(t, EngineOptions{})
	dir := filepath.Join(t.TempDir(), "engine")
	require.NoError(t, e.Save(dir))
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "vector")))

	loaded, err := LoadEngine(context.Background(), dir, EngineOptions{})

	require.NoError(t, err)
	assert.Equal(t, []index.Mode{index.ModeGrep, index.ModeKeyword}, loaded.Backends())
}

func TestLoadEngine_SingleBackendDirectory(t *testing.T) {
	k, err := index.NewKeyword(config.Default())
	require.NoError(t, err)
	require.NoError(t, k.AddChunks(context.Background(), corpus, nil))
	dir := filepath.Join(t.TempDir(), "kw")
	require.NoError(t, k.Save(dir))

	loaded, err := LoadEngine(context.Background(), dir, EngineOptions{})

	require.NoError(t, err)
	assert.Equal(t, []index.Mode{index.ModeKeyword}, loaded.Backends())
	assert.Equal(t, k.ID(), loaded.ID())

	// default_mode is hybrid, which this index cannot serve
	_, err = loaded.Search(context.Background(), index.Query{Text: "python"}, 5)
	assert.True(t, errors.IsBackendUnavailable(err))
}

func TestLoadEngine_MissingManifest(t *testing.T) {
	_, err := LoadEngine(context.Background(), t.TempDir(), EngineOptions{})

	assert.Equal(t, errors.ErrCodeManifestNotFound, errors.GetCode(err))
}

func TestLoadEngine_InconsistentBackendsAreCorrupt(t *testing.T) {
	e := newTestEngine(t, EngineOptions{Backends: []index.Mode{index.ModeGrep, index.ModeKeyword}})
	dir := filepath.Join(t.TempDir(), "engine")
	require.NoError(t, e.Save(dir))

	// Replace grep/ with an index holding fewer chunks
	g, err := index.NewGrep(config.Default())
	require.NoError(t, err)
	require.NoError(t, g.AddChunks(context.Background(), corpus[:1], nil))
	require.NoError(t, g.Save(filepath.Join(dir, "grep")))

	_, err = LoadEngine(context.Background(), dir, EngineOptions{})

	assert.Equal(t, errors.ErrCodeCorruptIndex, errors.GetCode(err))
}

func TestEngine_RecordsSearchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	e := newTestEngine(t, EngineOptions{Metrics: metrics})
	ctx := context.Background()

	for i := range 3 {
		_, err := e.Search(ctx, index.Query{Text: fmt.Sprintf("python %d", i), Mode: index.ModeKeyword}, 5)
		require.NoError(t, err)
	}
	_, err := e.Search(ctx, index.Query{Text: "(", Mode: index.ModeGrep}, 5)
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.SearchTotal.WithLabelValues("keyword", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SearchTotal.WithLabelValues("grep", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ChunksIngested.WithLabelValues("keyword")))
}
