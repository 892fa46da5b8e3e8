package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
)

// MockEmbedder implements embed.Embedder for testing.
// Unset hooks fall back to a bag-of-words embedding over a fixed vocabulary.
type MockEmbedder struct {
	EmbedFn         func(ctx context.Context, text string) ([]float32, error)
	EmbedBatchFn    func(ctx context.Context, texts []string) ([][]float32, error)
	DimensionsValue int
	ModelNameValue  string

	BatchCalls atomic.Int32
	BatchSizes []int
}

// mockVocabulary defines the axes of the default mock embedding.
var mockVocabulary = []string{"python", "snake", "go", "rust", "database", "network", "cat", "dog"}

func mockVector(text string) []float32 {
	v := make([]float32, len(mockVocabulary))
	for _, word := range strings.Fields(strings.ToLower(text)) {
		for i, term := range mockVocabulary {
			if word == term {
				v[i]++
			}
		}
	}
	return v
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}
	return mockVector(text), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.BatchCalls.Add(1)
	m.BatchSizes = append(m.BatchSizes, len(texts))
	if m.EmbedBatchFn != nil {
		return m.EmbedBatchFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int {
	if m.DimensionsValue == 0 {
		return len(mockVocabulary)
	}
	return m.DimensionsValue
}

func (m *MockEmbedder) ModelName() string {
	if m.ModelNameValue == "" {
		return "mock"
	}
	return m.ModelNameValue
}

func (m *MockEmbedder) Available(_ context.Context) bool { return true }

func (m *MockEmbedder) Close() error { return nil }

// quiet is a logger that drops everything.
func quiet() Option {
	return WithLogger(slog.New(slog.DiscardHandler))
}

func textChunk(id, text string) chunk.Chunk {
	return chunk.Chunk{ID: id, Text: text, Metadata: map[string]string{chunk.MetaSource: "doc.md"}}
}

func numberedChunks(n int, format string) []chunk.Chunk {
	out := make([]chunk.Chunk, n)
	for i := range n {
		out[i] = textChunk(fmt.Sprintf("c%03d", i), fmt.Sprintf(format, i))
	}
	return out
}

func collect(idx Index) []chunk.Chunk {
	var out []chunk.Chunk
	for c := range idx.Chunks() {
		out = append(out, c)
	}
	return out
}

func resultIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Chunk.ID
	}
	return ids
}

// newAll builds one index of every backend over the mock embedder.
func newAll(t *testing.T, opts config.Options) []Index {
	t.Helper()

	g, err := NewGrep(opts, quiet())
	require.NoError(t, err)
	k, err := NewKeyword(opts, quiet())
	require.NoError(t, err)
	v, err := NewVector(context.Background(), opts, quiet(), WithEmbedder(&MockEmbedder{}))
	require.NoError(t, err)

	return []Index{g, k, v}
}
