package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"grep", ModeGrep},
		{"KEYWORD", ModeKeyword},
		{" Vector ", ModeVector},
		{"hybrid", ModeHybrid},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseMode("fuzzy")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestSearch_EmptyIndexReturnsNoResults(t *testing.T) {
	// Given: one index of every backend with no chunks
	for _, idx := range newAll(t, config.Default()) {
		t.Run(string(idx.Mode()), func(t *testing.T) {
			// When: searching
			results, err := idx.Search(context.Background(), Query{Text: "python"}, 10)

			// Then: empty, not nil, no error
			require.NoError(t, err)
			assert.NotNil(t, results)
			assert.Empty(t, results)
		})
	}
}

func TestSearch_BlankQueryAndZeroTopK(t *testing.T) {
	for _, idx := range newAll(t, config.Default()) {
		t.Run(string(idx.Mode()), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.AddChunks(ctx, []chunk.Chunk{textChunk("a", "python code")}, nil))

			results, err := idx.Search(ctx, Query{Text: "   "}, 10)
			require.NoError(t, err)
			assert.Empty(t, results)

			results, err = idx.Search(ctx, Query{Text: "python"}, 0)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestAddChunks_IncrementalKeepsInsertionOrder(t *testing.T) {
	for _, idx := range newAll(t, config.Default()) {
		t.Run(string(idx.Mode()), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.AddChunks(ctx, numberedChunks(3, "first %d")[:2], nil))
			require.NoError(t, idx.AddChunks(ctx, []chunk.Chunk{textChunk("z", "later")}, nil))

			assert.Equal(t, 3, idx.ChunkCount())
			ids := []string{}
			for c := range idx.Chunks() {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, []string{"c000", "c001", "z"}, ids)

			// The sequence is restartable
			assert.Len(t, collect(idx), 3)
		})
	}
}

func TestAddChunks_DuplicateIDRejectsBatch(t *testing.T) {
	for _, idx := range newAll(t, config.Default()) {
		t.Run(string(idx.Mode()), func(t *testing.T) {
			ctx := context.Background()

			// Duplicate within one batch
			err := idx.AddChunks(ctx, []chunk.Chunk{textChunk("a", "one"), textChunk("a", "two")}, nil)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
			assert.Equal(t, 0, idx.ChunkCount())

			// Duplicate of an indexed chunk
			require.NoError(t, idx.AddChunks(ctx, []chunk.Chunk{textChunk("a", "one")}, nil))
			err = idx.AddChunks(ctx, []chunk.Chunk{textChunk("b", "two"), textChunk("a", "again")}, nil)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
			assert.Equal(t, 1, idx.ChunkCount())

			// Empty id
			err = idx.AddChunks(ctx, []chunk.Chunk{{Text: "anonymous"}}, nil)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
		})
	}
}

func TestAddChunks_ProgressEventPerChunk(t *testing.T) {
	for _, idx := range newAll(t, config.Default()) {
		t.Run(string(idx.Mode()), func(t *testing.T) {
			var events []ProgressEvent
			progress := func(e ProgressEvent) error {
				events = append(events, e)
				return nil
			}

			require.NoError(t, idx.AddChunks(context.Background(), numberedChunks(3, "text %d"), progress))

			require.Len(t, events, 3)
			for i, e := range events {
				assert.Equal(t, EventItemDone, e.Type)
				assert.Equal(t, fmt.Sprintf("c%03d", i), e.Metadata["chunk_id"])
			}
		})
	}
}

func TestAddChunks_FailingProgressCallbackDoesNotInterrupt(t *testing.T) {
	for _, idx := range newAll(t, config.Default()) {
		t.Run(string(idx.Mode()), func(t *testing.T) {
			calls := 0
			progress := func(e ProgressEvent) error {
				calls++
				if calls == 1 {
					return fmt.Errorf("boom")
				}
				panic("callback exploded")
			}

			err := idx.AddChunks(context.Background(), numberedChunks(4, "text %d"), progress)

			require.NoError(t, err)
			assert.Equal(t, 4, calls)
			assert.Equal(t, 4, idx.ChunkCount())
		})
	}
}

func TestAddChunks_StoresPrivateCopies(t *testing.T) {
	for _, idx := range newAll(t, config.Default()) {
		t.Run(string(idx.Mode()), func(t *testing.T) {
			c := textChunk("a", "python")
			require.NoError(t, idx.AddChunks(context.Background(), []chunk.Chunk{c}, nil))

			c.Metadata[chunk.MetaSource] = "mutated"

			assert.Equal(t, "doc.md", collect(idx)[0].Metadata[chunk.MetaSource])
		})
	}
}

func TestOptions_ReturnsCopy(t *testing.T) {
	opts := config.Default()
	opts.Extra = map[string]any{"team": "docs"}

	idx, err := NewKeyword(opts, quiet())
	require.NoError(t, err)

	snapshot := idx.Options()
	snapshot.BM25K1 = 9
	snapshot.Extra["team"] = "changed"

	assert.Equal(t, config.DefaultBM25K1, idx.Options().BM25K1)
	assert.Equal(t, "docs", idx.Options().Extra["team"])
}

func TestNew_InvalidOptionsAreConfigErrors(t *testing.T) {
	opts := config.Default()
	opts.BM25B = 1.5

	_, err := NewKeyword(opts)
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))

	_, err = NewGrep(opts)
	assert.True(t, errors.IsConfigError(err))
}

func TestSearch_FilterAppliesToEveryBackend(t *testing.T) {
	for _, idx := range newAll(t, config.Default()) {
		t.Run(string(idx.Mode()), func(t *testing.T) {
			ctx := context.Background()
			chunks := []chunk.Chunk{
				{ID: "a", Text: "python notes", Metadata: map[string]string{chunk.MetaSource: "a.md"}},
				{ID: "b", Text: "python guide", Metadata: map[string]string{chunk.MetaSource: "b.md"}},
			}
			require.NoError(t, idx.AddChunks(ctx, chunks, nil))

			results, err := idx.Search(ctx, Query{
				Text:   "python",
				Filter: map[string]string{chunk.MetaSource: "b.md"},
			}, 10)

			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, resultIDs(results))
		})
	}
}

func TestSearch_ResultsAreScoreDescendingAndBounded(t *testing.T) {
	chunks := []chunk.Chunk{
		textChunk("a", "python"),
		textChunk("b", "python python snake"),
		textChunk("c", "go rust"),
		textChunk("d", "python go"),
		textChunk("e", "python python python"),
	}
	for _, idx := range newAll(t, config.Default()) {
		t.Run(string(idx.Mode()), func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.AddChunks(ctx, chunks, nil))

			results, err := idx.Search(ctx, Query{Text: "python"}, 3)

			require.NoError(t, err)
			assert.LessOrEqual(t, len(results), 3)
			for i := 1; i < len(results); i++ {
				assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
			}
			for _, r := range results {
				assert.Equal(t, idx.Mode().Backend(), r.Metadata[MetaBackend])
			}
		})
	}
}
