package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// jsonSearch mirrors searchOutput for decoding.
type jsonSearch struct {
	Query   string `json:"query"`
	Mode    string `json:"mode"`
	IndexID string `json:"index_id"`
	Results []struct {
		Chunk    chunk.Chunk    `json:"chunk"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"results"`
}

func decodeSearch(t *testing.T, out string) jsonSearch {
	t.Helper()
	var s jsonSearch
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	return s
}

func TestSearchCmd_KeywordJSON(t *testing.T) {
	w := newWorkspace(t)
	w.build(t)

	out, err := w.search(t, "python", "--mode", "keyword", "--json")

	require.NoError(t, err)
	s := decodeSearch(t, out)
	assert.Equal(t, "KEYWORD", s.Mode)
	assert.NotEmpty(t, s.IndexID)
	require.NotEmpty(t, s.Results)
	assert.Equal(t, filepath.ToSlash(filepath.Join(w.docs, "notes.txt")), s.Results[0].Chunk.Metadata[chunk.MetaSource])
	assert.Equal(t, "keyword", s.Results[0].Metadata["backend"])
}

func TestSearchCmd_GrepText(t *testing.T) {
	w := newWorkspace(t)
	w.build(t)

	out, err := w.search(t, "pooling", "--mode", "grep")

	require.NoError(t, err)
	assert.Contains(t, out, `results for "pooling" (grep)`)
	assert.Contains(t, out, "> Tune pooling with max_idle and max_open.")
}

func TestSearchCmd_DefaultModeIsHybrid(t *testing.T) {
	w := newWorkspace(t)
	w.build(t)

	out, err := w.search(t, "python", "--json")

	require.NoError(t, err)
	s := decodeSearch(t, out)
	assert.Equal(t, "HYBRID", s.Mode)
	require.NotEmpty(t, s.Results)
	assert.Equal(t, true, s.Results[0].Metadata["combined"])
}

func TestSearchCmd_DefaultModeFallsBackToKeyword(t *testing.T) {
	w := newWorkspace(t)
	w.build(t, "--backends", "grep,keyword")

	out, err := w.search(t, "python", "--json")

	require.NoError(t, err)
	assert.Equal(t, "KEYWORD", decodeSearch(t, out).Mode)
}

func TestSearchCmd_ExplicitModeWithoutBackend(t *testing.T) {
	w := newWorkspace(t)
	w.build(t, "--backends", "keyword")

	_, err := w.search(t, "python", "--mode", "vector")

	assert.True(t, errors.IsBackendUnavailable(err))
}

func TestSearchCmd_Filter(t *testing.T) {
	w := newWorkspace(t)
	w.build(t)
	guide := filepath.ToSlash(filepath.Join(w.docs, "guide.md"))

	out, err := w.search(t, "the", "--mode", "keyword", "--json", "--filter", "source="+guide)

	require.NoError(t, err)
	s := decodeSearch(t, out)
	require.NotEmpty(t, s.Results)
	for _, r := range s.Results {
		assert.Equal(t, guide, r.Chunk.Metadata[chunk.MetaSource])
	}
}

func TestSearchCmd_NoResults(t *testing.T) {
	w := newWorkspace(t)
	w.build(t)

	out, err := w.search(t, "zebra", "--mode", "keyword")

	require.NoError(t, err)
	assert.Contains(t, out, `No results found for "zebra"`)
}

func TestSearchCmd_MissingIndex(t *testing.T) {
	_, _, err := run(t, "search", "q", "--index", t.TempDir(), "--catalog", "")

	assert.Equal(t, errors.ErrCodeManifestNotFound, errors.GetCode(err))
}

func TestSearchCmd_InvalidMode(t *testing.T) {
	w := newWorkspace(t)
	w.build(t)

	_, err := w.search(t, "q", "--mode", "fuzzy")

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestSearchCmd_WritesMetricsFile(t *testing.T) {
	w := newWorkspace(t)
	w.build(t)
	metrics := filepath.Join(t.TempDir(), "docsearch.prom")

	_, err := w.search(t, "python", "--mode", "keyword", "--metrics-file", metrics)
	require.NoError(t, err)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), "docsearch_search_total")
	assert.Contains(t, string(data), `mode="keyword"`)
	assert.Contains(t, string(data), `status="success"`)
}
