package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/index"
)

func TestBuildCmd_WritesAllBackends(t *testing.T) {
	w := newWorkspace(t)

	out := w.build(t)

	assert.Contains(t, out, "Indexed")
	assert.Contains(t, out, "grep, keyword, vector")
	for _, sub := range []string{"", "grep", "keyword", "vector"} {
		assert.FileExists(t, filepath.Join(w.index, sub, index.ManifestFile))
	}
	m, err := index.ReadManifest(w.index)
	require.NoError(t, err)
	assert.Equal(t, index.ModeHybrid, m.Mode)
}

func TestBuildCmd_SelectedBackends(t *testing.T) {
	w := newWorkspace(t)

	w.build(t, "--backends", "grep,keyword")

	assert.FileExists(t, filepath.Join(w.index, "keyword", index.ManifestFile))
	assert.NoDirExists(t, filepath.Join(w.index, "vector"))
}

func TestBuildCmd_ProgressOnStderr(t *testing.T) {
	w := newWorkspace(t)

	_, stderr, err := run(t, "build", w.docs, "--out", w.index, "--catalog", "", "--backends", "keyword")

	require.NoError(t, err)
	assert.Contains(t, stderr, "100%")
	assert.Contains(t, stderr, "keyword")
}

func TestBuildCmd_UnavailableModelSkipsVector(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("DOCSEARCH_VECTOR_MODEL_NAME", "no-such-model")

	out := w.build(t)

	assert.Contains(t, out, "vector backend skipped")
	assert.NoDirExists(t, filepath.Join(w.index, "vector"))
}

func TestBuildCmd_StrictFailsOnUnavailableModel(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("DOCSEARCH_VECTOR_MODEL_NAME", "no-such-model")

	_, _, err := run(t, "build", w.docs, "--out", w.index, "--catalog", "", "--strict")

	assert.True(t, errors.IsBackendUnavailable(err))
	assert.NoDirExists(t, w.index)
}

func TestBuildCmd_MissingInput(t *testing.T) {
	_, _, err := run(t, "build", filepath.Join(t.TempDir(), "nope.md"), "--out", t.TempDir(), "--catalog", "")

	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetCode(err))
}

func TestBuildCmd_RequiresOut(t *testing.T) {
	w := newWorkspace(t)

	_, _, err := run(t, "build", w.docs, "--catalog", "")

	assert.Error(t, err)
}

func TestBuildCmd_InvalidBackend(t *testing.T) {
	w := newWorkspace(t)

	_, _, err := run(t, "build", w.docs, "--out", w.index, "--catalog", "", "--backends", "sql")

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestBuildCmd_InvalidConfigFile(t *testing.T) {
	w := newWorkspace(t)
	cfg := filepath.Join(t.TempDir(), "docsearch.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("chunk_size_tokens: 0\n"), 0o644))

	_, _, err := run(t, "build", w.docs, "--out", w.index, "--catalog", "", "--config", cfg)

	assert.True(t, errors.IsConfigError(err))
}

func TestParseBackends(t *testing.T) {
	modes, err := parseBackends([]string{"hybrid", " grep ", "keyword", ""})
	require.NoError(t, err)
	assert.Equal(t, []index.Mode{index.ModeKeyword, index.ModeVector, index.ModeGrep}, modes)

	_, err = parseBackends([]string{""})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}
