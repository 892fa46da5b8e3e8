package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const guideMD = `# Guide

Intro text for the guide.

## Install

Run the installer and restart the service.

## Connection pooling

The pool keeps idle connections open.
Tune pooling with max_idle and max_open.
`

const notesTXT = `python notes
python is a language and python is also a snake
`

const blocksJSONL = `{"heading_path": ["FAQ"], "text": "How do I rotate credentials? Use the vault."}

{"heading_path": ["FAQ", "Backups"], "text": "Backups run nightly."}
`

// workspace is a temp directory with documents, an index path and a catalog.
type workspace struct {
	docs    string
	index   string
	catalog string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	root := t.TempDir()
	docs := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(filepath.Join(docs, ".hidden"), 0o755))
	for name, content := range map[string]string{
		"guide.md":          guideMD,
		"notes.txt":         notesTXT,
		"faq.jsonl":         blocksJSONL,
		"image.png":         "not a document",
		".hidden/secret.md": "# Secret\n\nshould not be indexed",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(docs, name), []byte(content), 0o644))
	}
	return workspace{
		docs:    docs,
		index:   filepath.Join(root, "index"),
		catalog: filepath.Join(root, "catalog.db"),
	}
}

// run executes the CLI with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root, a := newRootCmd()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	a.close()
	return stdout.String(), stderr.String(), err
}

// build indexes the workspace documents.
func (w workspace) build(t *testing.T, extra ...string) string {
	t.Helper()
	args := append([]string{"build", w.docs, "--out", w.index, "--catalog", w.catalog, "--quiet"}, extra...)
	out, _, err := run(t, args...)
	require.NoError(t, err)
	return out
}

func (w workspace) search(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := run(t, append([]string{"search", "--index", w.index, "--catalog", w.catalog}, args...)...)
	return out, err
}
