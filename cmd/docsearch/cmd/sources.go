package cmd

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/ignore"
)

// documentExts are the file types build reads when walking directories.
var documentExts = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".jsonl":    true,
}

// collectFiles expands directory arguments into their document files and
// drops duplicates. Walks skip hidden directories and anything excluded by
// .gitignore or .docsearchignore files. Explicit file arguments are kept
// whatever their extension.
func collectFiles(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, errors.New(errors.ErrCodeFileNotFound, "input not found", err).
				WithDetail("path", arg)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}

		var found []string
		rules := ignore.New()
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(arg, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if rel == "." {
					return rules.LoadDir(arg, "")
				}
				if strings.HasPrefix(d.Name(), ".") || rules.Ignored(rel, true) {
					return filepath.SkipDir
				}
				return rules.LoadDir(arg, rel)
			}
			if documentExts[strings.ToLower(filepath.Ext(path))] && !rules.Ignored(rel, false) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.New(errors.ErrCodeFilePermission, "failed to walk input directory", err).
				WithDetail("path", arg)
		}
		slices.Sort(found)
		for _, p := range found {
			add(p)
		}
	}

	if len(files) == 0 {
		return nil, errors.ValidationError("no input documents found", nil).
			WithSuggestion("pass .md, .txt or .jsonl files, or directories containing them")
	}
	return files, nil
}

// readBlocks parses one input file into heading blocks. Markdown is split on
// headings, .jsonl holds one block object per line and anything else is a
// single block.
func readBlocks(path string) ([]chunk.Block, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return readJSONLBlocks(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFilePermission, "failed to read input", err).
			WithDetail("path", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return chunk.MarkdownBlocks(string(data)), nil
	default:
		return []chunk.Block{{Text: string(data)}}, nil
	}
}

func readJSONLBlocks(path string) ([]chunk.Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFilePermission, "failed to read input", err).
			WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	var blocks []chunk.Block
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var b chunk.Block
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, errors.ValidationError("invalid block record", err).
				WithDetail("path", path).
				WithDetail("line", strconv.Itoa(line))
		}
		blocks = append(blocks, b)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeFilePermission, "failed to read input", err).
			WithDetail("path", path)
	}
	return blocks, nil
}

// sourceName is the chunk source recorded for path.
func sourceName(path string) string {
	return filepath.ToSlash(path)
}
