package cmd

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/catalog"
	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/index"
	"github.com/Aman-CERP/docsearch/internal/search"
	"github.com/Aman-CERP/docsearch/internal/ui"
)

// buildOptions holds CLI flags for build.
type buildOptions struct {
	out      string
	backends []string
	strict   bool // fail instead of skipping an unavailable vector backend
	quiet    bool
}

func newBuildCmd(a *app) *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build <files or directories...>",
		Short: "Chunk documents and build search indexes",
		Long: `Chunk documents and build grep, keyword and vector indexes.

Markdown files are split on headings, .jsonl files hold one
{"heading_path": [...], "text": "..."} block per line, and any other
file is indexed as a single block. Directories are walked for .md,
.markdown, .txt and .jsonl files.

Examples:
  docsearch build README.md docs/ --out .docsearch/index
  docsearch build notes.jsonl --out idx --backends keyword,vector`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, a, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Index directory to write (replaced if it exists)")
	cmd.Flags().StringSliceVarP(&opts.backends, "backends", "b", []string{"grep", "keyword", "vector"}, "Backends to build")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail if the embedding model is unavailable instead of skipping the vector backend")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runBuild(cmd *cobra.Command, a *app, args []string, opts buildOptions) error {
	ctx := cmd.Context()
	start := time.Now()
	out := ui.NewWriter(cmd.OutOrStdout())

	cfg, err := a.options()
	if err != nil {
		return err
	}
	modes, err := parseBackends(opts.backends)
	if err != nil {
		return err
	}

	files, err := collectFiles(args)
	if err != nil {
		return err
	}

	chunker, err := chunk.New(cfg, chunk.WithLogger(a.logger))
	if err != nil {
		return err
	}
	var chunks []chunk.Chunk
	for _, f := range files {
		blocks, err := readBlocks(f)
		if err != nil {
			return err
		}
		chunks = append(chunks, chunker.Chunk(sourceName(f), blocks)...)
	}
	a.logger.Info("build_chunked",
		slog.Int("files", len(files)),
		slog.Int("chunks", len(chunks)))

	engine, err := search.NewEngine(ctx, cfg, search.EngineOptions{
		Logger:   a.logger,
		Metrics:  a.metrics,
		Backends: modes,
		Fallback: !opts.strict,
	})
	if err != nil {
		return err
	}
	built := engine.Backends()
	if len(built) < len(modes) {
		out.Warningf("vector backend skipped: embedding model %q is unavailable", cfg.VectorModelName)
	}

	var progress index.ProgressFunc
	if !opts.quiet {
		progress = ui.NewBuildProgress(ui.NewWriter(cmd.ErrOrStderr()), len(chunks), len(built), 50).Observe
	}
	if err := engine.AddChunks(ctx, chunks, progress); err != nil {
		return err
	}
	if err := engine.Save(opts.out); err != nil {
		return err
	}

	if err := a.record(cmd, engine, opts.out); err != nil {
		out.Warningf("index not recorded in catalog: %v", err)
	}

	out.Successf("Indexed %d chunks from %d files in %s", engine.ChunkCount(), len(files), time.Since(start).Round(time.Millisecond))
	out.KeyValue("directory", opts.out)
	out.KeyValue("index_id", engine.ID())
	out.KeyValue("backends", joinModes(built))
	return nil
}

// record upserts the saved engine into the catalog, if enabled.
func (a *app) record(cmd *cobra.Command, engine *search.Engine, dir string) error {
	cat, err := a.openCatalog()
	if err != nil || cat == nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	return cat.Record(cmd.Context(), catalog.Entry{
		IndexID:    engine.ID(),
		Mode:       string(index.ModeHybrid),
		Directory:  dir,
		Version:    index.FormatVersion,
		ChunkCount: engine.ChunkCount(),
		CreatedAt:  engine.CreatedAt(),
	})
}

func parseBackends(names []string) ([]index.Mode, error) {
	var modes []index.Mode
	seen := make(map[index.Mode]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		mode, err := index.ParseMode(name)
		if err != nil {
			return nil, err
		}
		if mode == index.ModeHybrid {
			modes = appendOnce(modes, seen, index.ModeKeyword, index.ModeVector)
			continue
		}
		modes = appendOnce(modes, seen, mode)
	}
	if len(modes) == 0 {
		return nil, errors.ValidationError("at least one backend is required", nil)
	}
	return modes, nil
}

func appendOnce(modes []index.Mode, seen map[index.Mode]bool, add ...index.Mode) []index.Mode {
	for _, m := range add {
		if !seen[m] {
			seen[m] = true
			modes = append(modes, m)
		}
	}
	return modes
}

func joinModes(modes []index.Mode) string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = m.Backend()
	}
	return strings.Join(names, ", ")
}
