package cmd

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/catalog"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/index"
	"github.com/Aman-CERP/docsearch/internal/search"
	"github.com/Aman-CERP/docsearch/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	index  string
	mode   string
	topK   int
	json   bool
	filter map[string]string
}

// searchOutput is the --json document.
type searchOutput struct {
	Query   string         `json:"query"`
	Mode    string         `json:"mode"`
	IndexID string         `json:"index_id"`
	Results []index.Result `json:"results"`
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a built index",
		Long: `Search an index written by 'docsearch build'.

Without --mode the index's default_mode is used. If that mode needs a
backend the index does not have, keyword (or the only available
backend) is searched instead.

Examples:
  docsearch search "retry policy" --index idx
  docsearch search "ERR_[0-9]+" --index idx --mode grep
  docsearch search "vector quantisation" --index idx --mode hybrid --top-k 5 --json
  docsearch search "install" --index idx --filter source=README.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, a, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.index, "index", "i", "", "Index directory")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Search mode: grep, keyword, vector, hybrid")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output results as JSON")
	cmd.Flags().StringToStringVarP(&opts.filter, "filter", "f", nil, "Keep chunks whose metadata matches key=value (repeatable)")
	_ = cmd.MarkFlagRequired("index")

	return cmd
}

func runSearch(cmd *cobra.Command, a *app, query string, opts searchOptions) error {
	ctx := cmd.Context()

	if opts.topK < 0 {
		return errors.ValidationError("--top-k must not be negative", nil)
	}

	engine, err := search.LoadEngine(ctx, opts.index, search.EngineOptions{
		Logger:   a.logger,
		Metrics:  a.metrics,
		Fallback: true,
	})
	if err != nil {
		return err
	}

	mode, err := resolveMode(engine, opts.mode)
	if err != nil {
		return err
	}

	a.logger.Info("search_started",
		slog.String("query", query),
		slog.String("mode", string(mode)),
		slog.Int("top_k", opts.topK))

	start := time.Now()
	results, err := engine.Search(ctx, index.Query{Text: query, Mode: mode, Filter: opts.filter}, opts.topK)
	if err != nil {
		return err
	}
	a.logSearch(cmd, catalog.Search{
		IndexID: engine.ID(),
		Mode:    string(mode),
		Query:   query,
		Results: len(results),
		Latency: time.Since(start),
	})

	if opts.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(searchOutput{
			Query:   query,
			Mode:    string(mode),
			IndexID: engine.ID(),
			Results: results,
		})
	}

	ui.RenderResults(cmd.OutOrStdout(), ui.StylesFor(cmd.OutOrStdout()), query, mode, results)
	return nil
}

// resolveMode picks the mode to search. An explicit flag is used as is; the
// default mode is replaced when the engine lacks one of its backends.
func resolveMode(engine *search.Engine, flag string) (index.Mode, error) {
	if flag != "" {
		return index.ParseMode(flag)
	}

	mode, err := index.ParseMode(engine.Options().DefaultMode)
	if err != nil {
		return "", err
	}
	if engine.Supports(mode) {
		return mode, nil
	}
	if engine.Supports(index.ModeKeyword) {
		return index.ModeKeyword, nil
	}
	return engine.Backends()[0], nil
}

// logSearch appends to the catalog search log. Failures only warn.
func (a *app) logSearch(cmd *cobra.Command, s catalog.Search) {
	cat, err := a.openCatalog()
	if err == nil && cat != nil {
		defer func() { _ = cat.Close() }()
		err = cat.LogSearch(cmd.Context(), s)
	}
	if err != nil {
		a.logger.Warn("Failed to log search in catalog", slog.String("error", err.Error()))
	}
}
