package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/catalog"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/index"
	"github.com/Aman-CERP/docsearch/internal/ui"
)

// listedIndex is one row of list output.
type listedIndex struct {
	catalog.Entry
	Searches int  `json:"searches"`
	Missing  bool `json:"missing"`
}

func newListCmd(a *app) *cobra.Command {
	var jsonOutput bool
	var prune bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexes recorded in the catalog",
		Long: `List indexes recorded in the catalog, most recently built first.

Indexes whose directory no longer holds a manifest are marked missing;
--prune removes them from the catalog.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, a, jsonOutput, prune)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&prune, "prune", false, "Remove entries whose index directory is gone")
	return cmd
}

func runList(cmd *cobra.Command, a *app, jsonOutput, prune bool) error {
	ctx := cmd.Context()
	cat, err := a.openCatalog()
	if err != nil {
		return err
	}
	if cat == nil {
		return errors.ConfigError("catalog", "the catalog is disabled").
			WithSuggestion("pass --catalog with a database path")
	}
	defer func() { _ = cat.Close() }()

	entries, err := cat.List(ctx)
	if err != nil {
		return err
	}

	out := ui.NewWriter(cmd.OutOrStdout())
	rows := make([]listedIndex, 0, len(entries))
	for _, e := range entries {
		missing := !manifestExists(e.Directory)
		if missing && prune {
			if err := cat.Remove(ctx, e.IndexID); err != nil {
				return err
			}
			if !jsonOutput {
				out.Warningf("removed %s (%s)", e.IndexID, e.Directory)
			}
			continue
		}
		st, err := cat.SearchStats(ctx, e.IndexID)
		if err != nil {
			return err
		}
		rows = append(rows, listedIndex{Entry: e, Searches: st.Searches, Missing: missing})
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		out.Status("", "No indexes recorded")
		return nil
	}
	s := out.Styles()
	for _, r := range rows {
		status := ""
		if r.Missing {
			status = " " + s.Warning.Render("(missing)")
		}
		_, _ = fmt.Fprintf(out.Out(), "%s  %s  %s%s\n",
			s.Badge.Render(r.IndexID),
			r.Directory,
			s.Label.Render(fmt.Sprintf("%d chunks, %d searches, %s", r.ChunkCount, r.Searches, r.UpdatedAt.Format(time.DateTime))),
			status,
		)
	}
	return nil
}

func manifestExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, index.ManifestFile))
	return err == nil
}
