package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/catalog"
	"github.com/Aman-CERP/docsearch/internal/index"
	"github.com/Aman-CERP/docsearch/internal/ui"
)

// indexInfo is the --json document for info.
type indexInfo struct {
	Directory string                    `json:"directory"`
	Manifest  index.Manifest            `json:"manifest"`
	Backends  map[string]index.Manifest `json:"backends,omitempty"`
	Searches  *catalog.Stats            `json:"searches,omitempty"`
}

func newInfoCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info <index-dir>",
		Short: "Show the manifest of a built index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := readInfo(args[0])
			if err != nil {
				return err
			}
			info.Searches = a.searchStats(cmd, info.Manifest.IndexID)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			printInfo(ui.NewWriter(cmd.OutOrStdout()), info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func readInfo(dir string) (indexInfo, error) {
	m, err := index.ReadManifest(dir)
	if err != nil {
		return indexInfo{}, err
	}
	info := indexInfo{Directory: dir, Manifest: m}
	if m.Mode != index.ModeHybrid {
		return info, nil
	}

	info.Backends = make(map[string]index.Manifest)
	for _, mode := range []index.Mode{index.ModeGrep, index.ModeKeyword, index.ModeVector} {
		sub := filepath.Join(dir, mode.Backend())
		if _, err := os.Stat(filepath.Join(sub, index.ManifestFile)); err != nil {
			continue
		}
		bm, err := index.ReadManifest(sub)
		if err != nil {
			return indexInfo{}, err
		}
		info.Backends[mode.Backend()] = bm
	}
	return info, nil
}

// searchStats returns the catalog search summary, or nil if unavailable.
func (a *app) searchStats(cmd *cobra.Command, id string) *catalog.Stats {
	cat, err := a.openCatalog()
	if err != nil || cat == nil {
		return nil
	}
	defer func() { _ = cat.Close() }()

	st, err := cat.SearchStats(cmd.Context(), id)
	if err != nil {
		return nil
	}
	return &st
}

func printInfo(w *ui.Writer, info indexInfo) {
	m := info.Manifest
	_, _ = fmt.Fprintln(w.Out(), w.Styles().Header.Render("Index "+info.Directory))
	w.KeyValue("mode", m.Mode)
	w.KeyValue("index_id", m.IndexID)
	w.KeyValue("version", m.Version)
	w.KeyValue("created_at", m.CreatedAt.Format(time.RFC3339))
	printFields(w, m.Backend)

	names := make([]string, 0, len(info.Backends))
	for name := range info.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w.Newline()
		_, _ = fmt.Fprintln(w.Out(), w.Styles().Header.Render("Backend "+name))
		printFields(w, info.Backends[name].Backend)
	}

	if st := info.Searches; st != nil && st.Searches > 0 {
		w.Newline()
		w.KeyValue("searches", st.Searches)
		w.KeyValue("zero_results", st.ZeroResults)
		w.KeyValue("last_query", st.LastQuery)
	}
}

func printFields(w *ui.Writer, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.KeyValue(k, fields[k])
	}
}
