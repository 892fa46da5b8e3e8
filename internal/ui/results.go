package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/index"
)

// SnippetLines is the number of chunk lines shown per result.
const SnippetLines = 3

// RenderResults prints ranked results in human-readable form.
func RenderResults(w io.Writer, s Styles, query string, mode index.Mode, results []index.Result) {
	if len(results) == 0 {
		_, _ = fmt.Fprintf(w, "No results found for %q\n", query)
		return
	}

	_, _ = fmt.Fprintln(w, s.Header.Render(fmt.Sprintf("Found %d results for %q (%s)", len(results), query, mode.Backend())))
	_, _ = fmt.Fprintln(w)

	for i, r := range results {
		_, _ = fmt.Fprintf(w, "%s %s  %s  %s\n",
			s.Rank.Render(fmt.Sprintf("%2d.", i+1)),
			s.Score.Render(fmt.Sprintf("%.4f", r.Score)),
			s.Source.Render(Location(r)),
			s.Badge.Render("["+r.Chunk.ID+"]"),
		)
		if detail := scoreDetail(r); detail != "" {
			_, _ = fmt.Fprintf(w, "    %s\n", s.Label.Render(detail))
		}
		for _, line := range Snippet(r, SnippetLines) {
			_, _ = fmt.Fprintf(w, "    %s\n", s.Snippet.Render(line))
		}
		_, _ = fmt.Fprintln(w)
	}
}

// Location describes where a result comes from: source, heading path and,
// for grep hits, the line number.
func Location(r index.Result) string {
	var parts []string
	if src := r.Chunk.Metadata[chunk.MetaSource]; src != "" {
		if n, ok := r.Metadata[index.MetaLineNumber].(int); ok {
			src = fmt.Sprintf("%s:%d", src, n)
		}
		parts = append(parts, src)
	}
	if hp := r.Chunk.HeadingPath(); len(hp) > 0 {
		parts = append(parts, strings.Join(hp, " › "))
	}
	if len(parts) == 0 {
		return r.Chunk.ID
	}
	return strings.Join(parts, "  ")
}

// Snippet returns up to n display lines. Grep hits show the matched line
// with its context; other results show the start of the chunk.
func Snippet(r index.Result, n int) []string {
	if line, ok := r.Metadata[index.MetaLine].(string); ok {
		var out []string
		if before, ok := r.Metadata[index.MetaContextBefore].([]string); ok {
			out = append(out, before...)
		}
		out = append(out, "> "+line)
		if after, ok := r.Metadata[index.MetaContextAfter].([]string); ok {
			out = append(out, after...)
		}
		return out
	}

	var out []string
	for _, line := range strings.Split(r.Chunk.RawText(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}

func scoreDetail(r index.Result) string {
	if combined, _ := r.Metadata[index.MetaCombined].(bool); combined {
		return fmt.Sprintf("keyword %.4f × %.2f + vector %.4f × %.2f",
			asFloat(r.Metadata[index.MetaKeywordScore]), asFloat(r.Metadata[index.MetaKeywordWeight]),
			asFloat(r.Metadata[index.MetaVectorScore]), asFloat(r.Metadata[index.MetaVectorWeight]))
	}
	if approx, _ := r.Metadata[index.MetaApproximate].(bool); approx {
		return "approximate nearest neighbour"
	}
	return ""
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
