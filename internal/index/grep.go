package index

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// GrepScore is the constant score of every grep match.
const GrepScore = 1.0

// patternCacheSize bounds the compiled pattern cache.
const patternCacheSize = 128

// Grep scans chunk lines for a literal string or regular expression.
// It keeps no search structure beyond the chunks themselves.
type Grep struct {
	base
	patterns *lru.Cache[string, *regexp.Regexp]
}

var _ Index = (*Grep)(nil)

// NewGrep creates an empty grep index.
func NewGrep(opts config.Options, options ...Option) (*Grep, error) {
	b, err := newBase(ModeGrep, opts, newSettings(options))
	if err != nil {
		return nil, err
	}
	return newGrepFromBase(b), nil
}

func newGrepFromBase(b base) *Grep {
	patterns, _ := lru.New[string, *regexp.Regexp](patternCacheSize)
	return &Grep{base: b, patterns: patterns}
}

// AddChunks appends chunks; grep needs no per-chunk ingestion work.
func (g *Grep) AddChunks(_ context.Context, chunks []chunk.Chunk, progress ProgressFunc) error {
	if err := g.checkBatch(chunks); err != nil {
		return err
	}
	for _, c := range chunks {
		g.appendChunk(c)
		g.notify(progress, c.ID)
	}
	g.metrics.AddChunks(g.mode.Backend(), len(chunks))
	g.logger.Debug("chunks_ingested", slog.Int("count", len(chunks)), slog.Int("total", len(g.chunks)))
	return nil
}

// Search emits one result per matching line, in chunk then line order.
// An invalid regular expression is reported as ERR_403 and leaves the
// index usable.
func (g *Grep) Search(ctx context.Context, q Query, topK int) ([]Result, error) {
	if q.Blank() || topK <= 0 || len(g.chunks) == 0 {
		return []Result{}, nil
	}

	re, err := g.compile(q.Text)
	if err != nil {
		return nil, err
	}

	results := []Result{}
	for _, c := range g.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !q.Matches(c) {
			continue
		}

		lines := strings.Split(c.Text, "\n")
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			results = append(results, g.result(c, lines, i))
			if len(results) == topK {
				return results, nil
			}
		}
	}
	return results, nil
}

// compile turns the query into a regular expression honouring grep_regex
// and grep_ignore_case.
func (g *Grep) compile(text string) (*regexp.Regexp, error) {
	pattern := text
	if !g.opts.GrepRegex {
		pattern = regexp.QuoteMeta(text)
	}
	if g.opts.GrepIgnoreCase {
		pattern = "(?i)" + pattern
	}

	if re, ok := g.patterns.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidQuery, "invalid regular expression", err).
			WithDetail("pattern", text).
			WithSuggestion("escape special characters or disable grep_regex")
	}
	g.patterns.Add(pattern, re)
	return re, nil
}

func (g *Grep) result(c chunk.Chunk, lines []string, i int) Result {
	before := max(0, i-g.opts.GrepContextBefore)
	after := min(len(lines), i+1+g.opts.GrepContextAfter)

	meta := map[string]any{
		MetaBackend:       g.mode.Backend(),
		MetaRawScore:      GrepScore,
		MetaLine:          g.truncate(lines[i]),
		MetaContextBefore: g.truncateAll(lines[before:i]),
		MetaContextAfter:  g.truncateAll(lines[i+1 : after]),
	}
	if g.opts.GrepShowLineNumbers {
		meta[MetaLineNumber] = i + 1
	}

	return Result{Chunk: c, Score: GrepScore, Metadata: meta}
}

// truncate shortens a line to grep_max_columns runes for display.
func (g *Grep) truncate(line string) string {
	limit := g.opts.GrepMaxColumns
	if limit <= 0 || utf8.RuneCountInString(line) <= limit {
		return line
	}
	return string([]rune(line)[:limit])
}

func (g *Grep) truncateAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = g.truncate(l)
	}
	return out
}

// Save replaces dir with the grep index.
func (g *Grep) Save(dir string) error {
	return Persist(dir, g.WriteDir)
}

// WriteDir writes chunks.jsonl and manifest.json into dir.
func (g *Grep) WriteDir(dir string) error {
	return g.writeCommon(dir, nil)
}
