// Package chunk splits heading-annotated document text into token-bounded,
// optionally overlapping chunks shared by every index backend.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/logging"
)

// Chunker turns document blocks into chunks.
// It is safe for concurrent use; it holds no mutable state.
type Chunker struct {
	opts   config.Options
	logger *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chunker) { c.logger = l }
}

// New creates a chunker reading its parameters from opts. Invalid options
// are a configuration error.
func New(opts config.Options, options ...Option) (*Chunker, error) {
	validated, err := config.New(opts)
	if err != nil {
		return nil, err
	}
	c := &Chunker{opts: validated}
	for _, o := range options {
		o(c)
	}
	c.logger = logging.OrDefault(c.logger)
	return c, nil
}

// section is a run of consecutive blocks sharing one effective heading path.
type section struct {
	path []string
	text string
}

// window is a half-open token range [start, end).
type window struct {
	start, end int
}

// Chunk splits blocks from source into chunks.
// Empty input yields no chunks. Output is fully determined by source,
// blocks and the options.
func (c *Chunker) Chunk(source string, blocks []Block) []Chunk {
	sections := c.sections(blocks)

	var chunks []Chunk
	for si, sec := range sections {
		tokens := tokenize(sec.text)
		if len(tokens) == 0 {
			continue
		}

		for wi, w := range c.windows(len(tokens)) {
			raw := sec.text[tokens[w.start].start:tokens[w.end-1].end]
			chunks = append(chunks, c.newChunk(source, si, wi, sec.path, w, raw))
		}
	}

	c.logger.Debug("document_chunked",
		slog.String("source", source),
		slog.Int("blocks", len(blocks)),
		slog.Int("sections", len(sections)),
		slog.Int("chunks", len(chunks)))

	return chunks
}

// sections applies the preamble and heading-level rules and merges
// consecutive blocks whose effective heading paths are equal.
func (c *Chunker) sections(blocks []Block) []section {
	var out []section
	var parts []string
	var current []string
	open := false
	seenHeading := false

	flush := func() {
		if open && len(parts) > 0 {
			out = append(out, section{path: current, text: strings.Join(parts, "\n\n")})
		}
		parts = nil
		open = false
	}

	for _, b := range blocks {
		if len(b.HeadingPath) > 0 {
			seenHeading = true
		} else if !seenHeading && !c.opts.IncludePreamble {
			continue
		}

		path := c.effectivePath(b.HeadingPath)
		if !open || !slices.Equal(path, current) {
			flush()
			current = path
			open = true
		}
		if strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	flush()

	return out
}

// effectivePath truncates p to max_heading_level so deeper headings fold
// into their nearest qualifying ancestor.
func (c *Chunker) effectivePath(p []string) []string {
	if c.opts.MaxHeadingLevel > 0 && len(p) > c.opts.MaxHeadingLevel {
		p = p[:c.opts.MaxHeadingLevel]
	}
	return slices.Clone(p)
}

// windows computes sliding windows over n tokens.
func (c *Chunker) windows(n int) []window {
	size := c.opts.ChunkSizeTokens
	step := size - c.opts.ChunkOverlapTokens

	var ws []window
	for start := 0; ; start += step {
		end := min(start+size, n)
		ws = append(ws, window{start, end})
		if end == n {
			break
		}
	}

	// A short tail is absorbed by its predecessor
	if len(ws) > 1 {
		last := ws[len(ws)-1]
		if last.end-last.start < c.opts.MinChunkTokens {
			ws = ws[:len(ws)-1]
			ws[len(ws)-1].end = last.end
		}
	}

	return ws
}

func (c *Chunker) newChunk(source string, sectionIndex, chunkIndex int, path []string, w window, raw string) Chunk {
	meta := map[string]string{
		MetaSource:       source,
		MetaHeadingPath:  strings.Join(path, HeadingPathSeparator),
		MetaHeadingLevel: strconv.Itoa(len(path)),
		MetaSectionIndex: strconv.Itoa(sectionIndex),
		MetaChunkIndex:   strconv.Itoa(chunkIndex),
		MetaTokenStart:   strconv.Itoa(w.start),
		MetaTokenEnd:     strconv.Itoa(w.end),
	}

	text := raw
	if len(path) > 0 {
		heading := path[len(path)-1]
		meta[MetaHeading] = heading
		if c.opts.HeadingMerge && heading != "" {
			text = heading + "\n\n" + raw
			meta[MetaRawText] = raw
		}
	}

	return Chunk{
		ID:       chunkID(source, sectionIndex, w.start, raw),
		Text:     text,
		Metadata: meta,
	}
}

// chunkID derives a stable identifier: SHA256(source, section, offset, text)[:16].
func chunkID(source string, sectionIndex, tokenStart int, raw string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(sectionIndex)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(tokenStart)))
	h.Write([]byte{0})
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
