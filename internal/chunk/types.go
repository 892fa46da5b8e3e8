package chunk

import (
	"maps"
	"strings"
)

// Metadata keys written by the chunker.
const (
	MetaSource       = "source"
	MetaHeadingPath  = "heading_path"
	MetaHeading      = "heading"
	MetaHeadingLevel = "heading_level"
	MetaSectionIndex = "section_index"
	MetaChunkIndex   = "chunk_index"
	MetaTokenStart   = "token_start"
	MetaTokenEnd     = "token_end"
	MetaRawText      = "raw_text" // Set only when a heading prefix was merged
)

// HeadingPathSeparator joins heading path elements in metadata.
const HeadingPathSeparator = " > "

// Block is one (heading_path, text) unit produced by a document parser.
// An empty HeadingPath marks content that precedes the first heading.
type Block struct {
	HeadingPath []string `json:"heading_path"`
	Text        string   `json:"text"`
}

// Chunk is a retrievable unit of content.
// Chunks are treated as immutable once created.
type Chunk struct {
	ID       string            `json:"chunk_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Clone returns a copy that shares nothing with c.
func (c Chunk) Clone() Chunk {
	out := c
	if c.Metadata != nil {
		out.Metadata = maps.Clone(c.Metadata)
	}
	return out
}

// RawText returns the chunk text without any merged heading prefix.
func (c Chunk) RawText() string {
	if raw, ok := c.Metadata[MetaRawText]; ok {
		return raw
	}
	return c.Text
}

// HeadingPath returns the heading path recorded for the chunk.
func (c Chunk) HeadingPath() []string {
	p := c.Metadata[MetaHeadingPath]
	if p == "" {
		return nil
	}
	return strings.Split(p, HeadingPathSeparator)
}
