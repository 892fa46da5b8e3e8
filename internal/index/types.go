// Package index implements the retrieval backends (grep, BM25 keyword and
// dense vector) behind one contract, and their versioned on-disk format.
package index

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// Mode selects the backend(s) a search is dispatched to.
type Mode string

// Search modes.
const (
	ModeGrep    Mode = "GREP"
	ModeKeyword Mode = "KEYWORD"
	ModeVector  Mode = "VECTOR"
	ModeHybrid  Mode = "HYBRID"
)

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeGrep, ModeKeyword, ModeVector, ModeHybrid:
		return m, nil
	default:
		return "", errors.ValidationError(fmt.Sprintf("unknown search mode %q", s), nil).
			WithSuggestion("use grep, keyword, vector or hybrid")
	}
}

// Backend returns the lowercase backend name used in metadata and metrics.
func (m Mode) Backend() string {
	return strings.ToLower(string(m))
}

// Query is one search request. It is not modified by any backend.
type Query struct {
	Text string
	// Mode overrides the default mode when set. Ignored by single backends.
	Mode Mode
	// Filter keeps only chunks whose metadata equals every entry.
	Filter map[string]string
}

// Blank reports whether the query has no searchable text.
func (q Query) Blank() bool {
	return strings.TrimSpace(q.Text) == ""
}

// Matches reports whether c passes the metadata filter.
func (q Query) Matches(c chunk.Chunk) bool {
	for k, v := range q.Filter {
		if c.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Result metadata keys.
const (
	MetaBackend       = "backend"
	MetaRawScore      = "raw_score" // single-backend results only
	MetaCombined      = "combined"
	MetaKeywordScore  = "keyword_score"
	MetaVectorScore   = "vector_score"
	MetaKeywordWeight = "keyword_weight"
	MetaVectorWeight  = "vector_weight"
	MetaLineNumber    = "line_number"
	MetaLine          = "line"
	MetaContextBefore = "grep_context_before"
	MetaContextAfter  = "grep_context_after"
	MetaMatchedTerms  = "matched_terms"
	MetaApproximate   = "approximate"
)

// Result is one ranked hit. Chunk is a read-only view of the indexed chunk.
type Result struct {
	Chunk    chunk.Chunk    `json:"chunk"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// EventItemDone is emitted once per ingested chunk.
const EventItemDone = "item_done"

// ProgressEvent reports ingestion progress.
type ProgressEvent struct {
	Type     string            `json:"event_type"`
	Metadata map[string]string `json:"metadata"`
}

// ProgressFunc receives progress events. It is advisory: returned errors
// and panics are logged and never interrupt ingestion.
type ProgressFunc func(ProgressEvent) error

// Index is the contract shared by every backend.
//
// An Index is not safe for concurrent mutation; callers serialise
// AddChunks against Search.
type Index interface {
	// Mode identifies the backend.
	Mode() Mode
	// ID is the index_id recorded in the manifest.
	ID() string
	// Options returns a copy of the options the index was built with.
	Options() config.Options

	// AddChunks ingests chunks after any already present. Chunk ids must be
	// new and unique within the batch; on a duplicate nothing is ingested.
	AddChunks(ctx context.Context, chunks []chunk.Chunk, progress ProgressFunc) error
	// Chunks yields every ingested chunk in insertion order. The sequence
	// may be ranged over any number of times.
	Chunks() iter.Seq[chunk.Chunk]
	// ChunkCount is the number of ingested chunks.
	ChunkCount() int
	// Chunk returns the ingested chunk with id.
	Chunk(id string) (chunk.Chunk, bool)

	// Search returns at most topK results, score-descending.
	// An empty index or a blank query yields no results and no error.
	Search(ctx context.Context, q Query, topK int) ([]Result, error)

	// Save replaces dir with the index's manifest and data files.
	Save(dir string) error
	// WriteDir writes the same files into an existing empty directory
	// without locking; Save is the safe entry point.
	WriteDir(dir string) error
}
