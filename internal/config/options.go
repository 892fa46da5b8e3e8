// Package config holds the validated options bundle consumed by every
// retrieval component: chunking, BM25 constants, embedding parameters,
// hybrid weights and grep behaviour.
//
// Options is a value type. Once validated it is never mutated; components
// keep their own copy and hand out Clone()s.
package config

import (
	"fmt"
	"maps"
	"math"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// Version is the schema version stamped into option snapshots.
const Version = 1

// Chunking defaults (based on 2025 RAG research).
const (
	DefaultChunkSizeTokens    = 512 // Optimal for 85-90% recall
	DefaultChunkOverlapTokens = 64  // ~12.5% overlap
	DefaultMinChunkTokens     = 100 // Minimum viable chunk
)

// BM25 defaults.
const (
	DefaultBM25K1 = 1.2
	DefaultBM25B  = 0.75
)

// Embedding defaults.
const (
	DefaultVectorModelName = "static"
	DefaultVectorBatchSize = 32
)

// MaxHeadingLevel is the deepest markdown heading level.
const MaxHeadingLevel = 6

// Search modes accepted by DefaultMode.
var validModes = map[string]bool{"grep": true, "keyword": true, "vector": true, "hybrid": true}

// Options is the complete configuration of the retrieval core.
// Field names mirror the configuration surface one to one.
type Options struct {
	ChunkSizeTokens    int  `yaml:"chunk_size_tokens" json:"chunk_size_tokens"`
	ChunkOverlapTokens int  `yaml:"chunk_overlap_tokens" json:"chunk_overlap_tokens"`
	MinChunkTokens     int  `yaml:"min_chunk_tokens" json:"min_chunk_tokens"`
	IncludePreamble    bool `yaml:"include_preamble" json:"include_preamble"`
	HeadingMerge       bool `yaml:"heading_merge" json:"heading_merge"`
	// MaxHeadingLevel is the deepest heading treated as a section boundary.
	// Zero means unset (every heading level starts a section).
	MaxHeadingLevel int `yaml:"max_heading_level" json:"max_heading_level"`

	BM25K1 float64 `yaml:"bm25_k1" json:"bm25_k1"`
	BM25B  float64 `yaml:"bm25_b" json:"bm25_b"`

	VectorModelName string `yaml:"vector_model_name" json:"vector_model_name"`
	VectorBatchSize int    `yaml:"vector_batch_size" json:"vector_batch_size"`
	// VectorDevice selects the inference device; empty means automatic.
	VectorDevice              string `yaml:"vector_device" json:"vector_device"`
	VectorNormalizeEmbeddings bool   `yaml:"vector_normalize_embeddings" json:"vector_normalize_embeddings"`

	HybridKeywordWeight float64 `yaml:"hybrid_keyword_weight" json:"hybrid_keyword_weight"`
	HybridVectorWeight  float64 `yaml:"hybrid_vector_weight" json:"hybrid_vector_weight"`

	// DefaultMode is one of grep, keyword, vector, hybrid.
	DefaultMode string `yaml:"default_mode" json:"default_mode"`

	GrepContextBefore   int  `yaml:"grep_context_before" json:"grep_context_before"`
	GrepContextAfter    int  `yaml:"grep_context_after" json:"grep_context_after"`
	GrepRegex           bool `yaml:"grep_regex" json:"grep_regex"`
	GrepIgnoreCase      bool `yaml:"grep_ignore_case" json:"grep_ignore_case"`
	GrepShowLineNumbers bool `yaml:"grep_show_line_numbers" json:"grep_show_line_numbers"`
	// GrepMaxColumns truncates displayed lines; zero means unlimited.
	GrepMaxColumns int `yaml:"grep_max_columns" json:"grep_max_columns"`

	// Extra keeps keys this version does not recognise so snapshots
	// written by newer versions survive a round trip.
	Extra map[string]any `yaml:",inline" json:"-"`
}

// Default returns the default options.
func Default() Options {
	return Options{
		ChunkSizeTokens:           DefaultChunkSizeTokens,
		ChunkOverlapTokens:        DefaultChunkOverlapTokens,
		MinChunkTokens:            DefaultMinChunkTokens,
		IncludePreamble:           true,
		HeadingMerge:              true,
		MaxHeadingLevel:           0,
		BM25K1:                    DefaultBM25K1,
		BM25B:                     DefaultBM25B,
		VectorModelName:           DefaultVectorModelName,
		VectorBatchSize:           DefaultVectorBatchSize,
		VectorDevice:              "",
		VectorNormalizeEmbeddings: true,
		HybridKeywordWeight:       0.5,
		HybridVectorWeight:        0.5,
		DefaultMode:               "hybrid",
		GrepContextBefore:         0,
		GrepContextAfter:          0,
		GrepRegex:                 false,
		GrepIgnoreCase:            false,
		GrepShowLineNumbers:       true,
		GrepMaxColumns:            0,
	}
}

// New validates o and returns a private copy of it.
func New(o Options) (Options, error) {
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o.Clone(), nil
}

// Clone returns a deep copy of the options.
func (o Options) Clone() Options {
	c := o
	if o.Extra != nil {
		c.Extra = maps.Clone(o.Extra)
	}
	return c
}

// Validate checks every invariant of the configuration surface.
// The returned error names the offending field.
func (o Options) Validate() error {
	if o.ChunkSizeTokens <= 0 {
		return errors.ConfigError("chunk_size_tokens",
			fmt.Sprintf("chunk_size_tokens must be > 0, got %d", o.ChunkSizeTokens))
	}
	if o.ChunkOverlapTokens < 0 {
		return errors.ConfigError("chunk_overlap_tokens",
			fmt.Sprintf("chunk_overlap_tokens must be >= 0, got %d", o.ChunkOverlapTokens))
	}
	if o.ChunkOverlapTokens >= o.ChunkSizeTokens {
		return errors.ConfigError("chunk_overlap_tokens",
			fmt.Sprintf("chunk_overlap_tokens (%d) must be smaller than chunk_size_tokens (%d)",
				o.ChunkOverlapTokens, o.ChunkSizeTokens))
	}
	if o.MinChunkTokens <= 0 {
		return errors.ConfigError("min_chunk_tokens",
			fmt.Sprintf("min_chunk_tokens must be > 0, got %d", o.MinChunkTokens))
	}
	if o.MinChunkTokens > o.ChunkSizeTokens {
		return errors.ConfigError("min_chunk_tokens",
			fmt.Sprintf("min_chunk_tokens (%d) must not exceed chunk_size_tokens (%d)",
				o.MinChunkTokens, o.ChunkSizeTokens))
	}
	if o.MaxHeadingLevel < 0 || o.MaxHeadingLevel > MaxHeadingLevel {
		return errors.ConfigError("max_heading_level",
			fmt.Sprintf("max_heading_level must be between 1 and 6 or unset, got %d", o.MaxHeadingLevel))
	}

	for _, f := range []struct {
		key   string
		value float64
	}{
		{"bm25_k1", o.BM25K1},
		{"bm25_b", o.BM25B},
		{"hybrid_keyword_weight", o.HybridKeywordWeight},
		{"hybrid_vector_weight", o.HybridVectorWeight},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return errors.ConfigError(f.key, fmt.Sprintf("%s must be a finite number, got %g", f.key, f.value))
		}
	}

	if o.BM25K1 <= 0 {
		return errors.ConfigError("bm25_k1", fmt.Sprintf("bm25_k1 must be > 0, got %g", o.BM25K1))
	}
	if o.BM25B < 0 || o.BM25B > 1 {
		return errors.ConfigError("bm25_b", fmt.Sprintf("bm25_b must be between 0 and 1, got %g", o.BM25B))
	}

	if o.VectorBatchSize <= 0 {
		return errors.ConfigError("vector_batch_size",
			fmt.Sprintf("vector_batch_size must be > 0, got %d", o.VectorBatchSize))
	}

	if o.HybridKeywordWeight < 0 {
		return errors.ConfigError("hybrid_keyword_weight",
			fmt.Sprintf("hybrid_keyword_weight must be >= 0, got %g", o.HybridKeywordWeight))
	}
	if o.HybridVectorWeight < 0 {
		return errors.ConfigError("hybrid_vector_weight",
			fmt.Sprintf("hybrid_vector_weight must be >= 0, got %g", o.HybridVectorWeight))
	}
	if o.HybridKeywordWeight+o.HybridVectorWeight <= 0 {
		return errors.ConfigError("hybrid_keyword_weight",
			"hybrid_keyword_weight + hybrid_vector_weight must be > 0")
	}

	if !validModes[strings.ToLower(o.DefaultMode)] {
		return errors.ConfigError("default_mode",
			fmt.Sprintf("default_mode must be grep, keyword, vector or hybrid, got %q", o.DefaultMode))
	}

	if o.GrepContextBefore < 0 {
		return errors.ConfigError("grep_context_before",
			fmt.Sprintf("grep_context_before must be >= 0, got %d", o.GrepContextBefore))
	}
	if o.GrepContextAfter < 0 {
		return errors.ConfigError("grep_context_after",
			fmt.Sprintf("grep_context_after must be >= 0, got %d", o.GrepContextAfter))
	}
	if o.GrepMaxColumns < 0 {
		return errors.ConfigError("grep_max_columns",
			fmt.Sprintf("grep_max_columns must be >= 0, got %d", o.GrepMaxColumns))
	}

	return nil
}
