package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// EnvPrefix prefixes every environment override, e.g. DOCSEARCH_BM25_K1.
const EnvPrefix = "DOCSEARCH_"

// Load builds options from defaults, an optional YAML file and
// DOCSEARCH_* environment variables, in that order, then validates them.
// An empty path skips the file.
func Load(path string) (Options, error) {
	opts := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return Options{}, errors.New(errors.ErrCodeConfigNotFound, "config file not found", err).
					WithDetail("path", path)
			}
			return Options{}, errors.New(errors.ErrCodeFilePermission, "failed to read config file", err).
				WithDetail("path", path)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return Options{}, errors.New(errors.ErrCodeConfigInvalid, "failed to parse config file", err).
				WithDetail("path", path)
		}
	}

	if err := opts.applyEnvOverrides(); err != nil {
		return Options{}, err
	}

	return New(opts)
}

// envBinding ties a configuration key to a parser writing into Options.
type envBinding struct {
	key string
	set func(string) error
}

// bindings lists every recognised key. It doubles as the set of known
// snapshot keys.
func (o *Options) bindings() []envBinding {
	return []envBinding{
		{"chunk_size_tokens", intVar(&o.ChunkSizeTokens)},
		{"chunk_overlap_tokens", intVar(&o.ChunkOverlapTokens)},
		{"min_chunk_tokens", intVar(&o.MinChunkTokens)},
		{"include_preamble", boolVar(&o.IncludePreamble)},
		{"heading_merge", boolVar(&o.HeadingMerge)},
		{"max_heading_level", intVar(&o.MaxHeadingLevel)},
		{"bm25_k1", floatVar(&o.BM25K1)},
		{"bm25_b", floatVar(&o.BM25B)},
		{"vector_model_name", stringVar(&o.VectorModelName)},
		{"vector_batch_size", intVar(&o.VectorBatchSize)},
		{"vector_device", stringVar(&o.VectorDevice)},
		{"vector_normalize_embeddings", boolVar(&o.VectorNormalizeEmbeddings)},
		{"hybrid_keyword_weight", floatVar(&o.HybridKeywordWeight)},
		{"hybrid_vector_weight", floatVar(&o.HybridVectorWeight)},
		{"default_mode", stringVar(&o.DefaultMode)},
		{"grep_context_before", intVar(&o.GrepContextBefore)},
		{"grep_context_after", intVar(&o.GrepContextAfter)},
		{"grep_regex", boolVar(&o.GrepRegex)},
		{"grep_ignore_case", boolVar(&o.GrepIgnoreCase)},
		{"grep_show_line_numbers", boolVar(&o.GrepShowLineNumbers)},
		{"grep_max_columns", intVar(&o.GrepMaxColumns)},
	}
}

// applyEnvOverrides applies DOCSEARCH_* environment variables.
func (o *Options) applyEnvOverrides() error {
	for _, b := range o.bindings() {
		name := EnvPrefix + strings.ToUpper(b.key)
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return errors.ConfigError(b.key, fmt.Sprintf("invalid %s: %v", name, err))
		}
	}
	return nil
}

func intVar(p *int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func floatVar(p *float64) func(string) error {
	return func(s string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		*p = f
		return nil
	}
}

func boolVar(p *bool) func(string) error {
	return func(s string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		*p = b
		return nil
	}
}

func stringVar(p *string) func(string) error {
	return func(s string) error {
		*p = s
		return nil
	}
}
