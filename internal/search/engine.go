package search

import (
	"context"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/index"
	"github.com/Aman-CERP/docsearch/internal/logging"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// HybridCandidateFactor is how many more results than topK each side of a
// hybrid search contributes before blending.
const HybridCandidateFactor = 3

// AllBackends lists the single-backend modes an engine can hold, in the
// order they are built and saved.
var AllBackends = []index.Mode{index.ModeGrep, index.ModeKeyword, index.ModeVector}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Embedder overrides the model named by vector_model_name.
	Embedder embed.Embedder
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	// Backends selects which indexes to build. Empty means AllBackends.
	Backends []index.Mode
	// Fallback drops the vector backend with a warning instead of failing
	// when its embedding model is unavailable.
	Fallback bool
	// IndexOptions are passed to every backend after the engine's own.
	IndexOptions []index.Option
}

// Engine owns up to one index per backend, all built from the same chunks,
// and routes each query to the backend(s) its mode names.
//
// AddChunks, Search, Save and ChunkCount are safe for concurrent use and
// are serialised. The backend set is fixed at construction. The sequence
// returned by Chunks must not be ranged over while AddChunks runs.
type Engine struct {
	opts      config.Options
	id        string
	createdAt time.Time
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	backends map[index.Mode]index.Index

	mu sync.Mutex
	// partial is the error of an AddChunks call that left the backends
	// holding different chunks. Once set, the engine refuses further
	// ingestion and saving.
	partial error
}

// NewEngine creates an engine with empty indexes for the selected backends.
func NewEngine(ctx context.Context, opts config.Options, eo EngineOptions) (*Engine, error) {
	validated, err := config.New(opts)
	if err != nil {
		return nil, err
	}

	e := newEngine(validated, uuid.NewString(), time.Now().UTC(), eo)
	iopts := e.indexOptions(eo, index.WithID(e.id))

	modes := eo.Backends
	if len(modes) == 0 {
		modes = AllBackends
	}
	for _, mode := range modes {
		var idx index.Index
		switch mode {
		case index.ModeGrep:
			idx, err = index.NewGrep(validated, iopts...)
		case index.ModeKeyword:
			idx, err = index.NewKeyword(validated, iopts...)
		case index.ModeVector:
			idx, err = index.NewVector(ctx, validated, iopts...)
			if err != nil && eo.Fallback && errors.IsBackendUnavailable(err) {
				e.logger.Warn("vector backend unavailable, continuing without it",
					slog.String("model", validated.VectorModelName),
					slog.String("error", err.Error()))
				continue
			}
		default:
			err = errors.ValidationError("engine backends must be grep, keyword or vector", nil).
				WithDetail("backend", string(mode))
		}
		if err != nil {
			return nil, err
		}
		e.backends[mode] = idx
	}

	if len(e.backends) == 0 {
		return nil, errors.BackendUnavailable("no search backend could be created", nil)
	}
	return e, nil
}

func newEngine(opts config.Options, id string, createdAt time.Time, eo EngineOptions) *Engine {
	return &Engine{
		opts:      opts,
		id:        id,
		createdAt: createdAt,
		logger:    logging.OrDefault(eo.Logger),
		metrics:   eo.Metrics,
		backends:  make(map[index.Mode]index.Index),
	}
}

func (e *Engine) indexOptions(eo EngineOptions, extra ...index.Option) []index.Option {
	out := []index.Option{index.WithLogger(e.logger), index.WithMetrics(e.metrics)}
	if eo.Embedder != nil {
		out = append(out, index.WithEmbedder(eo.Embedder))
	}
	out = append(out, extra...)
	return append(out, eo.IndexOptions...)
}

// ID is the engine's index_id, shared by its backends when newly built.
func (e *Engine) ID() string { return e.id }

// CreatedAt is when the engine was first built.
func (e *Engine) CreatedAt() time.Time { return e.createdAt }

// Options returns a copy of the engine options.
func (e *Engine) Options() config.Options { return e.opts.Clone() }

// Backends lists the available backends in build order.
func (e *Engine) Backends() []index.Mode {
	out := make([]index.Mode, 0, len(e.backends))
	for _, m := range AllBackends {
		if _, ok := e.backends[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Index returns the backend for mode.
func (e *Engine) Index(mode index.Mode) (index.Index, bool) {
	idx, ok := e.backends[mode]
	return idx, ok
}

// Supports reports whether the engine holds every backend mode needs.
func (e *Engine) Supports(mode index.Mode) bool {
	if mode == index.ModeHybrid {
		_, kw := e.backends[index.ModeKeyword]
		_, vec := e.backends[index.ModeVector]
		return kw && vec
	}
	_, ok := e.backends[mode]
	return ok
}

// primary is the first available backend; every backend holds the same chunks.
func (e *Engine) primary() index.Index {
	for _, m := range AllBackends {
		if idx, ok := e.backends[m]; ok {
			return idx
		}
	}
	return nil
}

// ChunkCount is the number of chunks held by the engine.
func (e *Engine) ChunkCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := e.primary(); p != nil {
		return p.ChunkCount()
	}
	return 0
}

// Chunks yields the engine's chunks in insertion order.
func (e *Engine) Chunks() iter.Seq[chunk.Chunk] {
	if p := e.primary(); p != nil {
		return p.Chunks()
	}
	return func(func(chunk.Chunk) bool) {}
}

// AddChunks ingests chunks into every backend concurrently. Progress
// events carry the backend name and are delivered one at a time.
//
// The batch is checked once up front, so id errors leave every backend
// untouched. If a backend still fails mid-batch (an embedding error, a
// cancelled context) and the backends diverge, the engine is marked
// partial: later AddChunks and Save calls return ERR_505 and the index
// must be rebuilt.
func (e *Engine) AddChunks(ctx context.Context, chunks []chunk.Chunk, progress index.ProgressFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.partial != nil {
		return e.partialError()
	}
	if err := e.checkBatch(chunks); err != nil {
		return err
	}

	start := time.Now()
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, mode := range e.Backends() {
		idx := e.backends[mode]
		var forward index.ProgressFunc
		if progress != nil {
			forward = func(ev index.ProgressEvent) error {
				ev.Metadata["backend"] = mode.Backend()
				progressMu.Lock()
				defer progressMu.Unlock()
				return progress(ev)
			}
		}
		g.Go(func() error {
			if err := idx.AddChunks(gctx, chunks, forward); err != nil {
				if ferr, ok := err.(*errors.Error); ok {
					return ferr.WithDetail("backend", mode.Backend())
				}
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if lo, hi := e.countRange(); lo != hi {
			e.partial = err
			e.logger.Warn("ingestion failed part way, engine backends now differ",
				slog.Int("min_chunks", lo),
				slog.Int("max_chunks", hi),
				slog.String("error", err.Error()))
		}
		return err
	}

	e.logger.Info("engine_ingested",
		slog.Int("chunks", len(chunks)),
		slog.Int("backends", len(e.backends)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// checkBatch rejects empty ids and ids that repeat within the batch or are
// already indexed. Every backend holds the same chunks, so the primary
// answers for all of them.
func (e *Engine) checkBatch(chunks []chunk.Chunk) error {
	p := e.primary()
	seen := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			return errors.ValidationError("chunk has an empty id", nil).
				WithDetail("position", strconv.Itoa(i))
		}
		if _, dup := seen[c.ID]; dup {
			return errors.ValidationError("duplicate chunk id in batch", nil).
				WithDetail("chunk_id", c.ID)
		}
		if _, exists := p.Chunk(c.ID); exists {
			return errors.ValidationError("chunk id already indexed", nil).
				WithDetail("chunk_id", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

func (e *Engine) partialError() error {
	lo, hi := e.countRange()
	return errors.New(errors.ErrCodeIndexFailed, "engine holds a partially ingested batch", e.partial).
		WithDetail("min_chunks", strconv.Itoa(lo)).
		WithDetail("max_chunks", strconv.Itoa(hi)).
		WithSuggestion("rebuild the index from its documents")
}

// Search dispatches q by its mode, or default_mode when unset.
// GREP, KEYWORD and VECTOR query one backend; HYBRID blends keyword and
// vector rankings with the configured weights. A mode whose backend is
// missing is ERR_304.
func (e *Engine) Search(ctx context.Context, q index.Query, topK int) ([]index.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mode := q.Mode
	if mode == "" {
		var err error
		if mode, err = index.ParseMode(e.opts.DefaultMode); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	results, err := e.search(ctx, mode, q, topK)
	e.metrics.ObserveSearch(mode.Backend(), err, time.Since(start))
	if err != nil {
		return nil, err
	}

	e.logger.Debug("search_completed",
		slog.String("mode", string(mode)),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

func (e *Engine) search(ctx context.Context, mode index.Mode, q index.Query, topK int) ([]index.Result, error) {
	if mode != index.ModeHybrid {
		idx, err := e.backend(mode)
		if err != nil {
			return nil, err
		}
		return idx.Search(ctx, q, topK)
	}

	kw, err := e.backend(index.ModeKeyword)
	if err != nil {
		return nil, err
	}
	vec, err := e.backend(index.ModeVector)
	if err != nil {
		return nil, err
	}
	if q.Blank() || topK <= 0 {
		return []index.Result{}, nil
	}

	kwResults, vecResults, err := e.parallelSearch(ctx, kw, vec, q, topK*HybridCandidateFactor)
	if err != nil {
		return nil, err
	}
	return Blend(kwResults, vecResults, e.opts.HybridKeywordWeight, e.opts.HybridVectorWeight, topK), nil
}

// parallelSearch runs the keyword and vector searches concurrently. If only
// the vector side fails the keyword results are used alone.
func (e *Engine) parallelSearch(ctx context.Context, kw, vec index.Index, q index.Query, limit int) (
	kwResults, vecResults []index.Result, err error,
) {
	g, gctx := errgroup.WithContext(ctx)
	var kwErr, vecErr error

	g.Go(func() error {
		kwResults, kwErr = kw.Search(gctx, q, limit)
		return nil
	})
	g.Go(func() error {
		vecResults, vecErr = vec.Search(gctx, q, limit)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if kwErr != nil {
		return nil, nil, kwErr
	}
	if vecErr != nil {
		if !errors.IsBackendUnavailable(vecErr) && !errors.IsRetryable(vecErr) {
			return nil, nil, vecErr
		}
		e.logger.Warn("vector search failed, using keyword results only",
			slog.String("error", vecErr.Error()))
		vecResults = nil
	}
	return kwResults, vecResults, nil
}

func (e *Engine) backend(mode index.Mode) (index.Index, error) {
	idx, ok := e.backends[mode]
	if !ok {
		return nil, errors.BackendUnavailable("search backend not available in this index", nil).
			WithDetail("mode", string(mode)).
			WithSuggestion("rebuild with the backend enabled or choose another mode")
	}
	return idx, nil
}

// Save atomically replaces dir with a HYBRID root manifest and one
// subdirectory per backend (grep/, keyword/, vector/).
func (e *Engine) Save(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.partial != nil {
		return e.partialError()
	}
	if lo, hi := e.countRange(); lo != hi {
		return errors.New(errors.ErrCodeIndexFailed, "engine backends hold different chunk counts", nil).
			WithDetail("min_chunks", strconv.Itoa(lo)).
			WithDetail("max_chunks", strconv.Itoa(hi))
	}

	err := index.Persist(dir, func(tmp string) error {
		names := make([]string, 0, len(e.backends))
		for _, mode := range e.Backends() {
			sub := filepath.Join(tmp, mode.Backend())
			if err := os.Mkdir(sub, 0o755); err != nil {
				return errors.New(errors.ErrCodeIndexFailed, "failed to create backend directory", err).
					WithDetail("directory", sub)
			}
			if err := e.backends[mode].WriteDir(sub); err != nil {
				return err
			}
			names = append(names, mode.Backend())
		}

		count := 0
		if p := e.primary(); p != nil {
			count = p.ChunkCount()
		}
		return index.WriteManifest(tmp, index.Manifest{
			Version:   index.FormatVersion,
			Mode:      index.ModeHybrid,
			IndexID:   e.id,
			CreatedAt: e.createdAt,
			Options:   e.opts.Snapshot(),
			Backend: map[string]any{
				"backends":    names,
				"chunk_count": count,
			},
		})
	})
	if err != nil {
		return err
	}

	e.logger.Info("engine_saved", slog.String("directory", dir), slog.String("index_id", e.id))
	return nil
}

// LoadEngine opens a directory written by Engine.Save. A directory holding
// a single backend index is opened as an engine with that one backend.
// A HYBRID directory without vector/ yields an engine without a vector
// backend.
func LoadEngine(ctx context.Context, dir string, eo EngineOptions) (*Engine, error) {
	if _, err := os.Stat(filepath.Join(dir, index.ManifestFile)); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ManifestNotFound(dir, err)
		}
		return nil, errors.New(errors.ErrCodeFilePermission, "failed to access index directory", err).
			WithDetail("directory", dir)
	}
	return index.WithReadLock(dir, func() (*Engine, error) {
		return readEngine(ctx, dir, eo)
	})
}

func readEngine(ctx context.Context, dir string, eo EngineOptions) (*Engine, error) {
	m, err := index.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	opts, err := config.FromSnapshot(m.Options)
	if err != nil {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "manifest options are invalid", err).
			WithDetail("path", filepath.Join(dir, index.ManifestFile))
	}

	e := newEngine(opts, m.IndexID, m.CreatedAt, eo)
	iopts := e.indexOptions(eo)

	if m.Mode != index.ModeHybrid {
		idx, err := index.ReadDir(ctx, dir, iopts...)
		if err != nil {
			return nil, err
		}
		e.backends[m.Mode] = idx
		return e, nil
	}

	for _, mode := range AllBackends {
		sub := filepath.Join(dir, mode.Backend())
		if _, err := os.Stat(filepath.Join(sub, index.ManifestFile)); os.IsNotExist(err) {
			continue
		}
		idx, err := index.ReadDir(ctx, sub, iopts...)
		if err != nil {
			if mode == index.ModeVector && eo.Fallback && errors.IsBackendUnavailable(err) {
				e.logger.Warn("vector backend unavailable, continuing without it",
					slog.String("error", err.Error()))
				continue
			}
			return nil, err
		}
		if idx.Mode() != mode {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "backend directory holds the wrong mode", nil).
				WithDetail("directory", sub).
				WithDetail("mode", string(idx.Mode()))
		}
		e.backends[mode] = idx
	}

	if len(e.backends) == 0 {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "hybrid index has no backend directories", nil).
			WithDetail("directory", dir)
	}
	if err := e.checkConsistent(dir); err != nil {
		return nil, err
	}
	return e, nil
}

// countRange returns the smallest and largest backend chunk counts.
func (e *Engine) countRange() (lo, hi int) {
	counts := make([]int, 0, len(e.backends))
	for _, mode := range e.Backends() {
		counts = append(counts, e.backends[mode].ChunkCount())
	}
	if len(counts) == 0 {
		return 0, 0
	}
	return slices.Min(counts), slices.Max(counts)
}

// checkConsistent verifies every backend restored the same chunk count.
func (e *Engine) checkConsistent(dir string) error {
	if lo, hi := e.countRange(); lo != hi {
		return errors.CorruptIndex("backends hold different chunk counts", dir, hi, lo)
	}
	return nil
}
