package index

import (
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/logging"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// settings collects construction options shared by all backends.
type settings struct {
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	embedder     embed.Embedder
	id           string
	createdAt    time.Time
	annThreshold int
}

// Option configures an index at construction or load time.
type Option func(*settings)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics records ingestion and embedding metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithEmbedder sets the embedding model used by a vector index instead of
// resolving vector_model_name.
func WithEmbedder(e embed.Embedder) Option {
	return func(s *settings) { s.embedder = e }
}

// WithID fixes the index_id instead of generating one.
func WithID(id string) Option {
	return func(s *settings) { s.id = id }
}

// WithANNThreshold sets the vector count from which searches use the
// approximate nearest-neighbour graph. Zero or less disables it.
func WithANNThreshold(n int) Option {
	return func(s *settings) { s.annThreshold = n }
}

func withCreatedAt(t time.Time) Option {
	return func(s *settings) { s.createdAt = t }
}

func newSettings(options []Option) settings {
	s := settings{annThreshold: DefaultANNThreshold}
	for _, o := range options {
		o(&s)
	}
	s.logger = logging.OrDefault(s.logger)
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.createdAt.IsZero() {
		s.createdAt = time.Now().UTC()
	}
	return s
}

// base holds the chunk bookkeeping and manifest handling every backend
// shares. Chunks live in an append-only slice and are addressed by position.
type base struct {
	mode      Mode
	id        string
	createdAt time.Time
	opts      config.Options
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	chunks   []chunk.Chunk
	position map[string]int
}

func newBase(mode Mode, opts config.Options, s settings) (base, error) {
	validated, err := config.New(opts)
	if err != nil {
		return base{}, err
	}
	return base{
		mode:      mode,
		id:        s.id,
		createdAt: s.createdAt,
		opts:      validated,
		logger:    s.logger.With(slog.String("backend", mode.Backend())),
		metrics:   s.metrics,
		position:  make(map[string]int),
	}, nil
}

// Mode identifies the backend.
func (b *base) Mode() Mode { return b.mode }

// ID returns the index_id.
func (b *base) ID() string { return b.id }

// CreatedAt returns the creation time recorded in the manifest.
func (b *base) CreatedAt() time.Time { return b.createdAt }

// Options returns a deep copy of the build options.
func (b *base) Options() config.Options { return b.opts.Clone() }

// ChunkCount is the number of ingested chunks.
func (b *base) ChunkCount() int { return len(b.chunks) }

// Chunks yields ingested chunks in insertion order. The length is read
// when iteration starts, so chunks appended mid-iteration are not seen.
func (b *base) Chunks() iter.Seq[chunk.Chunk] {
	return func(yield func(chunk.Chunk) bool) {
		n := len(b.chunks)
		for i := 0; i < n; i++ {
			if !yield(b.chunks[i]) {
				return
			}
		}
	}
}

// Chunk returns the chunk with the given id.
func (b *base) Chunk(id string) (chunk.Chunk, bool) {
	i, ok := b.position[id]
	if !ok {
		return chunk.Chunk{}, false
	}
	return b.chunks[i], true
}

// checkBatch rejects empty ids and ids that repeat within the batch or
// are already indexed.
func (b *base) checkBatch(chunks []chunk.Chunk) error {
	seen := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			return errors.ValidationError("chunk has an empty id", nil).
				WithDetail("position", fmt.Sprint(i))
		}
		if _, dup := seen[c.ID]; dup {
			return errors.ValidationError("duplicate chunk id in batch", nil).
				WithDetail("chunk_id", c.ID)
		}
		if _, exists := b.position[c.ID]; exists {
			return errors.ValidationError("chunk id already indexed", nil).
				WithDetail("chunk_id", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// appendChunk stores a private copy of c and returns its position.
func (b *base) appendChunk(c chunk.Chunk) int {
	pos := len(b.chunks)
	b.chunks = append(b.chunks, c.Clone())
	b.position[c.ID] = pos
	return pos
}

// notify calls progress for one ingested chunk. Errors and panics from
// the callback are logged and swallowed.
func (b *base) notify(progress ProgressFunc, chunkID string) {
	if progress == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("progress callback panicked, continuing ingestion",
				slog.String("chunk_id", chunkID),
				slog.Any("panic", r))
		}
	}()

	event := ProgressEvent{
		Type:     EventItemDone,
		Metadata: map[string]string{"chunk_id": chunkID},
	}
	if err := progress(event); err != nil {
		b.logger.Warn("progress callback failed, continuing ingestion",
			slog.String("chunk_id", chunkID),
			slog.String("error", err.Error()))
	}
}

// manifest builds the manifest for the current state.
func (b *base) manifest(backend map[string]any) Manifest {
	if backend == nil {
		backend = map[string]any{}
	}
	backend["chunk_count"] = len(b.chunks)
	return Manifest{
		Version:   FormatVersion,
		Mode:      b.mode,
		IndexID:   b.id,
		CreatedAt: b.createdAt,
		Options:   b.opts.Snapshot(),
		Backend:   backend,
	}
}

// writeCommon writes chunks.jsonl and then the manifest into dir.
func (b *base) writeCommon(dir string, backend map[string]any) error {
	if err := writeChunks(filepath.Join(dir, ChunksFile), b.Chunks()); err != nil {
		return err
	}
	return WriteManifest(dir, b.manifest(backend))
}

// restoreChunks appends loaded chunks without progress or duplicate checks
// beyond id uniqueness.
func (b *base) restoreChunks(dir string, chunks []chunk.Chunk) error {
	for _, c := range chunks {
		if _, dup := b.position[c.ID]; dup {
			return errors.New(errors.ErrCodeCorruptIndex, "duplicate chunk id in chunk records", nil).
				WithDetail("path", filepath.Join(dir, ChunksFile)).
				WithDetail("chunk_id", c.ID)
		}
		b.appendChunk(c)
	}
	return nil
}
