package index

import (
	"bufio"
	"cmp"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// VectorDType is the element type of the vectors file.
const VectorDType = "float32"

// Vector ranks chunks by dot-product similarity of their embeddings.
//
// Vectors are stored row-major in one flat slice, row i belonging to chunk i.
// When normalization is enabled the dot product equals cosine similarity.
type Vector struct {
	base
	embedder     embed.Embedder
	dims         int
	normalize    bool
	matrix       []float32
	annThreshold int
	ann          *annGraph
}

var _ Index = (*Vector)(nil)

// NewVector creates an empty vector index. Unless WithEmbedder is given,
// the model named by vector_model_name is resolved through the shared
// embedder registry; an unknown model or unsupported device is ERR_304.
func NewVector(ctx context.Context, opts config.Options, options ...Option) (*Vector, error) {
	s := newSettings(options)
	b, err := newBase(ModeVector, opts, s)
	if err != nil {
		return nil, err
	}
	return newVectorFromBase(ctx, b, s)
}

func newVectorFromBase(ctx context.Context, b base, s settings) (*Vector, error) {
	e := s.embedder
	if e == nil {
		var err error
		e, err = embed.Shared(ctx, embed.Spec{
			Model:  b.opts.VectorModelName,
			Device: b.opts.VectorDevice,
			Logger: b.logger,
		})
		if err != nil {
			return nil, err
		}
	}
	return &Vector{
		base:         b,
		embedder:     e,
		dims:         e.Dimensions(),
		normalize:    b.opts.VectorNormalizeEmbeddings,
		annThreshold: s.annThreshold,
	}, nil
}

// Dimensions is the vector width, or 0 before the first embedding.
func (v *Vector) Dimensions() int { return v.dims }

// ModelName identifies the embedding model.
func (v *Vector) ModelName() string { return v.embedder.ModelName() }

// AddChunks embeds chunks in batches of vector_batch_size. Each batch is
// committed once its embeddings are stored, so on error the chunks of
// earlier batches remain indexed.
func (v *Vector) AddChunks(ctx context.Context, chunks []chunk.Chunk, progress ProgressFunc) error {
	if err := v.checkBatch(chunks); err != nil {
		return err
	}

	size := v.opts.VectorBatchSize
	for start := 0; start < len(chunks); start += size {
		batch := chunks[start:min(start+size, len(chunks))]
		if err := v.addBatch(ctx, batch, progress); err != nil {
			return err
		}
	}

	v.metrics.AddChunks(v.mode.Backend(), len(chunks))
	v.logger.Debug("chunks_ingested",
		slog.Int("count", len(chunks)),
		slog.Int("total", len(v.chunks)),
		slog.Int("dimensions", v.dims))
	return nil
}

func (v *Vector) addBatch(ctx context.Context, batch []chunk.Chunk, progress ProgressFunc) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	start := time.Now()
	vecs, err := v.embedder.EmbedBatch(ctx, texts)
	v.metrics.ObserveEmbeddingBatch(v.embedder.ModelName(), err)
	if err != nil {
		return embeddingError(ctx, err, len(batch))
	}
	if len(vecs) != len(batch) {
		return errors.New(errors.ErrCodeEmbeddingFailed, "embedder returned wrong number of vectors", nil).
			WithDetail("expected", strconv.Itoa(len(batch))).
			WithDetail("actual", strconv.Itoa(len(vecs)))
	}

	dims := v.dims
	for _, vec := range vecs {
		if dims == 0 {
			dims = len(vec)
		}
		if len(vec) != dims || dims == 0 {
			return dimensionError(dims, len(vec))
		}
	}
	v.dims = dims

	v.matrix = slices.Grow(v.matrix, len(batch)*dims)
	for i, c := range batch {
		vec := vecs[i]
		if v.normalize {
			vec = embed.NormalizeVector(vec)
		}
		v.matrix = append(v.matrix, vec...)
		v.appendChunk(c)
		v.notify(progress, c.ID)
	}

	v.logger.Debug("embedding_batch_done",
		slog.Int("size", len(batch)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func embeddingError(ctx context.Context, err error, batchSize int) error {
	if errors.IsBackendUnavailable(err) || errors.HasCode(err, errors.ErrCodeDimensionMismatch) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.New(errors.ErrCodeEmbeddingFailed, "failed to embed chunk batch", err).
		WithDetail("batch_size", strconv.Itoa(batchSize))
}

func dimensionError(expected, actual int) *errors.Error {
	return errors.New(errors.ErrCodeDimensionMismatch, "embedding dimension mismatch", nil).
		WithDetail("expected", strconv.Itoa(expected)).
		WithDetail("actual", strconv.Itoa(actual))
}

// Search embeds the query and returns the most similar chunks. Large
// unfiltered indexes of normalized vectors are searched through the HNSW
// graph; candidates are re-scored exactly so scores are always true
// dot products.
func (v *Vector) Search(ctx context.Context, q Query, topK int) ([]Result, error) {
	if q.Blank() || topK <= 0 || len(v.chunks) == 0 {
		return []Result{}, nil
	}

	qvec, err := v.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, embeddingError(ctx, err, 1)
	}
	if len(qvec) != v.dims {
		return nil, dimensionError(v.dims, len(qvec))
	}
	if v.normalize {
		qvec = embed.NormalizeVector(qvec)
	}

	approximate := v.useANN(q)
	var candidates []int
	if approximate {
		if v.ann == nil {
			v.ann = newANNGraph()
		}
		v.ann.sync(v.matrix, v.dims, len(v.chunks))
		candidates = v.ann.nearest(qvec, topK)
	} else {
		candidates = make([]int, 0, len(v.chunks))
		for i, c := range v.chunks {
			if q.Matches(c) {
				candidates = append(candidates, i)
			}
		}
	}

	type hit struct {
		doc   int
		score float64
	}
	hits := make([]hit, 0, len(candidates))
	for n, i := range candidates {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits = append(hits, hit{doc: i, score: dot(qvec, v.row(i))})
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.doc, b.doc)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			Chunk: v.chunks[h.doc],
			Score: h.score,
			Metadata: map[string]any{
				MetaBackend:     v.mode.Backend(),
				MetaRawScore:    h.score,
				MetaApproximate: approximate,
			},
		})
	}
	return results, nil
}

func (v *Vector) useANN(q Query) bool {
	return v.normalize &&
		v.annThreshold > 0 &&
		len(q.Filter) == 0 &&
		len(v.chunks) >= v.annThreshold
}

func (v *Vector) row(i int) []float32 {
	return v.matrix[i*v.dims : (i+1)*v.dims]
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Save replaces dir with the vector index.
func (v *Vector) Save(dir string) error {
	return Persist(dir, v.WriteDir)
}

// WriteDir writes chunks.jsonl, vectors.f32 and manifest.json into dir.
func (v *Vector) WriteDir(dir string) error {
	if err := writeVectors(filepath.Join(dir, VectorsFile), v.matrix); err != nil {
		return err
	}
	return v.writeCommon(dir, map[string]any{
		"model":      v.embedder.ModelName(),
		"dimension":  v.dims,
		"dtype":      VectorDType,
		"count":      len(v.chunks),
		"normalized": v.normalize,
		"file":       VectorsFile,
	})
}

// writeVectors writes the matrix as little-endian float32 values.
func writeVectors(path string, matrix []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to create vectors file", err).
			WithDetail("path", path)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, matrix); err != nil {
		_ = f.Close()
		return errors.New(errors.ErrCodeIndexFailed, "failed to write vectors", err).
			WithDetail("path", path)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.New(errors.ErrCodeIndexFailed, "failed to write vectors", err).
			WithDetail("path", path)
	}
	if err := f.Close(); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to close vectors file", err).
			WithDetail("path", path)
	}
	return nil
}

// readVectors reads count rows of dims float32 values. The file size must
// match exactly.
func readVectors(path string, count, dims int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "vectors file missing", err).
				WithDetail("path", path)
		}
		return nil, errors.New(errors.ErrCodeFilePermission, "failed to open vectors file", err).
			WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.New(errors.ErrCodeFilePermission, "failed to stat vectors file", err).
			WithDetail("path", path)
	}
	want := int64(count) * int64(dims) * 4
	if info.Size() != want {
		return nil, errors.CorruptIndex("vectors file size does not match manifest", path, int(want), int(info.Size()))
	}

	matrix := make([]float32, count*dims)
	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, matrix); err != nil && err != io.EOF {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "failed to read vectors", err).
			WithDetail("path", path)
	}
	for _, x := range matrix {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "vectors file contains non-finite values", nil).
				WithDetail("path", path)
		}
	}
	return matrix, nil
}
