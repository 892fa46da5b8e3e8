package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// Load reads the index saved in dir under a shared lock. The backend is
// chosen from the manifest's mode; HYBRID directories are opened by the
// search engine, not here.
//
// A directory without manifest.json is ERR_207. Inconsistent data files
// are ERR_205.
func Load(ctx context.Context, dir string, options ...Option) (Index, error) {
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ManifestNotFound(dir, err)
		}
		return nil, errors.New(errors.ErrCodeFilePermission, "failed to access index directory", err).
			WithDetail("directory", dir)
	}
	return WithReadLock(dir, func() (Index, error) {
		return ReadDir(ctx, dir, options...)
	})
}

// ReadDir is Load without locking, for callers that already hold the lock.
func ReadDir(ctx context.Context, dir string, options ...Option) (Index, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	switch m.Mode {
	case ModeGrep:
		b, _, err := restoreBase(dir, m, options)
		if err != nil {
			return nil, err
		}
		return newGrepFromBase(b), nil

	case ModeKeyword:
		b, _, err := restoreBase(dir, m, options)
		if err != nil {
			return nil, err
		}
		k := newKeywordFromBase(b)
		k.reindex()
		return k, nil

	case ModeVector:
		return readVector(ctx, dir, m, options)

	default:
		return nil, errors.New(errors.ErrCodeCorruptIndex, "manifest mode cannot be loaded as a single index", nil).
			WithDetail("directory", dir).
			WithDetail("mode", string(m.Mode))
	}
}

// restoreBase rebuilds the shared state from a manifest and chunks.jsonl.
// The manifest's index_id and created_at take precedence over options.
func restoreBase(dir string, m Manifest, options []Option) (base, settings, error) {
	opts, err := config.FromSnapshot(m.Options)
	if err != nil {
		return base{}, settings{}, errors.New(errors.ErrCodeCorruptIndex, "manifest options are invalid", err).
			WithDetail("path", filepath.Join(dir, ManifestFile))
	}

	options = append(options[:len(options):len(options)], WithID(m.IndexID))
	if !m.CreatedAt.IsZero() {
		options = append(options, withCreatedAt(m.CreatedAt))
	}
	s := newSettings(options)

	b, err := newBase(m.Mode, opts, s)
	if err != nil {
		return base{}, settings{}, err
	}

	chunks, err := readChunks(filepath.Join(dir, ChunksFile))
	if err != nil {
		return base{}, settings{}, err
	}
	if n, ok := backendInt(m.Backend, "chunk_count"); ok && n != len(chunks) {
		return base{}, settings{}, errors.CorruptIndex("chunk count does not match manifest",
			filepath.Join(dir, ChunksFile), n, len(chunks))
	}
	if err := b.restoreChunks(dir, chunks); err != nil {
		return base{}, settings{}, err
	}
	return b, s, nil
}

func readVector(ctx context.Context, dir string, m Manifest, options []Option) (*Vector, error) {
	b, s, err := restoreBase(dir, m, options)
	if err != nil {
		return nil, err
	}

	count, ok := backendInt(m.Backend, "count")
	if !ok {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "manifest lacks vector count", nil).
			WithDetail("path", filepath.Join(dir, ManifestFile))
	}
	if count != len(b.chunks) {
		return nil, errors.CorruptIndex("vector count does not match chunk records",
			filepath.Join(dir, ChunksFile), count, len(b.chunks))
	}
	dims, ok := backendInt(m.Backend, "dimension")
	if !ok || dims < 0 || (dims == 0 && count > 0) {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "manifest has an invalid vector dimension", nil).
			WithDetail("path", filepath.Join(dir, ManifestFile))
	}
	if dtype := backendString(m.Backend, "dtype"); dtype != "" && dtype != VectorDType {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "unsupported vector dtype", nil).
			WithDetail("dtype", dtype)
	}
	file := backendString(m.Backend, "file")
	if file == "" || filepath.Base(file) != file {
		file = VectorsFile
	}

	matrix, err := readVectors(filepath.Join(dir, file), count, dims)
	if err != nil {
		return nil, err
	}

	v, err := newVectorFromBase(ctx, b, s)
	if err != nil {
		return nil, err
	}
	if v.dims != 0 && dims != 0 && v.dims != dims {
		return nil, dimensionError(dims, v.dims).
			WithDetail("model", v.embedder.ModelName()).
			WithSuggestion("load with the embedding model the index was built with")
	}
	if dims != 0 {
		v.dims = dims
	}
	v.matrix = matrix
	v.normalize = backendBool(m.Backend, "normalized", b.opts.VectorNormalizeEmbeddings)

	v.logger.Debug("vector_index_loaded",
		slog.Int("count", count),
		slog.Int("dimensions", dims))
	return v, nil
}
