package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// FormatVersion is advanced whenever the on-disk layout changes.
const FormatVersion = "1"

// File names inside an index directory.
const (
	ManifestFile = "manifest.json"
	ChunksFile   = "chunks.jsonl"
	VectorsFile  = "vectors.f32"
)

// UnknownIndexID is used for manifests that carry no index_id.
const UnknownIndexID = "unknown"

// createdAtLayouts are accepted when reading created_at. Writers always
// use RFC 3339 with nanoseconds.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Manifest is the versioned metadata record at the root of an index directory.
type Manifest struct {
	Version   string
	Mode      Mode
	IndexID   string
	CreatedAt time.Time
	// Options is the flattened configuration snapshot.
	Options map[string]any
	// Backend holds backend-specific fields such as the embedding model.
	Backend map[string]any
}

// manifestJSON is the wire form.
type manifestJSON struct {
	Version   string         `json:"version,omitempty"`
	Mode      string         `json:"mode"`
	IndexID   string         `json:"index_id,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
	Options   map[string]any `json:"options"`
	Backend   map[string]any `json:"backend"`
}

// MarshalJSON writes the manifest with an ISO-8601 created_at.
func (m Manifest) MarshalJSON() ([]byte, error) {
	w := manifestJSON{
		Version: m.Version,
		Mode:    string(m.Mode),
		IndexID: m.IndexID,
		Options: m.Options,
		Backend: m.Backend,
	}
	if !m.CreatedAt.IsZero() {
		w.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if w.Options == nil {
		w.Options = map[string]any{}
	}
	if w.Backend == nil {
		w.Backend = map[string]any{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads a manifest, filling defaults for missing fields.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var w manifestJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	mode, err := ParseMode(w.Mode)
	if err != nil {
		return fmt.Errorf("invalid mode %q", w.Mode)
	}

	out := Manifest{
		Version: w.Version,
		Mode:    mode,
		IndexID: w.IndexID,
		Options: w.Options,
		Backend: w.Backend,
	}
	if out.Version == "" {
		out.Version = FormatVersion
	}
	if out.IndexID == "" {
		out.IndexID = UnknownIndexID
	}
	if out.Options == nil {
		out.Options = map[string]any{}
	}
	if out.Backend == nil {
		out.Backend = map[string]any{}
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, w.CreatedAt); err == nil {
			out.CreatedAt = t
			break
		}
	}

	*m = out
	return nil
}

// ReadManifest reads dir/manifest.json.
// A missing file is ERR_207; an unparsable one is ERR_205.
func ReadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, errors.ManifestNotFound(dir, err)
		}
		return Manifest{}, errors.New(errors.ErrCodeFilePermission, "failed to read manifest", err).
			WithDetail("path", path)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, errors.New(errors.ErrCodeCorruptIndex, "manifest is not valid", err).
			WithDetail("path", path)
	}
	return m, nil
}

// WriteManifest writes m to dir/manifest.json.
func WriteManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.InternalError("failed to encode manifest", err)
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to write manifest", err).
			WithDetail("path", path)
	}
	return nil
}

// backendInt reads an integer field from a decoded backend block.
func backendInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

// backendString reads a string field from a decoded backend block.
func backendString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// backendBool reads a bool field from a decoded backend block.
func backendBool(m map[string]any, key string, def bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return def
}
