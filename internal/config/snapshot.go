package config

import (
	"encoding/json"
	"maps"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// versionKey stamps the schema version into snapshots.
const versionKey = "config_version"

// Snapshot returns a plain map of every option plus config_version.
// Keys unknown to this version (Extra) are carried through unchanged.
// The map is safe to embed in a JSON manifest.
func (o Options) Snapshot() map[string]any {
	out := make(map[string]any, len(o.Extra)+24)
	maps.Copy(out, o.Extra)

	data, err := json.Marshal(o)
	if err == nil {
		var known map[string]any
		if json.Unmarshal(data, &known) == nil {
			maps.Copy(out, known)
		}
	}

	out[versionKey] = Version
	return out
}

// FromSnapshot rebuilds options from a snapshot produced by Snapshot.
// Missing keys take their default value; unknown keys land in Extra.
// The result is validated.
func FromSnapshot(m map[string]any) (Options, error) {
	opts := Default()
	if len(m) == 0 {
		return opts, nil
	}

	known := make(map[string]bool)
	for _, b := range opts.bindings() {
		known[b.key] = true
	}

	recognised := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case k == versionKey:
		case known[k]:
			recognised[k] = v
		default:
			if opts.Extra == nil {
				opts.Extra = make(map[string]any)
			}
			opts.Extra[k] = v
		}
	}

	data, err := json.Marshal(recognised)
	if err != nil {
		return Options{}, errors.New(errors.ErrCodeConfigInvalid, "failed to encode options snapshot", err)
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.New(errors.ErrCodeConfigInvalid, "failed to decode options snapshot", err)
	}

	return New(opts)
}
