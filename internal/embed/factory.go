package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/logging"
)

// Model name prefixes for remote providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// DefaultOllamaHost is used when OLLAMA_HOST is unset.
const DefaultOllamaHost = "http://localhost:11434"

// Spec selects and configures an embedding model.
type Spec struct {
	// Model is the vector_model_name: "static", "static-768",
	// "openai:<model>" or "ollama:<model>".
	Model string
	// Device is the vector_device. Local models run on CPU only.
	Device string
	// Dimensions optionally requests an output width from remote models.
	Dimensions int
	// CacheSize bounds the LRU cache; zero uses the default.
	CacheSize int
	Logger    *slog.Logger
}

// NewEmbedder resolves spec into an embedder wrapped in an LRU cache.
// Unknown models, missing credentials and unsupported devices fail with
// ERR_304_BACKEND_UNAVAILABLE so callers can fall back to lexical search.
//
// Set DOCSEARCH_EMBED_CACHE=false to disable caching.
func NewEmbedder(_ context.Context, spec Spec) (Embedder, error) {
	logger := logging.OrDefault(spec.Logger)
	name := strings.TrimSpace(spec.Model)

	var embedder Embedder
	switch {
	case name == "static" || name == "":
		if err := checkLocalDevice(name, spec.Device); err != nil {
			return nil, err
		}
		embedder = NewStaticEmbedder(StaticDimensions)

	case name == "static-768":
		if err := checkLocalDevice(name, spec.Device); err != nil {
			return nil, err
		}
		embedder = NewStaticEmbedder(Static768Dimensions)

	case strings.HasPrefix(name, ProviderOpenAI+":"):
		model := strings.TrimPrefix(name, ProviderOpenAI+":")
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, errors.BackendUnavailable("OPENAI_API_KEY is not set", nil).
				WithDetail("model", name)
		}
		if model == "" {
			return nil, errors.BackendUnavailable("openai model name is empty", nil).
				WithDetail("model", name)
		}
		embedder = NewOpenAIEmbedder(OpenAIConfig{
			Provider:   ProviderOpenAI,
			APIKey:     key,
			BaseURL:    os.Getenv("OPENAI_BASE_URL"),
			Model:      model,
			Dimensions: spec.Dimensions,
			Logger:     logger,
		})

	case strings.HasPrefix(name, ProviderOllama+":"):
		model := strings.TrimPrefix(name, ProviderOllama+":")
		if model == "" {
			return nil, errors.BackendUnavailable("ollama model name is empty", nil).
				WithDetail("model", name)
		}
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = DefaultOllamaHost
		}
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		embedder = NewOpenAIEmbedder(OpenAIConfig{
			Provider:   ProviderOllama,
			APIKey:     "ollama",
			BaseURL:    strings.TrimRight(host, "/") + "/v1",
			Model:      model,
			Dimensions: spec.Dimensions,
			Logger:     logger,
		})

	default:
		return nil, errors.BackendUnavailable(fmt.Sprintf("unknown embedding model %q", name), nil).
			WithDetail("model", name).
			WithSuggestion("use static, static-768, openai:<model> or ollama:<model>")
	}

	if spec.Device != "" && !isLocal(name) {
		logger.Debug("vector_device_ignored",
			slog.String("model", name),
			slog.String("device", spec.Device))
	}

	if isCacheDisabled() {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, spec.CacheSize), nil
}

func isLocal(name string) bool {
	return name == "" || strings.HasPrefix(name, "static")
}

// checkLocalDevice rejects devices the hash models cannot run on.
func checkLocalDevice(model, device string) error {
	switch strings.ToLower(device) {
	case "", "auto", "cpu":
		return nil
	default:
		return errors.BackendUnavailable(fmt.Sprintf("device %q is not supported by %s", device, model), nil).
			WithDetail("device", device).
			WithDetail("model", model)
	}
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("DOCSEARCH_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// registry holds process-wide shared embedders keyed by model and device.
var registry = struct {
	mu        sync.Mutex
	embedders map[string]Embedder
}{embedders: make(map[string]Embedder)}

// Shared returns a process-wide embedder for spec, creating it on first use.
// Several indexes built with the same model reuse one instance. Close on
// the returned value is a no-op; use CloseShared to release them all.
func Shared(ctx context.Context, spec Spec) (Embedder, error) {
	key := spec.Model + "\x00" + strings.ToLower(spec.Device)

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if e, ok := registry.embedders[key]; ok {
		return sharedEmbedder{e}, nil
	}

	e, err := NewEmbedder(ctx, spec)
	if err != nil {
		return nil, err
	}
	registry.embedders[key] = e
	return sharedEmbedder{e}, nil
}

// CloseShared closes and forgets every shared embedder.
func CloseShared() error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	var firstErr error
	for key, e := range registry.embedders {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(registry.embedders, key)
	}
	return firstErr
}

// sharedEmbedder shields a registry entry from Close by one of its users.
type sharedEmbedder struct {
	Embedder
}

func (sharedEmbedder) Close() error { return nil }
