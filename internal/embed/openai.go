package embed

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/logging"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint.
type OpenAIConfig struct {
	// Provider labels the endpoint ("openai", "ollama") in model names and logs.
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	// Dimensions requests a specific output width when the model supports it.
	// Zero leaves the model default and learns it from the first response.
	Dimensions int
	Timeout    time.Duration
	Retry      errors.RetryConfig
	Logger     *slog.Logger
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
// Ollama is reached through its /v1 compatibility API.
type OpenAIEmbedder struct {
	client   *openai.Client
	model    openai.EmbeddingModel
	provider string
	timeout  time.Duration
	retry    errors.RetryConfig
	logger   *slog.Logger

	mu     sync.RWMutex
	dims   int
	closed bool
}

// NewOpenAIEmbedder creates an embedder. It performs no network calls.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retry := cfg.Retry
	if retry.Multiplier == 0 {
		retry = errors.DefaultRetryConfig()
		retry.MaxRetries = DefaultMaxRetries
	}
	retry.ShouldRetry = errors.IsRetryable

	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}

	return &OpenAIEmbedder{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    openai.EmbeddingModel(cfg.Model),
		provider: provider,
		timeout:  timeout,
		retry:    retry,
		logger:   logging.OrDefault(cfg.Logger),
		dims:     cfg.Dimensions,
	}
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in a single request, retrying transient failures.
// An endpoint that stays unreachable is reported as backend unavailable.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.RLock()
	closed, dims := e.closed, e.dims
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if dims > 0 && e.provider == "openai" {
		req.Dimensions = dims
	}

	start := time.Now()
	resp, err := errors.RetryWithResult(ctx, e.retry, func() (openai.EmbeddingResponse, error) {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		resp, err := e.client.CreateEmbeddings(reqCtx, req)
		if err != nil {
			return resp, classifyError(err)
		}
		return resp, nil
	})
	if err != nil {
		e.logger.Warn("embedding request failed",
			slog.String("provider", e.provider),
			slog.String("model", string(e.model)),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))
		if errors.IsRetryable(err) {
			return nil, errors.BackendUnavailable(
				fmt.Sprintf("%s embedding endpoint unreachable", e.provider), err).
				WithDetail("model", e.ModelName())
		}
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding response has %d vectors for %d texts", len(resp.Data), len(texts)), nil).
			WithDetail("model", e.ModelName())
	}

	// The API does not promise input order; Index does.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedding response index %d out of range", d.Index), nil)
		}
		out[d.Index] = d.Embedding
	}

	if len(out[0]) > 0 {
		e.mu.Lock()
		if e.dims == 0 {
			e.dims = len(out[0])
		}
		e.mu.Unlock()
	}

	e.logger.Debug("embedding_batch_done",
		slog.String("provider", e.provider),
		slog.String("model", string(e.model)),
		slog.Int("texts", len(texts)),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Duration("duration", time.Since(start)))

	return out, nil
}

// Dimensions returns the configured or observed embedding width.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns "<provider>:<model>".
func (e *OpenAIEmbedder) ModelName() string {
	return e.provider + ":" + string(e.model)
}

// Available verifies the endpoint via ListModels.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// classifyError maps client errors onto coded errors. Rate limits, server
// errors and network failures are retryable; auth and missing models mean
// the backend cannot serve this configuration.
func classifyError(err error) error {
	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) {
		return statusError(reqErr.HTTPStatusCode, requestErrorDetail(reqErr), err)
	}

	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return statusError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.ErrCodeNetworkTimeout, "embedding request timed out", err)
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return errors.New(errors.ErrCodeNetworkTimeout, "embedding request timed out", err)
		}
		return errors.New(errors.ErrCodeNetworkUnavailable, "embedding endpoint unreachable", err)
	}

	return errors.New(errors.ErrCodeEmbeddingFailed, "embedding request failed", err)
}

func statusError(status int, detail string, cause error) error {
	msg := fmt.Sprintf("embedding API error %d: %s", status, detail)
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.New(errors.ErrCodeNetworkUnavailable, msg, cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound:
		return errors.BackendUnavailable(msg, cause)
	default:
		return errors.New(errors.ErrCodeEmbeddingFailed, msg, cause)
	}
}

// requestErrorDetail extracts the "detail" or "error" field of a JSON body.
func requestErrorDetail(reqErr *openai.RequestError) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(reqErr.Body, &parsed) == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return string(reqErr.Body)
}
