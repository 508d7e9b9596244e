package llmcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// httpBackend is the shared shape behind the anthropic/openai/bedrock
// variants: a chat-completions-style HTTP POST. The spec treats
// concrete backend LM clients as an external capability, so this is
// deliberately generic rather than a faithful reimplementation of any
// one provider's SDK. The variants differ only in the auth header
// name; base URL, key and models come from BackendConfig, and all of
// them share the same request/response field names.
type httpBackend struct {
	name       string
	baseURL    string
	apiKey     string
	authHeader string
	models     []string
	client     *http.Client
	logger     *zap.Logger
}

func newHTTPBackend(name string, cfg BackendConfig, authHeader string, logger *zap.Logger) *httpBackend {
	return &httpBackend{
		name:       name,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		authHeader: authHeader,
		models:     cfg.Models,
		client:     &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}
}

func (b *httpBackend) Name() string    { return b.name }
func (b *httpBackend) Models() []string { return b.models }

func (b *httpBackend) SupportsModel(model string) bool {
	if model == "" {
		return true
	}
	for _, m := range b.models {
		if m == model {
			return true
		}
	}
	return false
}

func (b *httpBackend) IsAvailable(ctx context.Context) bool {
	if b.baseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

type httpChatRequest struct {
	Model       string             `json:"model"`
	Messages    []rlmtype.Message  `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

type httpChatResponse struct {
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		CacheRead    int `json:"cache_read"`
		CacheWrite   int `json:"cache_write"`
	} `json:"usage"`
	Error string `json:"error"`
}

func (b *httpBackend) Complete(ctx context.Context, req rlmtype.LMRequest) (string, rlmtype.Usage, string, error) {
	payload := httpChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", rlmtype.Usage{}, "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", rlmtype.Usage{}, "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set(b.authHeader, b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", rlmtype.Usage{}, "", fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", rlmtype.Usage{}, "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		return "", rlmtype.Usage{}, "", fmt.Errorf("429 rate limited retry-after %s", retryAfter)
	}
	if resp.StatusCode >= 500 {
		return "", rlmtype.Usage{}, "", fmt.Errorf("server error %d: %s", resp.StatusCode, raw)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", rlmtype.Usage{}, "", fmt.Errorf("authentication failed (%d): %s", resp.StatusCode, raw)
	}
	if resp.StatusCode >= 400 {
		return "", rlmtype.Usage{}, "", fmt.Errorf("bad request (%d): %s", resp.StatusCode, raw)
	}

	var parsed httpChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", rlmtype.Usage{}, "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", rlmtype.Usage{}, "", fmt.Errorf("%s", parsed.Error)
	}

	usage := rlmtype.Usage{
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		CacheRead:    parsed.Usage.CacheRead,
		CacheWrite:   parsed.Usage.CacheWrite,
	}
	return parsed.Content, usage, parsed.StopReason, nil
}

func init() {
	RegisterFactory("anthropic", func(cfg BackendConfig, logger *zap.Logger) Backend {
		return newHTTPBackend("anthropic", cfg, "x-api-key", logger)
	})
	RegisterFactory("openai", func(cfg BackendConfig, logger *zap.Logger) Backend {
		return newHTTPBackend("openai", cfg, "Authorization", logger)
	})
	RegisterFactory("bedrock", func(cfg BackendConfig, logger *zap.Logger) Backend {
		return newHTTPBackend("bedrock", cfg, "Authorization", logger)
	})
}
