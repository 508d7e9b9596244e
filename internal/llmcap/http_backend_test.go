package llmcap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

func newTestHTTPBackend(t *testing.T, handler http.HandlerFunc) *httpBackend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return newHTTPBackend("anthropic", BackendConfig{BaseURL: server.URL, APIKey: "secret", Models: []string{"m1"}}, "x-api-key", zap.NewNop())
}

func TestHTTPBackend_CompleteParsesContentAndUsage(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("expected auth header to be forwarded")
		}
		w.Write([]byte(`{"content":"hello","stop_reason":"stop","usage":{"input_tokens":3,"output_tokens":4}}`))
	})

	content, usage, stopReason, err := b.Complete(context.Background(), rlmtype.LMRequest{Model: "m1"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if content != "hello" || stopReason != "stop" {
		t.Fatalf("unexpected result: content=%q stopReason=%q", content, stopReason)
	}
	if usage.InputTokens != 3 || usage.OutputTokens != 4 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
}

func TestHTTPBackend_CompleteSurfacesRateLimitedError(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, _, _, err := b.Complete(context.Background(), rlmtype.LMRequest{})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected a 429 error, got %v", err)
	}
}

func TestHTTPBackend_CompleteSurfacesAuthError(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, _, _, err := b.Complete(context.Background(), rlmtype.LMRequest{})
	if err == nil || !strings.Contains(err.Error(), "authentication failed") {
		t.Fatalf("expected an authentication error, got %v", err)
	}
}

func TestHTTPBackend_CompleteSurfacesServerError(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, _, _, err := b.Complete(context.Background(), rlmtype.LMRequest{})
	if err == nil || !strings.Contains(err.Error(), "server error") {
		t.Fatalf("expected a server error, got %v", err)
	}
}

func TestHTTPBackend_SupportsModel(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	if !b.SupportsModel("") {
		t.Fatal("empty model string should be accepted")
	}
	if !b.SupportsModel("m1") {
		t.Fatal("expected configured model to be supported")
	}
	if b.SupportsModel("unknown-model") {
		t.Fatal("expected unconfigured model to be rejected")
	}
}

func TestHTTPBackend_IsAvailableFalseWithoutBaseURL(t *testing.T) {
	b := newHTTPBackend("anthropic", BackendConfig{}, "x-api-key", zap.NewNop())
	if b.IsAvailable(context.Background()) {
		t.Fatal("expected IsAvailable to be false with no base URL configured")
	}
}
