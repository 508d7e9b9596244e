package llmcap

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// MockBackend is a deterministic, in-process backend used by tests and
// by local development when no provider credentials are configured.
// Responses are keyed by exact prompt match (the last message's
// content); SetResponse lets a test script canned replies. Every
// reply is returned immediately: there is no per-prompt delay.
type MockBackend struct {
	mu        sync.Mutex
	responses map[string]string
	models    []string
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		responses: map[string]string{},
		models:    []string{"mock-root", "mock-sub"},
	}
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Models() []string { return m.models }

func (m *MockBackend) SupportsModel(model string) bool {
	if model == "" {
		return true
	}
	for _, mm := range m.models {
		if mm == model {
			return true
		}
	}
	return false
}

func (m *MockBackend) IsAvailable(ctx context.Context) bool { return true }

// SetResponse registers a canned reply for an exact prompt's last
// message content.
func (m *MockBackend) SetResponse(prompt, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = reply
}

func (m *MockBackend) Complete(ctx context.Context, req rlmtype.LMRequest) (string, rlmtype.Usage, string, error) {
	prompt := lastMessageContent(req)

	m.mu.Lock()
	reply, ok := m.responses[prompt]
	m.mu.Unlock()

	if !ok {
		reply = fmt.Sprintf("mock response to: %s", prompt)
	}

	usage := rlmtype.Usage{InputTokens: len(prompt) / 4, OutputTokens: len(reply) / 4}
	return reply, usage, "stop", nil
}

func lastMessageContent(req rlmtype.LMRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

func init() {
	RegisterFactory("mock", func(cfg BackendConfig, logger *zap.Logger) Backend {
		return NewMockBackend()
	})
}
