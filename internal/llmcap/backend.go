package llmcap

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// Backend is one polymorphic LM variant (anthropic, openai, bedrock,
// mock, ...). A Backend only needs to know how to complete a prompt;
// retrying, circuit-breaking, and usage accounting live one layer up
// in Capability, so every Backend gets them for free.
type Backend interface {
	Name() string
	Models() []string
	SupportsModel(model string) bool
	IsAvailable(ctx context.Context) bool

	// Complete performs one synchronous completion call. An
	// *rlmerrors.AppError (via pkg/errors) is used by Capability as-is;
	// any other error is classified by Classify from its message text.
	Complete(ctx context.Context, req rlmtype.LMRequest) (text string, usage rlmtype.Usage, stopReason string, err error)
}

// BackendConfig configures one backend instance.
type BackendConfig struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Type    string   `mapstructure:"type" yaml:"type"` // "anthropic" | "openai" | "bedrock" | "mock"
	BaseURL string   `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string   `mapstructure:"api_key" yaml:"api_key"`
	Models  []string `mapstructure:"models" yaml:"models"`
}

// BackendFactory builds a Backend from config. Each backend variant
// registers its own factory via init() in its own file, the same
// registry-of-constructors shape the teacher uses for chat providers.
type BackendFactory func(cfg BackendConfig, logger *zap.Logger) Backend

var (
	factoryMu sync.RWMutex
	factories = map[string]BackendFactory{}
)

func RegisterFactory(typeName string, factory BackendFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

func CreateBackend(cfg BackendConfig, logger *zap.Logger) (Backend, error) {
	t := cfg.Type
	if t == "" {
		t = "mock"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		available := make([]string, 0, len(factories))
		factoryMu.RLock()
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown backend type %q (available: %v)", t, available)
	}

	return factory(cfg, logger), nil
}
