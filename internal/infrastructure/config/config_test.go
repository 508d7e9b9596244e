package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newDefaultViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestDecode_AppliesDefaultsAndDerivesDepthModelMap(t *testing.T) {
	cfg, err := decode(newDefaultViper())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if cfg.RootModel != "claude-sonnet-4" || cfg.SubModel != "claude-haiku-4" {
		t.Fatalf("unexpected default models: %+v", cfg)
	}
	if cfg.MaxDepth != 2 || cfg.MaxIterations != 20 {
		t.Fatalf("unexpected default budgets: %+v", cfg)
	}
	// no explicit depth_model_map configured: falls back to root/sub at 0/1
	if cfg.DepthModelMap[0] != cfg.RootModel || cfg.DepthModelMap[1] != cfg.SubModel {
		t.Fatalf("unexpected derived depth_model_map: %+v", cfg.DepthModelMap)
	}
}

func TestDecode_ParsesExplicitDepthModelMap(t *testing.T) {
	v := newDefaultViper()
	v.Set("depth_model_map", map[string]any{
		"0": "root-model",
		"1": "mid-model",
		"2": "leaf-model",
	})

	cfg, err := decode(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.DepthModelMap[0] != "root-model" || cfg.DepthModelMap[1] != "mid-model" || cfg.DepthModelMap[2] != "leaf-model" {
		t.Fatalf("unexpected depth_model_map: %+v", cfg.DepthModelMap)
	}
}

func TestDecode_RejectsNonNumericDepthKey(t *testing.T) {
	v := newDefaultViper()
	v.Set("depth_model_map", map[string]any{"not-a-number": "x"})

	if _, err := decode(v); err == nil {
		t.Fatal("expected an error for a non-numeric depth_model_map key")
	}
}

func TestDecode_ParsesBackendEntries(t *testing.T) {
	v := newDefaultViper()
	v.Set("backends", []map[string]any{
		{"name": "primary", "type": "anthropic", "base_url": "https://api.example.com", "models": []string{"m1"}},
	})

	cfg, err := decode(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cfg.Backends) != 1 || cfg.Backends[0].Name != "primary" || cfg.Backends[0].Type != "anthropic" {
		t.Fatalf("unexpected backends: %+v", cfg.Backends)
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := &Config{BlockTimeoutS: 300, EnqueueTimeoutS: 600, PollingIntervalMS: 100}

	if cfg.BlockTimeout() != 300*time.Second {
		t.Fatalf("BlockTimeout() = %v", cfg.BlockTimeout())
	}
	if cfg.EnqueueTimeout() != 600*time.Second {
		t.Fatalf("EnqueueTimeout() = %v", cfg.EnqueueTimeout())
	}
	if cfg.PollingInterval() != 100*time.Millisecond {
		t.Fatalf("PollingInterval() = %v", cfg.PollingInterval())
	}
}
