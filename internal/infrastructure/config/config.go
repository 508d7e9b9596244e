// Package config loads the execution substrate's configuration: model
// routing, budgets, backend selection, and the timeouts named in §5 and
// §6 of the specification. It is viper-backed, the way the teacher
// loads its own agent/runtime config, with the same layered-override
// posture (defaults → config file → environment variables) and a
// fsnotify-backed watch so a depth_model_map edit takes effect without
// a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full set of configuration options enumerated in §6.
type Config struct {
	RootModel           string         `mapstructure:"root_model"`
	SubModel            string         `mapstructure:"sub_model"`
	DepthModelMap       map[int]string `mapstructure:"depth_model_map"`
	EnvironmentType     string         `mapstructure:"environment_type"` // local | modal | e2b | prime | daytona | docker
	MaxIterations       int            `mapstructure:"max_iterations"`
	MaxDepth            int            `mapstructure:"max_depth"`
	MaxTokensPerSession int64          `mapstructure:"max_tokens_per_session"`
	Backend             string         `mapstructure:"backend"`
	PollingIntervalMS   int            `mapstructure:"polling_interval_ms"`
	EnqueueTimeoutS     int            `mapstructure:"enqueue_timeout_s"`
	BlockTimeoutS       int            `mapstructure:"block_timeout_s"`

	Listen   ListenConfig   `mapstructure:"listen"`
	Backends []BackendEntry `mapstructure:"backends"`
	Log      LogConfig      `mapstructure:"log"`
	LogDir   string         `mapstructure:"log_dir"`
}

// ListenConfig controls the addresses C3's TCP server and its
// introspection/broker HTTP surfaces bind to.
type ListenConfig struct {
	LMHandlerAddr  string `mapstructure:"lm_handler_addr"`
	IntrospectAddr string `mapstructure:"introspect_addr"`
	BrokerAddr     string `mapstructure:"broker_addr"`
}

// BackendEntry configures one registered llmcap.Backend.
type BackendEntry struct {
	Name    string   `mapstructure:"name"`
	Type    string   `mapstructure:"type"`
	BaseURL string   `mapstructure:"base_url"`
	APIKey  string   `mapstructure:"api_key"`
	Models  []string `mapstructure:"models"`
}

// LogConfig controls the substrate's own structured logging, as
// distinct from the per-session LogDocument sink (RLM_LOG_DIR).
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AppName and HomeDir mirror the teacher's own config-home convention:
// a per-user directory holding the config file and default session
// log output.
const AppName = "rlm"

func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Load reads configuration the same layered way the teacher does:
// defaults, then ~/.rlm/config.yaml, then ./config.yaml (merged over
// the global layer), then RLM_-prefixed environment variables.
func Load() (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, dir := range []string{"./config", "."} {
		localPath := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("RLM")
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// decode unmarshals v into a Config, translating the depth_model_map's
// string-keyed YAML representation into an int-keyed map (viper's
// mapstructure can't decode non-string map keys directly).
func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	cfg.RootModel = v.GetString("root_model")
	cfg.SubModel = v.GetString("sub_model")
	cfg.EnvironmentType = v.GetString("environment_type")
	cfg.MaxIterations = v.GetInt("max_iterations")
	cfg.MaxDepth = v.GetInt("max_depth")
	cfg.MaxTokensPerSession = v.GetInt64("max_tokens_per_session")
	cfg.Backend = v.GetString("backend")
	cfg.PollingIntervalMS = v.GetInt("polling_interval_ms")
	cfg.EnqueueTimeoutS = v.GetInt("enqueue_timeout_s")
	cfg.BlockTimeoutS = v.GetInt("block_timeout_s")
	cfg.LogDir = v.GetString("log_dir")

	cfg.Listen = ListenConfig{
		LMHandlerAddr:  v.GetString("listen.lm_handler_addr"),
		IntrospectAddr: v.GetString("listen.introspect_addr"),
		BrokerAddr:     v.GetString("listen.broker_addr"),
	}
	cfg.Log = LogConfig{Level: v.GetString("log.level"), Format: v.GetString("log.format")}

	if err := v.UnmarshalKey("backends", &cfg.Backends); err != nil {
		return nil, fmt.Errorf("decode backends: %w", err)
	}

	raw := v.GetStringMap("depth_model_map")
	cfg.DepthModelMap = make(map[int]string, len(raw))
	for k, val := range raw {
		depth, err := parseDepthKey(k)
		if err != nil {
			return nil, fmt.Errorf("depth_model_map key %q: %w", k, err)
		}
		model, _ := val.(string)
		cfg.DepthModelMap[depth] = model
	}
	if len(cfg.DepthModelMap) == 0 {
		cfg.DepthModelMap = map[int]string{0: cfg.RootModel, 1: cfg.SubModel}
	}

	return cfg, nil
}

func parseDepthKey(k string) (int, error) {
	var depth int
	if _, err := fmt.Sscanf(k, "%d", &depth); err != nil {
		return 0, err
	}
	return depth, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root_model", "claude-sonnet-4")
	v.SetDefault("sub_model", "claude-haiku-4")
	v.SetDefault("environment_type", "local")
	v.SetDefault("max_iterations", 20)
	v.SetDefault("max_depth", 2)
	v.SetDefault("max_tokens_per_session", 0) // 0 = unbounded
	v.SetDefault("backend", "mock")
	v.SetDefault("polling_interval_ms", 100)
	v.SetDefault("enqueue_timeout_s", 600)
	v.SetDefault("block_timeout_s", 300)
	v.SetDefault("log_dir", filepath.Join(HomeDir(), "logs"))

	v.SetDefault("listen.lm_handler_addr", ":9090")
	v.SetDefault("listen.introspect_addr", ":9091")
	v.SetDefault("listen.broker_addr", ":8700")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("backends", []map[string]any{
		{"name": "mock", "type": "mock"},
	})
}

// WatchDepthModelMap hot-reloads the depth→model routing table when
// the config file changes on disk, per the teacher's fsnotify-backed
// viper.WatchConfig idiom — it never touches the rest of Config, since
// every other option is fixed for a process's lifetime.
func WatchDepthModelMap(v *viper.Viper, onChange func(map[int]string)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			return
		}
		onChange(cfg.DepthModelMap)
	})
	v.WatchConfig()
}

// BlockTimeout, EnqueueTimeout, and PollingInterval convert the
// config's integer fields to time.Duration for the components that
// consume them.
func (c *Config) BlockTimeout() time.Duration {
	return time.Duration(c.BlockTimeoutS) * time.Second
}

func (c *Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.EnqueueTimeoutS) * time.Second
}

func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalMS) * time.Millisecond
}
