package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/recursivelm/rlm/internal/environment"
	"github.com/recursivelm/rlm/internal/infrastructure/config"
	"github.com/recursivelm/rlm/internal/infrastructure/logger"
	"github.com/recursivelm/rlm/internal/interfaces/cli"
	"github.com/recursivelm/rlm/internal/llmcap"
	"github.com/recursivelm/rlm/internal/lmhandler"
	"github.com/recursivelm/rlm/internal/repl"
)

const (
	cliVersion = "0.1.0"
	cliName    = "rlmctl"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName + " [prompt]",
		Short: "rlmctl — recursive language model execution shell",
		Long:  "rlmctl drives an interactive recursive-LM session: the root model writes and runs code, recursing into sub-models as it goes.",
		Args:  cobra.ArbitraryArgs,
		RunE:  runInteractive,
	}

	rootCmd.Flags().StringP("root-model", "m", "", "root model (overrides config)")
	rootCmd.Flags().StringP("backend", "b", "", "backend name (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "check local environment",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInteractive(cmd *cobra.Command, args []string) error {
	cfg, _, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if m, _ := cmd.Flags().GetString("root-model"); m != "" {
		cfg.RootModel = m
	}
	if b, _ := cmd.Flags().GetString("backend"); b != "" {
		cfg.Backend = b
	}

	log, err := logger.NewLogger(logger.Config{Level: "error", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	capability := llmcap.NewCapability(llmcap.DefaultConfig(), log)
	for _, b := range cfg.Backends {
		backend, err := llmcap.CreateBackend(llmcap.BackendConfig{
			Name: b.Name, Type: b.Type, BaseURL: b.BaseURL, APIKey: b.APIKey, Models: b.Models,
		}, log)
		if err != nil {
			return fmt.Errorf("backend %s: %w", b.Name, err)
		}
		capability.AddBackend(backend)
	}

	router := lmhandler.NewDepthRouter(cfg.DepthModelMap)

	newEnv := func(sessionID string) (*repl.Loop, func()) {
		envCfg := environment.DefaultNonIsolatedConfig()
		envCfg.SessionID = sessionID
		envCfg.Dispatcher = environment.DispatcherAddr{TCPAddr: cfg.Listen.LMHandlerAddr}
		env := environment.NewNonIsolatedEnvironment(envCfg, log)

		loopCfg := repl.DefaultConfig()
		loopCfg.MaxIterations = cfg.MaxIterations
		loopCfg.MaxTokensPerSession = cfg.MaxTokensPerSession
		loopCfg.BackendName = cfg.Backend
		loop := repl.NewLoop(loopCfg, capability, router, env, log)
		return loop, func() {}
	}

	app := cli.NewApp(cli.Config{
		RootModel:       cfg.RootModel,
		SubModel:        cfg.SubModel,
		MaxDepth:        cfg.MaxDepth,
		MaxIterations:   cfg.MaxIterations,
		EnvironmentType: cfg.EnvironmentType,
		BackendName:     cfg.Backend,
	}, capability, router, newEnv, log)

	return app.Run(context.Background())
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ rlmctl doctor v%s\n\n", cliVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"config file", checkConfig},
		{"python3", checkPython},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("all checks passed")
	} else {
		fmt.Println("one or more checks failed, see above")
	}
	return nil
}

func checkConfig() (string, bool) {
	path := config.HomeDir() + "/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "not found, using defaults", true
}

func checkPython() (string, bool) {
	if p, err := exec.LookPath("python3"); err == nil {
		return p, true
	}
	return "python3 not found on PATH", false
}
