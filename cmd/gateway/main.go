// Command rlmd is the long-running host process: it brings up the LM
// Handler (C3) that sandboxes dial into, the introspection HTTP
// surface dashboards poll, and — when running isolated
// sessions — the broker (C4) a remote sandbox's generated code talks
// to. Non-isolated sessions are driven directly by rlmctl against this
// process's LM Handler; this binary never runs a REPL session itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/broker"
	"github.com/recursivelm/rlm/internal/infrastructure/config"
	"github.com/recursivelm/rlm/internal/infrastructure/logger"
	"github.com/recursivelm/rlm/internal/llmcap"
	"github.com/recursivelm/rlm/internal/lmhandler"
)

const (
	appName    = "rlmd"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	log, err := logger.NewLogger(logger.Config{Level: "info", Format: "json", OutputPath: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting rlmd", zap.String("version", appVersion))

	cfg, v, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	capability := llmcap.NewCapability(llmcap.DefaultConfig(), log)
	for _, b := range cfg.Backends {
		backend, err := llmcap.CreateBackend(llmcap.BackendConfig{
			Name: b.Name, Type: b.Type, BaseURL: b.BaseURL, APIKey: b.APIKey, Models: b.Models,
		}, log)
		if err != nil {
			log.Fatal("failed to construct backend", zap.String("backend", b.Name), zap.Error(err))
		}
		capability.AddBackend(backend)
		log.Info("backend registered", zap.String("name", b.Name), zap.String("type", b.Type))
	}

	router := lmhandler.NewDepthRouter(cfg.DepthModelMap)
	config.WatchDepthModelMap(v, func(updated map[int]string) {
		router.Replace(updated)
		log.Info("depth_model_map hot-reloaded", zap.Any("map", updated))
	})

	handlerCfg := lmhandler.DefaultConfig()
	handlerCfg.ListenAddr = cfg.Listen.LMHandlerAddr
	handlerCfg.MaxDepth = cfg.MaxDepth
	handlerCfg.DefaultBackend = cfg.Backend
	handler := lmhandler.NewHandler(handlerCfg, capability, router, log)

	introspect := lmhandler.NewIntrospectServer(cfg.Listen.IntrospectAddr, handler, log)
	introspect.Start()

	var brokerServer *broker.Server
	if cfg.EnvironmentType != "local" {
		b := broker.New(broker.Config{EnqueueTimeout: cfg.EnqueueTimeout()}, log)
		brokerServer = broker.NewServer(broker.ServerConfig{Addr: cfg.Listen.BrokerAddr, Mode: "release"}, b, log)
		brokerServer.Start()
		log.Info("broker listening", zap.String("addr", cfg.Listen.BrokerAddr), zap.String("environment_type", cfg.EnvironmentType))
	}

	handlerErrCh := make(chan error, 1)
	go func() { handlerErrCh <- handler.ListenAndServe() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-handlerErrCh:
		if err != nil {
			log.Error("LM Handler stopped unexpectedly", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	handler.Stop()
	if err := introspect.Stop(shutdownCtx); err != nil {
		log.Error("introspection server shutdown error", zap.Error(err))
	}
	if brokerServer != nil {
		if err := brokerServer.Stop(shutdownCtx); err != nil {
			log.Error("broker shutdown error", zap.Error(err))
		}
	}

	log.Info("rlmd stopped")
}

func printUsage() {
	fmt.Printf(`%s v%s

Usage:
  rlmd              Start the LM Handler, introspection endpoint, and (if configured) the broker
  rlmd version      Show version
  rlmd help         Show this help

Environment:
  RLM_*             Configuration overrides (see ~/.rlm/config.yaml)
`, appName, appVersion)
}
