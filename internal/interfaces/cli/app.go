// Package cli implements rlmctl's interactive driver: a readline loop
// that takes one root prompt per session, runs it through the REPL
// loop (C7) against a local, non-isolated environment, and renders
// progress and the final answer to the terminal — the teacher's own
// interactive coding-agent REPL, retargeted from a tool-calling chat
// loop to one-shot recursive-LM sessions.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/recursivelm/rlm/internal/llmcap"
	"github.com/recursivelm/rlm/internal/lmhandler"
	"github.com/recursivelm/rlm/internal/repl"
	"github.com/recursivelm/rlm/internal/rlmtype"
)

// Config holds rlmctl's runtime configuration for one process.
type Config struct {
	RootModel       string
	SubModel        string
	MaxDepth        int
	MaxIterations   int
	EnvironmentType string
	BackendName     string
}

// App drives the interactive rlmctl session loop.
type App struct {
	cfg        Config
	capability *llmcap.Capability
	router     *lmhandler.DepthRouter
	newEnv     func(sessionID string) (loop *repl.Loop, cleanup func())
	renderer   *Renderer
	logger     *zap.Logger
}

// NewApp builds an App. newEnv constructs a fresh REPL loop (wired to
// a fresh Environment) for each session — a session's namespace and
// subprocess resources must not leak into the next one.
func NewApp(cfg Config, capability *llmcap.Capability, router *lmhandler.DepthRouter, newEnv func(sessionID string) (*repl.Loop, func()), logger *zap.Logger) *App {
	return &App{
		cfg:        cfg,
		capability: capability,
		router:     router,
		newEnv:     newEnv,
		renderer:   NewRenderer(termWidth()),
		logger:     logger,
	}
}

// Run starts the readline loop: each non-command line becomes the
// root prompt of a new session.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Print(RenderBanner(BannerInfo{
		RootModel:       a.cfg.RootModel,
		SubModel:        a.cfg.SubModel,
		MaxDepth:        a.cfg.MaxDepth,
		MaxIterations:   a.cfg.MaxIterations,
		EnvironmentType: a.cfg.EnvironmentType,
		Backend:         a.cfg.BackendName,
	}, a.renderer.width))

	rl, err := readline.New("rlm> ")
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	var lastSession *rlmtype.SessionState

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}

		if cmd := ParseSlashCommand(line); cmd != nil {
			info := a.statusInfo(lastSession)
			result := ExecuteCommand(cmd, info)
			if result.IsQuit {
				return nil
			}
			fmt.Println(result.Output)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastSession = a.runSession(ctx, line)
	}
}

// runSession drives one REPL session end to end: a fresh session id,
// a fresh Environment, progress rendered as iterations complete.
func (a *App) runSession(ctx context.Context, prompt string) *rlmtype.SessionState {
	sessionID := uuid.NewString()
	loop, cleanup := a.newEnv(sessionID)
	defer cleanup()

	session := rlmtype.NewSessionState(sessionID, rlmtype.Budget{
		MaxIterations: a.cfg.MaxIterations,
		MaxDepth:      a.cfg.MaxDepth,
	})

	loop.OnIteration = func(it rlmtype.Iteration) {
		fmt.Println(a.renderer.RenderMarkdown(it.OuterResponse))
		for i, result := range it.Results {
			fmt.Println(a.renderer.RenderResult(i, result, it.WallTime))
		}
		for _, sub := range it.SubLMCalls {
			fmt.Println(a.renderer.RenderSubCall(sub))
		}
	}

	start := time.Now()
	if err := loop.Run(ctx, session, prompt); err != nil {
		a.logger.Warn("session ended with error", zap.Error(err), zap.String("session_id", sessionID))
	}

	if session.HasFinal {
		fmt.Println(a.renderer.RenderFinalAnswer(session.FinalAnswer))
	} else {
		fmt.Printf("session ended: %s (no final answer bound after %d iterations, %s)\n",
			session.StopReason, len(session.Iterations), time.Since(start).Round(time.Millisecond))
	}

	return session
}

func (a *App) statusInfo(session *rlmtype.SessionState) StatusInfo {
	info := StatusInfo{
		RootModel:     a.cfg.RootModel,
		SubModel:      a.cfg.SubModel,
		MaxDepth:      a.cfg.MaxDepth,
		MaxIterations: a.cfg.MaxIterations,
		Usage:         a.capability.GetUsageSummary(),
	}
	if session != nil {
		info.SessionID = session.SessionID
		info.Iterations = len(session.Iterations)
	}
	return info
}

// termWidth reports the terminal width, falling back to 80 columns
// when stdout isn't a terminal (piped output, CI).
func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
