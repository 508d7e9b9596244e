// Package repl implements C7: the state machine that interleaves
// outer-LM turns with sandbox code execution, the way the teacher's
// agent loop interleaves LM turns with tool calls, generalized here
// to code-block execution and final-answer detection.
package repl

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/environment"
	"github.com/recursivelm/rlm/internal/llmcap"
	"github.com/recursivelm/rlm/internal/lmhandler"
	"github.com/recursivelm/rlm/internal/rlmtype"
	rlmerrors "github.com/recursivelm/rlm/pkg/errors"
)

// Config controls one REPL session's budgets and behavior. Defaults
// match §4.7.
type Config struct {
	CodeFenceTag              string
	MaxIterations             int
	MaxTokensPerSession       int64
	IterationTimeout          time.Duration // per-iteration wall clock, default 300s
	ConsecutiveErrorAbort     int           // default 3, outer-LM-call failures
	SystemPrompt              string
	BackendName               string
}

func DefaultConfig() Config {
	return Config{
		CodeFenceTag:          "python",
		MaxIterations:         20,
		IterationTimeout:      300 * time.Second,
		ConsecutiveErrorAbort: 3,
	}
}

// Loop drives one session: one outer-LM call per iteration, code
// blocks extracted and executed in document order, final-answer
// detection, and budget enforcement.
type Loop struct {
	cfg        Config
	capability *llmcap.Capability
	router     *lmhandler.DepthRouter
	env        environment.Environment
	logger     *zap.Logger
	fencePattern *regexp.Regexp

	// OnIteration, if set, is invoked once per completed iteration —
	// the same event-emission shape the teacher's own agent loop uses
	// to drive a live terminal renderer, here carrying one Iteration
	// instead of one tool-call event.
	OnIteration func(rlmtype.Iteration)
}

func NewLoop(cfg Config, capability *llmcap.Capability, router *lmhandler.DepthRouter, env environment.Environment, logger *zap.Logger) *Loop {
	if cfg.CodeFenceTag == "" {
		cfg.CodeFenceTag = "python"
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 20
	}
	if cfg.IterationTimeout <= 0 {
		cfg.IterationTimeout = 300 * time.Second
	}
	if cfg.ConsecutiveErrorAbort <= 0 {
		cfg.ConsecutiveErrorAbort = 3
	}
	return &Loop{
		cfg:          cfg,
		capability:   capability,
		router:       router,
		env:          env,
		logger:       logger,
		fencePattern: regexp.MustCompile(fmt.Sprintf("(?s)```%s\\s*\\n(.*?)```", regexp.QuoteMeta(cfg.CodeFenceTag))),
	}
}

// Run drives session to termination: it mutates session.Iterations,
// session.StopReason, session.FinalAnswer/HasFinal, and session.TokensUsed
// as it goes, per the append-only contract on SessionState.
func (l *Loop) Run(ctx context.Context, session *rlmtype.SessionState, rootPrompt string) error {
	if err := l.env.Setup(ctx); err != nil {
		session.StopReason = rlmtype.StopError
		return err
	}
	defer func() {
		if cerr := l.env.Cleanup(context.Background()); cerr != nil {
			l.logger.Warn("environment cleanup failed", zap.Error(cerr))
		}
	}()

	if err := l.env.LoadContext(ctx, map[string]any{"prompt": rootPrompt}); err != nil {
		session.StopReason = rlmtype.StopError
		return err
	}

	maxTokens := session.Budget.MaxTokensPerSession
	if maxTokens <= 0 {
		maxTokens = l.cfg.MaxTokensPerSession
	}

	consecutiveLMErrors := 0
	conversation := []rlmtype.Message{{Role: "user", Content: rootPrompt}}

	for i := 0; i < l.cfg.MaxIterations; i++ {
		select {
		case <-ctx.Done():
			session.StopReason = rlmtype.StopCancelled
			return ctx.Err()
		default:
		}

		if maxTokens > 0 && session.TokensUsed >= maxTokens {
			session.StopReason = rlmtype.StopTokenBudget
			return nil
		}

		iterCtx, cancel := context.WithTimeout(ctx, l.cfg.IterationTimeout)
		iteration, err := l.runIteration(iterCtx, session, i, conversation)
		cancel()

		if err != nil {
			consecutiveLMErrors++
			l.logger.Warn("outer LM call failed",
				zap.Int("iteration", i), zap.Int("consecutive_errors", consecutiveLMErrors), zap.Error(err))
			iteration.Failed = true
			session.Iterations = append(session.Iterations, iteration)
			if l.OnIteration != nil {
				l.OnIteration(iteration)
			}
			if consecutiveLMErrors >= l.cfg.ConsecutiveErrorAbort {
				session.StopReason = rlmtype.StopError
				return err
			}
			continue
		}
		consecutiveLMErrors = 0

		session.Iterations = append(session.Iterations, iteration)
		if l.OnIteration != nil {
			l.OnIteration(iteration)
		}
		conversation = append(conversation,
			rlmtype.Message{Role: "assistant", Content: iteration.OuterResponse})

		session.TokensUsed += int64(iteration.OuterUsage.TotalTokens())
		for _, sub := range iteration.SubLMCalls {
			session.TokensUsed += int64(sub.Usage.TotalTokens())
		}

		for _, result := range iteration.Results {
			if result.HasFinal {
				session.FinalAnswer = result.FinalVar
				session.HasFinal = true
				session.StopReason = rlmtype.StopFinalAnswer
				return nil
			}
		}

		conversation = append(conversation, summarizeResultsAsTurn(iteration))
	}

	session.StopReason = rlmtype.StopIterationBudget
	return nil
}

// runIteration makes one outer-LM call, extracts its code blocks, and
// executes them in document order — stopping at the first block that
// reports a final answer, per §4.7's "terminates on the first
// non-null final_var observed" rule.
func (l *Loop) runIteration(ctx context.Context, session *rlmtype.SessionState, index int, conversation []rlmtype.Message) (rlmtype.Iteration, error) {
	start := time.Now()
	iteration := rlmtype.Iteration{Index: index}

	messages := conversation
	if l.cfg.SystemPrompt != "" {
		messages = append([]rlmtype.Message{{Role: "system", Content: l.cfg.SystemPrompt}}, conversation...)
	}

	model := l.router.ModelFor(session.Depth)
	req := rlmtype.LMRequest{
		Messages:  messages,
		Model:     model,
		Depth:     session.Depth,
		SessionID: session.SessionID,
	}

	text, usage, err := l.capability.Completion(ctx, l.cfg.BackendName, req)
	iteration.WallTime = time.Since(start)
	if err != nil {
		return iteration, err
	}

	iteration.OuterPrompt = lastUserContent(conversation)
	iteration.OuterResponse = text
	iteration.OuterUsage = usage

	blocks := l.fencePattern.FindAllStringSubmatch(text, -1)
	for _, m := range blocks {
		code := m[1]
		iteration.CodeBlocks = append(iteration.CodeBlocks, code)

		result, execErr := l.env.ExecuteCode(ctx, code)
		if execErr != nil {
			iteration.Failed = true
			iteration.Results = append(iteration.Results, rlmtype.REPLResult{
				Success:   false,
				Exception: classifyExecError(execErr),
			})
			continue
		}

		if !result.Success {
			iteration.Failed = true
		}
		iteration.Results = append(iteration.Results, result)
		iteration.SubLMCalls = append(iteration.SubLMCalls, result.SubCalls...)

		if result.HasFinal {
			break
		}
	}

	return iteration, nil
}

func classifyExecError(err error) string {
	if rlmerrors.Is(err, rlmerrors.KindTimeout) {
		return "code block timed out: " + err.Error()
	}
	return err.Error()
}

func lastUserContent(conversation []rlmtype.Message) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == "user" {
			return conversation[i].Content
		}
	}
	return ""
}

// summarizeResultsAsTurn feeds stdout/stderr/exceptions from the
// executed code blocks back to the outer LM as the next user turn, the
// way a REPL shows its own output back to the person driving it.
func summarizeResultsAsTurn(iteration rlmtype.Iteration) rlmtype.Message {
	content := ""
	for i, r := range iteration.Results {
		content += fmt.Sprintf("--- block %d ---\n", i+1)
		if r.Stdout != "" {
			content += "stdout:\n" + r.Stdout + "\n"
		}
		if r.Stderr != "" {
			content += "stderr:\n" + r.Stderr + "\n"
		}
		if r.Exception != "" {
			content += "exception:\n" + r.Exception + "\n"
		}
	}
	if content == "" {
		content = "(no code blocks executed)"
	}
	return rlmtype.Message{Role: "user", Content: content}
}
