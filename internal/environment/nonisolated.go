package environment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	rlmerrors "github.com/recursivelm/rlm/pkg/errors"
	"github.com/recursivelm/rlm/internal/rlmtype"
)

// NonIsolatedConfig controls the subprocess-backed environment — the
// default mode, matching process_sandbox.go's process-group isolation
// and timeout handling but generalized from "run a whitelisted binary"
// to "run the configured interpreter against a generated wrapper
// around one REPL code block."
type NonIsolatedConfig struct {
	Interpreter string // defaults to "python3"
	WorkDir     string
	TempDir     string
	BlockTimeout time.Duration // default 60s, distinct from the REPL's per-iteration wall clock

	SessionID          string
	Depth              int
	DefaultTemperature *float64
	Dispatcher         DispatcherAddr
}

func DefaultNonIsolatedConfig() NonIsolatedConfig {
	return NonIsolatedConfig{
		Interpreter:  "python3",
		WorkDir:      "/tmp/rlm-sandbox",
		TempDir:      "/tmp/rlm-sandbox-tmp",
		BlockTimeout: 60 * time.Second,
	}
}

// NonIsolatedEnvironment runs code blocks as local subprocesses. The
// REPL namespace persists across ExecuteCode calls through a
// JSON-serialized state file rather than an in-process interpreter,
// since each call spawns a fresh interpreter process — the same
// "no implicit shared state" posture as the teacher's ProcessSandbox.
type NonIsolatedEnvironment struct {
	cfg    NonIsolatedConfig
	logger *zap.Logger

	statePath  string
	sessionDir string
}

func NewNonIsolatedEnvironment(cfg NonIsolatedConfig, logger *zap.Logger) *NonIsolatedEnvironment {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 60 * time.Second
	}
	return &NonIsolatedEnvironment{cfg: cfg, logger: logger}
}

func (e *NonIsolatedEnvironment) Setup(ctx context.Context) error {
	e.sessionDir = filepath.Join(e.cfg.TempDir, "session-"+e.cfg.SessionID)
	if err := os.MkdirAll(e.sessionDir, 0755); err != nil {
		return rlmerrors.Sandbox("creating session dir", err)
	}
	if err := os.MkdirAll(e.cfg.WorkDir, 0755); err != nil {
		return rlmerrors.Sandbox("creating work dir", err)
	}
	e.statePath = filepath.Join(e.sessionDir, "namespace.json")
	return nil
}

// LoadContext seeds the namespace state file with the session's
// initial context payload, under the reserved "context" key — picked
// up by the shim as the `context` global, matching §3's "opaque,
// session-scoped blob" data model.
func (e *NonIsolatedEnvironment) LoadContext(ctx context.Context, payload map[string]any) error {
	ns := map[string]any{"context": payload}
	body, err := json.Marshal(ns)
	if err != nil {
		return rlmerrors.Sandbox("marshaling initial context", err)
	}
	if err := os.WriteFile(e.statePath, body, 0644); err != nil {
		return rlmerrors.Sandbox("writing namespace state", err)
	}
	return nil
}

// ExecuteCode runs one code block in a fresh python3 subprocess,
// wrapped with the shim that installs llm_query/llm_query_batched/
// FINAL_VAR and carries namespace state across calls.
func (e *NonIsolatedEnvironment) ExecuteCode(ctx context.Context, code string) (rlmtype.REPLResult, error) {
	start := time.Now()
	transport := tcpTransport(e.cfg.Dispatcher.TCPAddr)
	preamble := renderShim(e.statePath, e.cfg.SessionID, e.cfg.Depth, e.cfg.DefaultTemperature, transport)

	script := preamble + "\n" + code + "\n" + postamble

	scriptFile, err := os.CreateTemp(e.sessionDir, "block-*.py")
	if err != nil {
		return rlmtype.REPLResult{}, rlmerrors.Sandbox("creating script file", err)
	}
	defer os.Remove(scriptFile.Name())

	if _, err := scriptFile.WriteString(script); err != nil {
		scriptFile.Close()
		return rlmtype.REPLResult{}, rlmerrors.Sandbox("writing script file", err)
	}
	scriptFile.Close()

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.BlockTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.cfg.Interpreter, scriptFile.Name())
	cmd.Dir = e.cfg.WorkDir
	cmd.Env = e.buildEnvironment()
	cmd.SysProcAttr = buildSysProcAttr()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := rlmtype.REPLResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if execCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		return result, rlmerrors.Timeout(fmt.Sprintf("code block exceeded %v", e.cfg.BlockTimeout))
	}

	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); ok {
			result.Success = false
			result.Exception = stderr.String()
		} else {
			return result, rlmerrors.Execution(fmt.Sprintf("running interpreter: %v", runErr))
		}
	} else {
		result.Success = true
	}

	final, hasFinal, err := e.readFinalVar()
	if err != nil {
		e.logger.Warn("reading FINAL_VAR sentinel failed", zap.Error(err))
	} else if hasFinal {
		result.HasFinal = true
		result.FinalVar = final
	}

	subCalls, err := e.readSubCalls(start)
	if err != nil {
		e.logger.Warn("reading sub-call sentinel failed", zap.Error(err))
	} else {
		result.SubCalls = subCalls
	}

	return result, nil
}

func (e *NonIsolatedEnvironment) Cleanup(ctx context.Context) error {
	if e.sessionDir == "" {
		return nil
	}
	err := os.RemoveAll(e.sessionDir)
	e.sessionDir = ""
	e.statePath = ""
	if err != nil {
		return rlmerrors.Sandbox("removing session dir", err)
	}
	return nil
}

func (e *NonIsolatedEnvironment) finalVarPath() string {
	return filepath.Join(e.sessionDir, "final_var.json")
}

func (e *NonIsolatedEnvironment) subCallsPath() string {
	return filepath.Join(e.sessionDir, "sub_calls.json")
}

// readSubCalls loads the recursive llm_query/llm_query_batched records
// the shim appended while this code block ran, stamping each with the
// block's own start time since the sandbox never reports per-call
// wall-clock timestamps.
func (e *NonIsolatedEnvironment) readSubCalls(start time.Time) ([]rlmtype.SubCallRecord, error) {
	path := e.subCallsPath()
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer os.Remove(path)

	var raw []struct {
		RequestID string        `json:"request_id"`
		Depth     int           `json:"depth"`
		Usage     rlmtype.Usage `json:"usage"`
		Error     string        `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	records := make([]rlmtype.SubCallRecord, len(raw))
	for i, r := range raw {
		records[i] = rlmtype.SubCallRecord{
			RequestID: r.RequestID,
			Depth:     r.Depth,
			Usage:     r.Usage,
			Error:     r.Error,
			Issued:    start,
		}
	}
	return records, nil
}

func (e *NonIsolatedEnvironment) readFinalVar() (any, bool, error) {
	path := e.finalVarPath()
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer os.Remove(path)

	var sentinel struct {
		Set   bool `json:"set"`
		Value any  `json:"value"`
	}
	if err := json.Unmarshal(body, &sentinel); err != nil {
		return nil, false, err
	}
	return sentinel.Value, sentinel.Set, nil
}

// buildEnvironment mirrors the teacher's minimal, explicit env-var
// allowlist rather than inheriting the host process's full env.
func (e *NonIsolatedEnvironment) buildEnvironment() []string {
	sysPath := os.Getenv("PATH")
	if sysPath == "" {
		sysPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = e.cfg.WorkDir
	}
	return []string{
		"PATH=" + sysPath,
		"HOME=" + home,
		"TMPDIR=" + e.cfg.TempDir,
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
		"RLM_FINAL_VAR_PATH=" + e.finalVarPath(),
		"RLM_SUB_CALLS_PATH=" + e.subCallsPath(),
	}
}

func buildSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// postamble flushes the namespace and FINAL_VAR sentinel after the
// user's code runs, reading the sentinel path from the environment so
// the shim doesn't need a second templated constant.
const postamble = `
import os as _rlm_os
_rlm_save_namespace(dict(globals()))
_rlm_final_path = _rlm_os.environ.get("RLM_FINAL_VAR_PATH")
if _rlm_final_path:
    with open(_rlm_final_path, "w") as _rlm_f:
        json.dump(_rlm_final, _rlm_f)
_rlm_sub_calls_path = _rlm_os.environ.get("RLM_SUB_CALLS_PATH")
if _rlm_sub_calls_path:
    with open(_rlm_sub_calls_path, "w") as _rlm_f:
        json.dump(_rlm_sub_calls, _rlm_f)
`
