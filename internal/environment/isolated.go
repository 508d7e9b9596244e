package environment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/poller"
	"github.com/recursivelm/rlm/internal/rlmtype"
	rlmerrors "github.com/recursivelm/rlm/pkg/errors"
)

// Provisioner stands up one remote sandbox and tears it down again.
// Provider-specific bootstrap (Modal/E2B/Prime/Daytona/Docker) is out
// of scope for this substrate — only this contract is: provision a
// sandbox running the broker (C4) and a driver script, and publish a
// tunnel URL the host can reach. Implementations live outside this
// package, one per provider.
type Provisioner interface {
	// Provision starts a sandbox and returns the base URL of its
	// broker (e.g. https://sandbox-abc123.example.dev).
	Provision(ctx context.Context, sessionID string) (tunnelURL string, err error)
	Teardown(ctx context.Context, sessionID string) error
}

// IsolatedConfig controls the remote-sandbox environment.
type IsolatedConfig struct {
	HandlerAddr string // TCP address of the local LM Handler, where the poller forwards requests
	SessionID   string
	Depth       int

	PollInterval   time.Duration
	PollConcurrency int
	EnqueueTimeout time.Duration
	HTTPTimeout    time.Duration

	// SandboxStatePath is the namespace state file path inside the
	// sandbox, referenced by the shim the driver executes alongside
	// every code block — the isolated counterpart of the non-isolated
	// environment's own sessionDir-scoped statePath.
	SandboxStatePath string
	// SandboxBrokerAddr is the address the shim's _rlm_call reaches
	// from inside the sandbox, where the driver and broker (C4) are
	// co-located — never the host-visible tunnel URL.
	SandboxBrokerAddr  string
	DefaultTemperature *float64
}

func DefaultIsolatedConfig() IsolatedConfig {
	return IsolatedConfig{
		PollInterval:      100 * time.Millisecond,
		PollConcurrency:   16,
		EnqueueTimeout:    600 * time.Second,
		HTTPTimeout:       630 * time.Second,
		SandboxStatePath:  "/tmp/rlm_namespace_state.json",
		SandboxBrokerAddr: "http://127.0.0.1:8089",
	}
}

// IsolatedEnvironment drives a remote sandbox: it provisions the
// sandbox, launches a host-side poller (C5) bridging the sandbox's
// broker (C4) to the local LM Handler (C3), and talks to the driver
// script running inside the sandbox to execute code blocks.
//
// cleanup releases the poller and the sandbox on every exit path,
// including a partially-failed Setup, matching the scoped-acquisition
// contract named for every Environment implementation.
type IsolatedEnvironment struct {
	cfg         IsolatedConfig
	provisioner Provisioner
	logger      *zap.Logger

	httpClient *http.Client
	tunnelURL  string
	poller     *poller.Poller
	pollerDone chan struct{}

	provisioned bool
}

func NewIsolatedEnvironment(cfg IsolatedConfig, provisioner Provisioner, logger *zap.Logger) *IsolatedEnvironment {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = 16
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 600 * time.Second
	}
	if cfg.SandboxStatePath == "" {
		cfg.SandboxStatePath = "/tmp/rlm_namespace_state.json"
	}
	if cfg.SandboxBrokerAddr == "" {
		cfg.SandboxBrokerAddr = "http://127.0.0.1:8089"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = cfg.EnqueueTimeout + 30*time.Second
	}
	return &IsolatedEnvironment{
		cfg:         cfg,
		provisioner: provisioner,
		logger:      logger,
		httpClient:  &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Setup provisions the sandbox and starts the poller bridging it to
// the local LM Handler. Only Provision can fail; in that case nothing
// has been acquired and Setup returns the error. Once provisioning
// succeeds the poller is started in the background and Setup returns
// nil.
func (e *IsolatedEnvironment) Setup(ctx context.Context) error {
	tunnelURL, err := e.provisioner.Provision(ctx, e.cfg.SessionID)
	if err != nil {
		return rlmerrors.Sandbox("provisioning remote sandbox", err)
	}
	e.tunnelURL = tunnelURL
	e.provisioned = true

	pollerCfg := poller.Config{
		TunnelURL:      tunnelURL,
		HandlerAddr:    e.cfg.HandlerAddr,
		PollInterval:   e.cfg.PollInterval,
		Concurrency:    e.cfg.PollConcurrency,
		UnhealthyAfter: 3,
	}
	e.poller = poller.New(pollerCfg, e.logger)
	e.pollerDone = make(chan struct{})
	e.poller.OnUnhealthy = func() { close(e.pollerDone) }

	go e.poller.Run(ctx)

	return nil
}

// DispatcherAddr reports the sandbox broker's base URL as the host
// reaches it: the tunnel URL returned by Provision. Code running
// inside the sandbox does not use this URL; the shim targets
// SandboxBrokerAddr instead.
func (e *IsolatedEnvironment) DispatcherAddr() DispatcherAddr {
	return DispatcherAddr{BrokerURL: e.tunnelURL}
}

// LoadContext seeds the sandbox's namespace state via the driver's
// /context endpoint, served alongside the broker.
func (e *IsolatedEnvironment) LoadContext(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return rlmerrors.Sandbox("marshaling context payload", err)
	}
	return e.postDriver(ctx, "/context", body, nil)
}

// ExecuteCode sends one code block to the sandbox's driver and awaits
// a REPLResult. This blocks on remote execution, one of the
// suspension points named for the REPL's scheduling model.
func (e *IsolatedEnvironment) ExecuteCode(ctx context.Context, code string) (rlmtype.REPLResult, error) {
	select {
	case <-e.pollerDone:
		return rlmtype.REPLResult{}, rlmerrors.Sandbox("poller unhealthy, sandbox unreachable", nil)
	default:
	}

	transport := httpTransport(e.cfg.SandboxBrokerAddr)
	preamble := renderShim(e.cfg.SandboxStatePath, e.cfg.SessionID, e.cfg.Depth, e.cfg.DefaultTemperature, transport)
	script := preamble + "\n" + code

	body, err := json.Marshal(struct {
		Code string `json:"code"`
	}{Code: script})
	if err != nil {
		return rlmtype.REPLResult{}, rlmerrors.Sandbox("marshaling code block", err)
	}

	var result rlmtype.REPLResult
	if err := e.postDriver(ctx, "/execute", body, &result); err != nil {
		return rlmtype.REPLResult{}, err
	}
	return result, nil
}

// Cleanup stops the poller and tears down the sandbox. It is
// idempotent: calling it twice, or calling it after a failed Setup,
// releases only what was actually acquired.
func (e *IsolatedEnvironment) Cleanup(ctx context.Context) error {
	if e.poller != nil {
		e.poller.Stop()
		e.poller = nil
	}
	if !e.provisioned {
		return nil
	}
	e.provisioned = false
	if err := e.provisioner.Teardown(ctx, e.cfg.SessionID); err != nil {
		return rlmerrors.Sandbox("tearing down remote sandbox", err)
	}
	return nil
}

func (e *IsolatedEnvironment) postDriver(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tunnelURL+path, bytes.NewReader(body))
	if err != nil {
		return rlmerrors.Sandbox("building driver request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return rlmerrors.Transport("calling sandbox driver", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rlmerrors.Sandbox(fmt.Sprintf("sandbox driver returned status %d", resp.StatusCode), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return rlmerrors.Sandbox("decoding driver response", err)
	}
	return nil
}
