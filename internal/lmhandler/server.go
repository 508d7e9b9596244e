// Package lmhandler implements C3, the LM Handler: a concurrent TCP
// server that accepts exactly one framed LM request per connection,
// dispatches it to the LM capability (C2) using depth-keyed routing,
// and writes back exactly one framed LM response.
package lmhandler

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/dispatcher"
	"github.com/recursivelm/rlm/internal/llmcap"
	"github.com/recursivelm/rlm/internal/rlmtype"
	"github.com/recursivelm/rlm/internal/wire"
	"github.com/recursivelm/rlm/pkg/safego"
	rlmerrors "github.com/recursivelm/rlm/pkg/errors"
)

// connState is the per-connection state machine named in §4.3.
type connState int

const (
	stateAccepted connState = iota
	stateReading
	stateDispatched
	stateResponded
	stateClosed
)

// Config controls C3's own policy; backend retry/backoff lives in
// llmcap.Config.
type Config struct {
	ListenAddr     string
	MaxDepth       int
	CapabilityCap  int           // default 64 concurrent LM calls
	MaxFrameSize   uint32        // 0 = wire.DefaultMaxFrameSize (64 MiB)
	DrainGrace     time.Duration // grace period for Stop's drain
	DefaultBackend string
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":9090",
		MaxDepth:      2,
		CapabilityCap: 64,
		DrainGrace:    10 * time.Second,
	}
}

// Handler is C3. One Handler owns one capability cap and one depth
// router; it may serve many concurrent sessions.
type Handler struct {
	cfg        Config
	capability *llmcap.Capability
	router     *DepthRouter
	logger     *zap.Logger

	listener net.Listener
	sem      chan struct{}

	activeMu sync.Mutex
	active   map[net.Conn]struct{}

	wg sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewHandler(cfg Config, capability *llmcap.Capability, router *DepthRouter, logger *zap.Logger) *Handler {
	if cfg.CapabilityCap <= 0 {
		cfg.CapabilityCap = 64
	}
	return &Handler{
		cfg:        cfg,
		capability: capability,
		router:     router,
		logger:     logger,
		sem:        make(chan struct{}, cfg.CapabilityCap),
		active:     make(map[net.Conn]struct{}),
		stopCh:     make(chan struct{}),
	}
}

// ListenAndServe binds the listener and accepts connections until
// Stop is called or the listener errors.
func (h *Handler) ListenAndServe() error {
	listener, err := net.Listen("tcp", h.cfg.ListenAddr)
	if err != nil {
		return rlmerrors.Transport("bind LM Handler listener", err)
	}
	h.listener = listener
	h.logger.Info("LM Handler listening", zap.String("addr", h.cfg.ListenAddr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-h.stopCh:
				return nil
			default:
				return rlmerrors.Transport("accept connection", err)
			}
		}

		h.trackConn(conn)
		h.wg.Add(1)
		safego.Go(h.logger, "lmhandler-conn", func() {
			defer h.wg.Done()
			defer h.untrackConn(conn)
			h.serveConn(conn)
		})
	}
}

func (h *Handler) trackConn(conn net.Conn) {
	h.activeMu.Lock()
	defer h.activeMu.Unlock()
	h.active[conn] = struct{}{}
}

func (h *Handler) untrackConn(conn net.Conn) {
	h.activeMu.Lock()
	defer h.activeMu.Unlock()
	delete(h.active, conn)
}

// ActiveConnections reports the current accepted-but-not-closed
// connection count, for the introspection endpoint.
func (h *Handler) ActiveConnections() int {
	h.activeMu.Lock()
	defer h.activeMu.Unlock()
	return len(h.active)
}

// CapabilityUtilization reports how many of the capability cap's slots
// are currently in use.
func (h *Handler) CapabilityUtilization() (inUse, cap int) {
	return len(h.sem), cap(h.sem)
}

// serveConn mediates exactly one recursive llm_query (or
// llm_query_batched) call per connection. Every request reaching this
// method is a sub-call issued from inside a session's executing code —
// the outer/root LM turn is made in-process by the REPL loop (C7) and
// never crosses this wire — so req.Depth is always the depth of the
// code that is calling, and dispatcher.BuildRequest is what canonically
// derives the depth it executes at, per §4.8.
func (h *Handler) serveConn(conn net.Conn) {
	defer conn.Close()
	state := stateAccepted
	defer func() { h.logConnState(state) }()

	state = stateReading
	var req rlmtype.LMRequest
	if err := wire.ReadFrame(conn, &req, h.cfg.MaxFrameSize); err != nil {
		h.logger.Warn("protocol error reading LM request, dropping connection", zap.Error(err))
		state = stateClosed
		return
	}

	root := dispatcher.SessionRoot{
		SessionID:          req.SessionID,
		Depth:              req.Depth,
		DefaultTemperature: req.DefaultTemperature,
	}
	model := req.Model
	if model == "" {
		model = h.router.ModelFor(root.Depth + 1)
	}

	if len(req.Prompts) > 0 {
		state = h.serveBatch(conn, req, root, model)
		return
	}

	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}
	built := dispatcher.BuildRequest(root, req.RequestID, prompt, model, req.Temperature)

	if built.Depth > h.cfg.MaxDepth {
		resp := rlmtype.LMResponse{RequestID: built.RequestID, Depth: built.Depth, Error: string(rlmerrors.KindDepthExceeded)}
		_ = wire.WriteFrame(conn, resp)
		state = stateResponded
		return
	}

	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	case <-h.stopCh:
		resp := rlmtype.LMResponse{RequestID: built.RequestID, Depth: built.Depth, Error: string(rlmerrors.KindCancelled)}
		_ = wire.WriteFrame(conn, resp)
		state = stateResponded
		return
	}

	state = stateDispatched
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	text, usage, err := h.capability.Completion(ctx, h.cfg.DefaultBackend, built)

	var resp rlmtype.LMResponse
	if err != nil {
		resp = rlmtype.LMResponse{RequestID: built.RequestID, Depth: built.Depth, Error: string(rlmerrors.Of(err))}
	} else {
		resp = rlmtype.LMResponse{RequestID: built.RequestID, Depth: built.Depth, Content: text, Usage: usage, StopReason: "stop"}
	}

	if err := wire.WriteFrame(conn, resp); err != nil {
		h.logger.Warn("failed writing LM response", zap.Error(err))
		return
	}
	state = stateResponded
}

// serveBatch mediates one llm_query_batched call: every prompt is
// dispatched through the same BuildRequest/capability-cap path a
// single call takes, fanned out by dispatcher.BatchDispatch so the
// sandbox only has to open one connection instead of one per prompt.
func (h *Handler) serveBatch(conn net.Conn, req rlmtype.LMRequest, root dispatcher.SessionRoot, model string) connState {
	n := 0
	newRequestID := func() string {
		n++
		return fmt.Sprintf("%s-%d", req.RequestID, n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	caller := callerFunc(func(ctx context.Context, built rlmtype.LMRequest) (rlmtype.LMResponse, error) {
		if built.Depth > h.cfg.MaxDepth {
			return rlmtype.LMResponse{}, rlmerrors.New(rlmerrors.KindDepthExceeded, "max recursion depth exceeded")
		}
		select {
		case h.sem <- struct{}{}:
			defer func() { <-h.sem }()
		case <-h.stopCh:
			return rlmtype.LMResponse{}, rlmerrors.Cancelled("handler stopping")
		}
		text, usage, err := h.capability.Completion(ctx, h.cfg.DefaultBackend, built)
		if err != nil {
			return rlmtype.LMResponse{}, err
		}
		return rlmtype.LMResponse{RequestID: built.RequestID, Depth: built.Depth, Content: text, Usage: usage, StopReason: "stop"}, nil
	})

	responses := dispatcher.BatchDispatch(ctx, caller, root, newRequestID, req.Prompts, model, req.Temperature, req.MaxConcurrency)

	resp := rlmtype.LMResponse{RequestID: req.RequestID, Responses: responses}
	if err := wire.WriteFrame(conn, resp); err != nil {
		h.logger.Warn("failed writing batched LM response", zap.Error(err))
		return stateClosed
	}
	return stateResponded
}

// callerFunc adapts a plain function to dispatcher.Caller.
type callerFunc func(ctx context.Context, req rlmtype.LMRequest) (rlmtype.LMResponse, error)

func (f callerFunc) Call(ctx context.Context, req rlmtype.LMRequest) (rlmtype.LMResponse, error) {
	return f(ctx, req)
}

func (h *Handler) logConnState(state connState) {
	if state != stateResponded {
		h.logger.Debug("connection closed without a response", zap.Int("state", int(state)))
	}
}

// Stop closes the listener and waits up to DrainGrace for in-flight
// workers to finish. If the grace period elapses first, it closes
// every connection still tracked and returns without waiting further.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.listener != nil {
			_ = h.listener.Close()
		}

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(h.cfg.DrainGrace):
			h.logger.Warn("LM Handler drain grace period elapsed, forcing close of remaining connections")
			h.activeMu.Lock()
			for conn := range h.active {
				_ = conn.Close()
			}
			h.activeMu.Unlock()
		}
	})
}
