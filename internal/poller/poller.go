// Package poller implements C5, the host poller: a background task
// that bridges one remote sandbox's broker (C4) to the local LM
// Handler (C3) over TCP, the way the teacher bridges a streaming gRPC
// backend to local channels in its AI client, adapted here from a
// push/stream shape to a pull/poll one.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
	"github.com/recursivelm/rlm/internal/wire"
	"github.com/recursivelm/rlm/pkg/safego"
)

// Config controls one poller instance (one per active remote session).
type Config struct {
	TunnelURL         string
	HandlerAddr       string // TCP address of the local LM Handler
	PollInterval      time.Duration
	Concurrency       int
	UnhealthyAfter    int // consecutive /pending failures before marking unhealthy
	HTTPTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   100 * time.Millisecond,
		Concurrency:    16,
		UnhealthyAfter: 3,
		HTTPTimeout:    10 * time.Second,
	}
}

// Poller drains one remote broker's /pending queue, forwards each
// request to the local LM Handler, and posts results back to
// /respond.
type Poller struct {
	cfg        Config
	logger     *zap.Logger
	httpClient *http.Client
	sem        chan struct{}

	cancel context.CancelFunc

	// OnUnhealthy, if set, is invoked exactly once when the poller
	// gives up after UnhealthyAfter consecutive /pending failures.
	// IsolatedEnvironment uses it to make every later ExecuteCode call
	// fail with a sandbox error; the REPL loop (C7) is not cancelled
	// by it and keeps iterating until one of its own stop conditions.
	OnUnhealthy func()
}

func New(cfg Config, logger *zap.Logger) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = 3
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Poller{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		sem:        make(chan struct{}, cfg.Concurrency),
	}
}

// Run polls until ctx is cancelled, Stop is called, or the poller
// becomes unhealthy. The Environment that owns this poller runs it on
// its own goroutine.
func (p *Poller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requests, err := p.fetchPending(ctx)
			if err != nil {
				consecutiveFailures++
				p.logger.Warn("poll /pending failed",
					zap.Error(err), zap.Int("consecutive_failures", consecutiveFailures))
				if consecutiveFailures >= p.cfg.UnhealthyAfter {
					p.logger.Error("poller unhealthy, stopping", zap.Int("failures", consecutiveFailures))
					if p.OnUnhealthy != nil {
						p.OnUnhealthy()
					}
					return
				}
				continue
			}
			consecutiveFailures = 0

			for _, req := range requests {
				req := req
				safego.Go(p.logger, "poller-forward", func() {
					p.sem <- struct{}{}
					defer func() { <-p.sem }()
					p.forwardAndRespond(ctx, req)
				})
			}
		}
	}
}

func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Poller) fetchPending(ctx context.Context) ([]rlmtype.LMRequest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.TunnelURL+"/pending", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected /pending status %d", resp.StatusCode)
	}

	var requests []rlmtype.LMRequest
	if err := json.NewDecoder(resp.Body).Decode(&requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// forwardAndRespond forwards one request to the local LM Handler over
// TCP and posts the result to /respond. A forwarding error is posted
// as an LMResponse.Error — it is never re-issued to the backend (§4.5).
func (p *Poller) forwardAndRespond(ctx context.Context, req rlmtype.LMRequest) {
	resp, err := p.forward(ctx, req)
	if err != nil {
		p.logger.Warn("forwarding request to LM Handler failed",
			zap.String("request_id", req.RequestID), zap.Error(err))
		resp = rlmtype.LMResponse{RequestID: req.RequestID, Error: "transport_error"}
	}

	if err := p.postResponse(ctx, req.RequestID, resp); err != nil {
		p.logger.Error("posting /respond failed", zap.String("request_id", req.RequestID), zap.Error(err))
	}
}

func (p *Poller) forward(ctx context.Context, req rlmtype.LMRequest) (rlmtype.LMResponse, error) {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.HandlerAddr)
	if err != nil {
		return rlmtype.LMResponse{}, err
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, req); err != nil {
		return rlmtype.LMResponse{}, err
	}

	var resp rlmtype.LMResponse
	if err := wire.ReadFrame(conn, &resp, 0); err != nil {
		return rlmtype.LMResponse{}, err
	}
	return resp, nil
}

func (p *Poller) postResponse(ctx context.Context, requestID string, resp rlmtype.LMResponse) error {
	body, err := json.Marshal(struct {
		RequestID string             `json:"request_id"`
		Response  rlmtype.LMResponse `json:"response"`
	}{RequestID: requestID, Response: resp})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TunnelURL+"/respond", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected /respond status %d", httpResp.StatusCode)
	}
	return nil
}
