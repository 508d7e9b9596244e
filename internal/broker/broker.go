package broker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
	"github.com/recursivelm/rlm/pkg/safego"
)

// Config controls the broker's timeouts and reaper cadence.
type Config struct {
	EnqueueTimeout time.Duration // default 600s
	ReapInterval   time.Duration // default 30s
}

func DefaultConfig() Config {
	return Config{
		EnqueueTimeout: 600 * time.Second,
		ReapInterval:   30 * time.Second,
	}
}

// Broker is C4. It runs inside the isolated sandbox and mediates
// between in-sandbox llm_query callers (via Enqueue) and the host
// poller (via Pending/Respond).
type Broker struct {
	cfg     Config
	pending *pendingSet
	logger  *zap.Logger

	stopCh chan struct{}
}

func New(cfg Config, logger *zap.Logger) *Broker {
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 600 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	b := &Broker{
		cfg:     cfg,
		pending: newPendingSet(),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	safego.Go(logger, "broker-reaper", b.reapLoop)
	return b
}

// Enqueue registers req as a pending record and blocks until a
// matching Respond call arrives or the enqueue timeout elapses,
// whichever comes first. It never returns an error: a timed-out or
// cancelled wait surfaces as a synthetic LMResponse.Error per §4.4.
func (b *Broker) Enqueue(ctx context.Context, req rlmtype.LMRequest) rlmtype.LMResponse {
	rec := newPendingRecord(req)
	b.pending.add(rec)
	defer b.pending.remove(req.RequestID)

	timer := time.NewTimer(b.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case <-rec.done:
		rec.mu.Lock()
		resp := *rec.response
		rec.mu.Unlock()
		return resp
	case <-timer.C:
		return rlmtype.LMResponse{RequestID: req.RequestID, Error: "timeout"}
	case <-ctx.Done():
		return rlmtype.LMResponse{RequestID: req.RequestID, Error: "cancelled"}
	case <-b.stopCh:
		return rlmtype.LMResponse{RequestID: req.RequestID, Error: "cancelled"}
	}
}

// Pending atomically drains and returns the requests that have not
// yet been claimed by a prior /pending call.
func (b *Broker) Pending() []rlmtype.LMRequest {
	return b.pending.drainUnclaimed()
}

// Respond matches resp to its pending record and wakes its waiter.
// ok is false if no such pending record exists (the caller should
// answer the HTTP request with 404).
//
// If resp carries an Error (the poller failed to forward the request)
// and the record has not yet been retried, the record is re-enqueued
// once instead of being resolved — it will be returned again by the
// next Pending call. A second failure resolves the record with that
// error.
func (b *Broker) Respond(requestID string, resp rlmtype.LMResponse) (ok bool) {
	rec, found := b.pending.get(requestID)
	if !found {
		return false
	}

	if resp.Failed() {
		if rec.reenqueue() {
			return true
		}
	}

	rec.resolve(resp)
	return true
}

func (b *Broker) reapLoop() {
	ticker := time.NewTicker(b.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.reapStale()
		case <-b.stopCh:
			return
		}
	}
}

// reapStale force-resolves any record whose age exceeds the enqueue
// timeout but that was never claimed by Enqueue's own timer — a
// backstop for invariant 1 in §3, not the primary timeout path.
func (b *Broker) reapStale() {
	stale := b.pending.snapshotStale(b.cfg.EnqueueTimeout + 5*time.Second)
	for _, rec := range stale {
		rec.resolve(rlmtype.LMResponse{RequestID: rec.requestID, Error: "timeout"})
		b.logger.Debug("reaped stale pending record", zap.String("request_id", rec.requestID))
	}
}

// Cancel resolves every outstanding pending record with a synthetic
// cancellation response and stops the reaper — used when the REPL
// session owning this broker is cancelled (§5).
func (b *Broker) Cancel() {
	close(b.stopCh)
	stale := b.pending.snapshotStale(0)
	for _, rec := range stale {
		rec.resolve(rlmtype.LMResponse{RequestID: rec.requestID, Error: "cancelled"})
	}
}
