// Package llmcap implements C2, the LM capability: a uniform
// completion/usage-accounting surface over any of several polymorphic
// backend variants, with retry, backoff, and circuit-breaking shared
// across all of them.
package llmcap

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
	rlmerrors "github.com/recursivelm/rlm/pkg/errors"
)

// Config controls the retry contract (§4.2).
type Config struct {
	MaxRetries      int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		BaseBackoff:      500 * time.Millisecond,
		MaxBackoff:       20 * time.Second,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// usageCounters holds the atomic accumulators backing UsageSummary;
// §5 requires usage counters to use atomic increments, not locks.
type usageCounters struct {
	calls        int64
	inputTokens  int64
	outputTokens int64
	cacheRead    int64
	cacheWrite   int64
}

func (c *usageCounters) add(u rlmtype.Usage) {
	atomic.AddInt64(&c.calls, 1)
	atomic.AddInt64(&c.inputTokens, int64(u.InputTokens))
	atomic.AddInt64(&c.outputTokens, int64(u.OutputTokens))
	atomic.AddInt64(&c.cacheRead, int64(u.CacheRead))
	atomic.AddInt64(&c.cacheWrite, int64(u.CacheWrite))
}

func (c *usageCounters) snapshot() rlmtype.UsageSummary {
	return rlmtype.UsageSummary{
		Calls:        atomic.LoadInt64(&c.calls),
		InputTokens:  atomic.LoadInt64(&c.inputTokens),
		OutputTokens: atomic.LoadInt64(&c.outputTokens),
		CacheRead:    atomic.LoadInt64(&c.cacheRead),
		CacheWrite:   atomic.LoadInt64(&c.cacheWrite),
	}
}

// Capability is the C2 entry point: a backend registry plus retry,
// circuit-breaking, and usage accounting shared by every backend.
type Capability struct {
	cfg      Config
	logger   *zap.Logger
	backends map[string]Backend
	breakers map[string]*CircuitBreaker

	total      usageCounters
	perDepthMu sync.RWMutex
	perDepth   map[int]*usageCounters
}

func NewCapability(cfg Config, logger *zap.Logger) *Capability {
	return &Capability{
		cfg:      cfg,
		logger:   logger,
		backends: map[string]Backend{},
		breakers: map[string]*CircuitBreaker{},
		perDepth: map[int]*usageCounters{},
	}
}

func (c *Capability) AddBackend(b Backend) {
	c.backends[b.Name()] = b
	c.breakers[b.Name()] = NewCircuitBreaker(c.cfg.FailureThreshold, c.cfg.RecoveryTimeout)
}

// depthCounters returns the usageCounters for one depth, creating it on
// first use. perDepth is read and written concurrently by every
// per-connection goroutine serving the LM Handler (C3), so access is
// guarded by perDepthMu the same way CircuitBreaker guards its state.
func (c *Capability) depthCounters(depth int) *usageCounters {
	c.perDepthMu.RLock()
	existing, ok := c.perDepth[depth]
	c.perDepthMu.RUnlock()
	if ok {
		return existing
	}

	c.perDepthMu.Lock()
	defer c.perDepthMu.Unlock()
	if existing, ok := c.perDepth[depth]; ok {
		return existing
	}
	counters := &usageCounters{}
	c.perDepth[depth] = counters
	return counters
}

// Completion performs one synchronous completion against the named
// backend (or, if backendName is empty, any registered backend that
// supports req.Model — which one is picked when several do is not
// defined, and IsAvailable is not consulted), retrying transient
// errors per the contract in §4.2.
func (c *Capability) Completion(ctx context.Context, backendName string, req rlmtype.LMRequest) (string, rlmtype.Usage, error) {
	backend, breaker, err := c.resolve(backendName, req.Model)
	if err != nil {
		return "", rlmtype.Usage{}, err
	}

	if !breaker.Allow() {
		return "", rlmtype.Usage{}, rlmerrors.Transport("circuit open for backend "+backend.Name(), nil)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt, lastErr)
			c.logger.Info("retrying LM call",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", rlmtype.Usage{}, rlmerrors.Cancelled("context cancelled during backoff")
			}
		}

		text, usage, _, callErr := backend.Complete(ctx, req)
		if callErr == nil {
			breaker.RecordSuccess()
			c.recordUsage(req.Depth, usage)
			return text, usage, nil
		}

		classified := Classify(callErr, backend.Name(), req.Model)
		lastErr = classified
		breaker.RecordFailure()

		if !classified.Retryable() {
			return "", rlmtype.Usage{}, classified
		}
	}

	return "", rlmtype.Usage{}, rlmerrors.Wrap(rlmerrors.KindTransport,
		"LM call failed after retries exhausted", lastErr)
}

// AsyncCompletion is the concurrent-safe variant (§4.2's acompletion):
// Completion is already safe to call from multiple goroutines, so this
// just documents that contract and exists for symmetry with the spec.
func (c *Capability) AsyncCompletion(ctx context.Context, backendName string, req rlmtype.LMRequest) (string, rlmtype.Usage, error) {
	return c.Completion(ctx, backendName, req)
}

// GetUsageSummary returns the total usage accumulated so far.
func (c *Capability) GetUsageSummary() rlmtype.UsageSummary {
	return c.total.snapshot()
}

// GetUsageSummaryForDepth returns usage accumulated at one depth.
func (c *Capability) GetUsageSummaryForDepth(depth int) rlmtype.UsageSummary {
	c.perDepthMu.RLock()
	counters, ok := c.perDepth[depth]
	c.perDepthMu.RUnlock()
	if ok {
		return counters.snapshot()
	}
	return rlmtype.UsageSummary{}
}

func (c *Capability) recordUsage(depth int, usage rlmtype.Usage) {
	c.total.add(usage)
	c.depthCounters(depth).add(usage)
}

func (c *Capability) resolve(backendName, model string) (Backend, *CircuitBreaker, error) {
	if backendName != "" {
		backend, ok := c.backends[backendName]
		if !ok {
			return nil, nil, rlmerrors.New(rlmerrors.KindAuth, "unknown backend "+backendName)
		}
		return backend, c.breakers[backendName], nil
	}

	for name, backend := range c.backends {
		if model == "" || backend.SupportsModel(model) {
			return backend, c.breakers[name], nil
		}
	}
	return nil, nil, rlmerrors.New(rlmerrors.KindAuth, "no backend supports model "+model)
}

// backoff computes the exponential jittered wait for one retry
// attempt, honoring a RateLimited error's Retry-After hint when
// present.
func (c *Capability) backoff(attempt int, lastErr error) time.Duration {
	var appErr *rlmerrors.AppError
	if ae, ok := lastErr.(*rlmerrors.AppError); ok {
		appErr = ae
	}
	if appErr != nil && appErr.Kind == rlmerrors.KindRateLimited && appErr.RetryAfter > 0 {
		return time.Duration(appErr.RetryAfter * float64(time.Second))
	}

	base := c.cfg.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if base > c.cfg.MaxBackoff {
		base = c.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base/2 + jitter
}
