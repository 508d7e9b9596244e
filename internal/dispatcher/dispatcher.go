// Package dispatcher implements C8: the contract a recursive llm_query
// call must satisfy, regardless of which transport carries it. The
// sandbox-side code (the Python shim installed by internal/environment)
// is the one that actually issues these calls; this package is the
// transport-independent logic behind it — depth tagging, temperature
// inheritance, and bounded-fan-out ordering — kept in Go so it can be
// unit tested without a Python interpreter, and so both environment
// variants build requests the same way.
package dispatcher

import (
	"context"
	"sync"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// DefaultBatchConcurrency is the bounded fan-out for llm_query_batched
// named in §4.8.
const DefaultBatchConcurrency = 8

// SessionRoot carries the fields a sub-call inherits from its owning
// session unless the caller overrides them.
type SessionRoot struct {
	SessionID          string
	Depth              int // depth of the caller issuing this llm_query
	DefaultTemperature *float64
}

// BuildRequest constructs the LMRequest for one llm_query call: depth
// is always current+1, session_id is always inherited, and temperature
// falls back to the session root's default unless the caller passed
// one explicitly — per §4.8.
func BuildRequest(root SessionRoot, requestID, prompt, model string, temperature *float64) rlmtype.LMRequest {
	temp := temperature
	if temp == nil {
		temp = root.DefaultTemperature
	}
	return rlmtype.LMRequest{
		Messages:    []rlmtype.Message{{Role: "user", Content: prompt}},
		Model:       model,
		Temperature: temp,
		Depth:       root.Depth + 1,
		SessionID:   root.SessionID,
		RequestID:   requestID,
	}
}

// Caller is whatever can service one LMRequest — a direct TCP round
// trip to the LM Handler (non-isolated) or an HTTP POST to the local
// broker's /enqueue (isolated). Both environment variants' generated
// sandbox code implements the equivalent of this interface in Python;
// it exists in Go so BatchDispatch is transport-agnostic and testable
// with a fake.
type Caller interface {
	Call(ctx context.Context, req rlmtype.LMRequest) (rlmtype.LMResponse, error)
}

// BatchDispatch issues one request per prompt concurrently, bounded by
// maxConcurrency, and returns responses in the same order as prompts —
// per-item errors become a failed LMResponse rather than aborting the
// batch, matching §4.8's "per-item errors as sentinels" contract.
func BatchDispatch(ctx context.Context, caller Caller, root SessionRoot, newRequestID func() string, prompts []string, model string, temperature *float64, maxConcurrency int) []rlmtype.LMResponse {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultBatchConcurrency
	}

	results := make([]rlmtype.LMResponse, len(prompts))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, prompt := range prompts {
		i, prompt := i, prompt
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			req := BuildRequest(root, newRequestID(), prompt, model, temperature)
			resp, err := caller.Call(ctx, req)
			if err != nil {
				resp = rlmtype.LMResponse{RequestID: req.RequestID, Error: err.Error()}
			}
			results[i] = resp
		}()
	}

	wg.Wait()
	return results
}
