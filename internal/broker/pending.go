// Package broker implements C4, the sandbox broker: an HTTP request
// queue with a blocking response rendezvous, run inside an isolated
// sandbox. Its pending-record map and one-shot notifier are grounded
// on the waiter-map/reaper idiom of a TCP broker in the example pool,
// adapted from a worker-pool-over-TCP shape to HTTP's request/response
// shape.
package broker

import (
	"sync"
	"time"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// pendingRecord is the broker pending-record named in §3: from
// enqueue receipt to respond delivery, then removed.
type pendingRecord struct {
	requestID string
	payload   rlmtype.LMRequest
	createdAt time.Time

	mu       sync.Mutex
	claimed  bool
	retried  bool
	response *rlmtype.LMResponse

	done     chan struct{}
	doneOnce sync.Once
}

func newPendingRecord(req rlmtype.LMRequest) *pendingRecord {
	return &pendingRecord{
		requestID: req.RequestID,
		payload:   req,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// resolve stores resp and wakes the waiter exactly once — property 3
// in §8 (at-most-one-response per request) depends on doneOnce.
func (p *pendingRecord) resolve(resp rlmtype.LMResponse) {
	p.mu.Lock()
	p.response = &resp
	p.mu.Unlock()

	p.doneOnce.Do(func() { close(p.done) })
}

// pendingSet is the mutex-guarded pending map plus FIFO order tracking
// that backs /pending's arrival-order contract.
type pendingSet struct {
	mu      sync.Mutex
	records map[string]*pendingRecord
	order   []string
}

func newPendingSet() *pendingSet {
	return &pendingSet{records: make(map[string]*pendingRecord)}
}

func (s *pendingSet) add(rec *pendingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.requestID] = rec
	s.order = append(s.order, rec.requestID)
}

func (s *pendingSet) get(requestID string) (*pendingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[requestID]
	return rec, ok
}

func (s *pendingSet) remove(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, requestID)
	for i, id := range s.order {
		if id == requestID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// drainUnclaimed atomically marks every unclaimed record as claimed
// and returns their payloads in FIFO arrival order — this is what
// makes /pending idempotent under poller restart: a record already
// marked claimed is never returned twice.
func (s *pendingSet) drainUnclaimed() []rlmtype.LMRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []rlmtype.LMRequest
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		rec.mu.Lock()
		alreadyClaimed := rec.claimed
		rec.claimed = true
		rec.mu.Unlock()

		if !alreadyClaimed {
			out = append(out, rec.payload)
		}
	}
	return out
}

// reenqueue marks a claimed record unclaimed again so it is returned
// by the next /pending drain — used once, when /respond reports a
// forwarding failure for a record that hasn't been retried yet.
func (rec *pendingRecord) reenqueue() (ok bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.retried {
		return false
	}
	rec.retried = true
	rec.claimed = false
	return true
}

func (s *pendingSet) snapshotStale(olderThan time.Duration) []*pendingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var stale []*pendingRecord
	for _, rec := range s.records {
		if rec.createdAt.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	return stale
}
