package broker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

func TestBroker_EnqueuePendingRespondRoundTrip(t *testing.T) {
	b := New(Config{EnqueueTimeout: time.Second, ReapInterval: time.Hour}, zap.NewNop())

	req := rlmtype.LMRequest{RequestID: "r1", SessionID: "s1"}
	respCh := make(chan rlmtype.LMResponse, 1)
	go func() { respCh <- b.Enqueue(context.Background(), req) }()

	// give Enqueue a moment to register before polling
	time.Sleep(10 * time.Millisecond)

	pending := b.Pending()
	if len(pending) != 1 || pending[0].RequestID != "r1" {
		t.Fatalf("expected r1 in pending, got %+v", pending)
	}

	if ok := b.Respond("r1", rlmtype.LMResponse{RequestID: "r1", Content: "hi"}); !ok {
		t.Fatal("expected Respond to find the pending record")
	}

	resp := <-respCh
	if resp.Content != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// the record is removed once Enqueue returns; a second Pending call
	// must not return it again.
	if more := b.Pending(); len(more) != 0 {
		t.Fatalf("expected no further pending records, got %+v", more)
	}
}

func TestBroker_PendingDoesNotReturnAlreadyClaimedRecord(t *testing.T) {
	b := New(Config{EnqueueTimeout: time.Second, ReapInterval: time.Hour}, zap.NewNop())

	req := rlmtype.LMRequest{RequestID: "r2"}
	go b.Enqueue(context.Background(), req)
	time.Sleep(10 * time.Millisecond)

	first := b.Pending()
	second := b.Pending()
	if len(first) != 1 {
		t.Fatalf("expected first poll to claim the record, got %+v", first)
	}
	if len(second) != 0 {
		t.Fatalf("expected second poll to return nothing, got %+v", second)
	}
}

func TestBroker_RespondReenqueuesOnceAfterForwardingFailure(t *testing.T) {
	b := New(Config{EnqueueTimeout: time.Second, ReapInterval: time.Hour}, zap.NewNop())

	req := rlmtype.LMRequest{RequestID: "r3"}
	respCh := make(chan rlmtype.LMResponse, 1)
	go func() { respCh <- b.Enqueue(context.Background(), req) }()
	time.Sleep(10 * time.Millisecond)

	b.Pending() // first claim

	// first failure: re-enqueued, not yet resolved
	ok := b.Respond("r3", rlmtype.LMResponse{RequestID: "r3", Error: "forward failed"})
	if !ok {
		t.Fatal("expected Respond to find the record")
	}
	select {
	case resp := <-respCh:
		t.Fatalf("expected the waiter to still be blocked after first failure, got %+v", resp)
	case <-time.After(20 * time.Millisecond):
	}

	reclaimed := b.Pending()
	if len(reclaimed) != 1 || reclaimed[0].RequestID != "r3" {
		t.Fatalf("expected r3 to be reclaimable after reenqueue, got %+v", reclaimed)
	}

	// second failure: resolves with the error
	b.Respond("r3", rlmtype.LMResponse{RequestID: "r3", Error: "forward failed again"})
	resp := <-respCh
	if !resp.Failed() {
		t.Fatalf("expected a failed response after the second failure, got %+v", resp)
	}
}

func TestBroker_EnqueueTimesOutWithSyntheticError(t *testing.T) {
	b := New(Config{EnqueueTimeout: 20 * time.Millisecond, ReapInterval: time.Hour}, zap.NewNop())

	resp := b.Enqueue(context.Background(), rlmtype.LMRequest{RequestID: "r4"})
	if resp.Error != "timeout" {
		t.Fatalf("expected a synthetic timeout error, got %+v", resp)
	}
}

func TestBroker_RespondReturnsFalseForUnknownRequest(t *testing.T) {
	b := New(DefaultConfig(), zap.NewNop())
	if ok := b.Respond("does-not-exist", rlmtype.LMResponse{}); ok {
		t.Fatal("expected Respond to report false for an unknown request id")
	}
}
