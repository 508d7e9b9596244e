package poller

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
	"github.com/recursivelm/rlm/internal/wire"
)

// fakeHandler listens on a real TCP socket and answers every LMRequest
// frame with a canned LMResponse, mirroring the wire shape of the real
// LM Handler (C3) closely enough to exercise Poller.forward.
func startFakeHandler(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var req rlmtype.LMRequest
				if err := wire.ReadFrame(conn, &req, 0); err != nil {
					return
				}
				wire.WriteFrame(conn, rlmtype.LMResponse{RequestID: req.RequestID, Content: "handled:" + req.RequestID})
			}()
		}
	}()
	return ln
}

func TestPoller_PollsForwardsAndRespondsRoundTrip(t *testing.T) {
	handlerLn := startFakeHandler(t)
	defer handlerLn.Close()

	var mu sync.Mutex
	served := false
	var respondedBody map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/pending", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if served {
			json.NewEncoder(w).Encode([]rlmtype.LMRequest{})
			return
		}
		served = true
		json.NewEncoder(w).Encode([]rlmtype.LMRequest{{RequestID: "req-1", SessionID: "s1"}})
	})
	mux.HandleFunc("/respond", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&respondedBody)
		w.WriteHeader(http.StatusOK)
	})
	broker := httptest.NewServer(mux)
	defer broker.Close()

	cfg := Config{
		TunnelURL:    broker.URL,
		HandlerAddr:  handlerLn.Addr().String(),
		PollInterval: 5 * time.Millisecond,
	}
	p := New(cfg, zap.NewNop())

	unhealthy := make(chan struct{})
	p.OnUnhealthy = func() { close(unhealthy) }

	done := make(chan struct{})
	go func() { p.Run(context.Background()); close(done) }()
	defer p.Stop()

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		got := respondedBody
		mu.Unlock()
		if got != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for poller to forward and respond")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if respondedBody["request_id"] != "req-1" {
		t.Fatalf("unexpected respond body: %+v", respondedBody)
	}
	resp, ok := respondedBody["response"].(map[string]any)
	if !ok || resp["content"] != "handled:req-1" {
		t.Fatalf("unexpected forwarded response: %+v", respondedBody)
	}
}

func TestPoller_MarksUnhealthyAfterConsecutivePendingFailures(t *testing.T) {
	broker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer broker.Close()

	cfg := Config{
		TunnelURL:      broker.URL,
		HandlerAddr:    "127.0.0.1:0",
		PollInterval:   2 * time.Millisecond,
		UnhealthyAfter: 2,
	}
	p := New(cfg, zap.NewNop())

	unhealthy := make(chan struct{})
	p.OnUnhealthy = func() { close(unhealthy) }

	go p.Run(context.Background())
	defer p.Stop()

	select {
	case <-unhealthy:
	case <-time.After(time.Second):
		t.Fatal("expected OnUnhealthy to fire after repeated /pending failures")
	}
}
