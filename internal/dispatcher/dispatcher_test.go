package dispatcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

func TestBuildRequest_IncrementsDepthAndInheritsSession(t *testing.T) {
	root := SessionRoot{SessionID: "s1", Depth: 1}
	req := BuildRequest(root, "req-1", "hello", "model-x", nil)

	if req.Depth != 2 {
		t.Fatalf("expected depth 2, got %d", req.Depth)
	}
	if req.SessionID != "s1" {
		t.Fatalf("expected inherited session id, got %q", req.SessionID)
	}
	if req.Messages[0].Content != "hello" {
		t.Fatalf("unexpected message content: %+v", req.Messages)
	}
}

func TestBuildRequest_TemperatureFallsBackToRootDefault(t *testing.T) {
	defaultTemp := 0.7
	root := SessionRoot{SessionID: "s1", DefaultTemperature: &defaultTemp}

	req := BuildRequest(root, "req-1", "hello", "model-x", nil)
	if req.Temperature == nil || *req.Temperature != 0.7 {
		t.Fatalf("expected inherited default temperature, got %v", req.Temperature)
	}
}

func TestBuildRequest_ExplicitTemperatureOverridesRootDefault(t *testing.T) {
	defaultTemp := 0.7
	override := 0.1
	root := SessionRoot{SessionID: "s1", DefaultTemperature: &defaultTemp}

	req := BuildRequest(root, "req-1", "hello", "model-x", &override)
	if req.Temperature == nil || *req.Temperature != 0.1 {
		t.Fatalf("expected explicit override temperature, got %v", req.Temperature)
	}
}

// fakeCaller echoes back the prompt it was asked to complete, failing
// any prompt containing "boom" to exercise the per-item error path.
type fakeCaller struct{}

func (fakeCaller) Call(ctx context.Context, req rlmtype.LMRequest) (rlmtype.LMResponse, error) {
	prompt := req.Messages[0].Content
	if prompt == "boom" {
		return rlmtype.LMResponse{}, fmt.Errorf("simulated failure for %q", prompt)
	}
	return rlmtype.LMResponse{RequestID: req.RequestID, Content: "echo:" + prompt}, nil
}

func TestBatchDispatch_PreservesOrderAndIsolatesPerItemErrors(t *testing.T) {
	prompts := []string{"a", "boom", "c"}
	n := 0
	newID := func() string { n++; return fmt.Sprintf("req-%d", n) }

	results := BatchDispatch(context.Background(), fakeCaller{}, SessionRoot{SessionID: "s1"}, newID, prompts, "model-x", nil, 2)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Content != "echo:a" || results[2].Content != "echo:c" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if !results[1].Failed() {
		t.Fatalf("expected the boom prompt to fail, got %+v", results[1])
	}
}
