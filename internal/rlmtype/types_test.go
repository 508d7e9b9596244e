package rlmtype

import "testing"

func TestUsage_AddAccumulates(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 5, CacheRead: 2}
	b := Usage{InputTokens: 3, OutputTokens: 1, CacheWrite: 4}
	sum := a.Add(b)

	if sum.InputTokens != 13 || sum.OutputTokens != 6 || sum.CacheRead != 2 || sum.CacheWrite != 4 {
		t.Fatalf("unexpected sum: %+v", sum)
	}
	if sum.TotalTokens() != 19 {
		t.Fatalf("unexpected total: %d", sum.TotalTokens())
	}
}

func TestLMResponse_Failed(t *testing.T) {
	if (LMResponse{}).Failed() {
		t.Fatal("empty response should not be failed")
	}
	if !(LMResponse{Error: "boom"}).Failed() {
		t.Fatal("response with an error string should be failed")
	}
}

func TestSessionState_Aggregates(t *testing.T) {
	s := NewSessionState("sess-1", Budget{MaxIterations: 5})
	s.Iterations = append(s.Iterations,
		Iteration{
			CodeBlocks: []string{"a", "b"},
			SubLMCalls: []SubCallRecord{{Depth: 0}},
			Failed:     false,
		},
		Iteration{
			CodeBlocks: []string{"c"},
			SubLMCalls: []SubCallRecord{{Depth: 1}, {Depth: 1}},
			Failed:     true,
		},
	)

	if got := s.TotalCodeBlocks(); got != 3 {
		t.Fatalf("TotalCodeBlocks() = %d, want 3", got)
	}
	if got := s.TotalSubLMCalls(); got != 3 {
		t.Fatalf("TotalSubLMCalls() = %d, want 3", got)
	}
	if !s.HasErrors() {
		t.Fatal("HasErrors() should be true, one iteration failed")
	}
}

func TestSessionState_HasErrorsFalseWhenNoneFailed(t *testing.T) {
	s := NewSessionState("sess-2", Budget{})
	s.Iterations = append(s.Iterations, Iteration{Failed: false})
	if s.HasErrors() {
		t.Fatal("HasErrors() should be false")
	}
}
