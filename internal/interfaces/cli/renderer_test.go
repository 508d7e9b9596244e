package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

func TestNewRenderer_FallsBackToDefaultWidth(t *testing.T) {
	r := NewRenderer(0)
	if r.width != 80 {
		t.Fatalf("expected default width 80, got %d", r.width)
	}
}

func TestRenderer_RenderCodeBlockIncludesIndexAndPreview(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderCodeBlock(0, "print('hello')\nmore lines", "|")
	if !strings.Contains(out, "block 1") {
		t.Fatalf("expected 1-indexed block label, got %q", out)
	}
	if !strings.Contains(out, "print('hello')") {
		t.Fatalf("expected code preview in output, got %q", out)
	}
}

func TestRenderer_RenderResultMarksFinalAnswer(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderResult(0, rlmtype.REPLResult{Success: true, HasFinal: true}, 2*time.Second)
	if !strings.Contains(out, "final answer bound") {
		t.Fatalf("expected final-answer marker in output, got %q", out)
	}
	if !strings.Contains(out, "2.0s") {
		t.Fatalf("expected formatted wall time in output, got %q", out)
	}
}

func TestRenderer_RenderResultShowsExceptionOnFailure(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderResult(1, rlmtype.REPLResult{Success: false, Exception: "boom: divide by zero"}, 0)
	if !strings.Contains(out, "boom: divide by zero") {
		t.Fatalf("expected exception text in output, got %q", out)
	}
}

func TestRenderer_RenderSubCallIncludesDepthAndUsage(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderSubCall(rlmtype.SubCallRecord{Depth: 2, Usage: rlmtype.Usage{InputTokens: 10, OutputTokens: 20}})
	if !strings.Contains(out, "depth 2") || !strings.Contains(out, "10 in") || !strings.Contains(out, "20 out") {
		t.Fatalf("unexpected sub-call render: %q", out)
	}
}

func TestRenderer_RenderSubCallShowsErrorStatus(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderSubCall(rlmtype.SubCallRecord{Depth: 1, Error: "timeout"})
	if !strings.Contains(out, "timeout") {
		t.Fatalf("expected error status in output, got %q", out)
	}
}

func TestFirstLine_TruncatesAtNewlineAndMaxLength(t *testing.T) {
	if got := firstLine("first\nsecond", 100); got != "first" {
		t.Fatalf("expected truncation at newline, got %q", got)
	}
	if got := firstLine(strings.Repeat("a", 10), 5); got != "aaaaa…" {
		t.Fatalf("expected truncation at max length with ellipsis, got %q", got)
	}
}

func TestFormatDuration_SwitchesUnitsAtOneSecond(t *testing.T) {
	if got := formatDuration(500 * time.Millisecond); got != "500ms" {
		t.Fatalf("expected milliseconds format, got %q", got)
	}
	if got := formatDuration(1500 * time.Millisecond); got != "1.5s" {
		t.Fatalf("expected seconds format, got %q", got)
	}
}
