package logsink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

func TestWrite_PersistsJSONDocument(t *testing.T) {
	dir := t.TempDir()
	sink := New(dir)

	session := rlmtype.NewSessionState("sess-abc", rlmtype.Budget{MaxIterations: 5})
	session.Iterations = append(session.Iterations, rlmtype.Iteration{
		CodeBlocks: []string{"print(1)"},
		SubLMCalls: []rlmtype.SubCallRecord{{Depth: 0}},
	})
	session.StopReason = rlmtype.StopFinalAnswer

	if err := sink.Write(session, rlmtype.LogConfig{RootModel: "m1"}, 2*time.Second); err != nil {
		t.Fatalf("Write: %v", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "sess-abc.json"))
	if err != nil {
		t.Fatalf("reading log document: %v", err)
	}

	var doc rlmtype.LogDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Config.RootModel != "m1" {
		t.Fatalf("unexpected config: %+v", doc.Config)
	}
	if doc.Metadata.TotalIterations != 1 || doc.Metadata.TotalCodeBlocks != 1 || doc.Metadata.TotalSubLMCalls != 1 {
		t.Fatalf("unexpected metadata: %+v", doc.Metadata)
	}
	if doc.Metadata.TotalExecutionTime != 2.0 {
		t.Fatalf("unexpected execution time: %v", doc.Metadata.TotalExecutionTime)
	}
}

func TestWrite_RendersFinalAnswerHTMLWhenBound(t *testing.T) {
	dir := t.TempDir()
	sink := New(dir)

	session := rlmtype.NewSessionState("sess-final", rlmtype.Budget{})
	session.HasFinal = true
	session.FinalAnswer = "**done**"

	if err := sink.Write(session, rlmtype.LogConfig{}, time.Second); err != nil {
		t.Fatalf("Write: %v", err)
	}

	htmlPath := filepath.Join(dir, "sess-final.html")
	body, err := os.ReadFile(htmlPath)
	if err != nil {
		t.Fatalf("expected final answer html to exist: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("expected non-empty rendered html")
	}
}

func TestWrite_SkipsHTMLWhenNoFinalAnswer(t *testing.T) {
	dir := t.TempDir()
	sink := New(dir)

	session := rlmtype.NewSessionState("sess-nofinal", rlmtype.Budget{})
	if err := sink.Write(session, rlmtype.LogConfig{}, time.Second); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "sess-nofinal.html")); !os.IsNotExist(err) {
		t.Fatal("expected no html file when session has no final answer")
	}
}

func TestWrite_NoopWhenDirEmpty(t *testing.T) {
	sink := New("")
	session := rlmtype.NewSessionState("sess-x", rlmtype.Budget{})
	if err := sink.Write(session, rlmtype.LogConfig{}, 0); err != nil {
		t.Fatalf("expected no error for empty sink dir, got %v", err)
	}
}
