// Package logsink writes the one-JSON-document-per-session artifact
// described in §6 ("Log output") to RLM_LOG_DIR, and renders the final
// answer to HTML alongside it for a human skimming a session after the
// fact. The visualizer that consumes these documents is an external
// collaborator out of this substrate's scope; this package only
// produces the artifact, the way the teacher's own markdown rendering
// stays one layer below the UI that eventually displays it.
package logsink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yuin/goldmark"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// Sink writes LogDocuments under a directory named RLM_LOG_DIR.
type Sink struct {
	dir string
}

func New(dir string) *Sink {
	return &Sink{dir: dir}
}

// Write renders session to a LogDocument and persists it as
// "<session_id>.json" under the sink's directory, alongside a
// "<session_id>.html" rendering of the final answer (when one exists)
// for quick human inspection without the external visualizer.
func (s *Sink) Write(session *rlmtype.SessionState, cfg rlmtype.LogConfig, wallTime time.Duration) error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	doc := rlmtype.LogDocument{
		Config: cfg,
		Metadata: rlmtype.LogMetadata{
			TotalIterations:    len(session.Iterations),
			TotalCodeBlocks:    session.TotalCodeBlocks(),
			TotalSubLMCalls:    session.TotalSubLMCalls(),
			TotalExecutionTime: wallTime.Seconds(),
			FinalAnswer:        session.FinalAnswer,
			HasErrors:          session.HasErrors(),
		},
		Iterations: session.Iterations,
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling log document: %w", err)
	}

	jsonPath := filepath.Join(s.dir, session.SessionID+".json")
	if err := os.WriteFile(jsonPath, body, 0644); err != nil {
		return fmt.Errorf("writing log document: %w", err)
	}

	if session.HasFinal {
		if err := s.writeFinalAnswerHTML(session); err != nil {
			return err
		}
	}
	return nil
}

// writeFinalAnswerHTML renders the final answer as markdown to HTML
// via goldmark, for a quick look without the external visualizer.
func (s *Sink) writeFinalAnswerHTML(session *rlmtype.SessionState) error {
	md := fmt.Sprintf("%v", session.FinalAnswer)

	var buf []byte
	writer := &sliceWriter{buf: &buf}
	if err := goldmark.Convert([]byte(md), writer); err != nil {
		return fmt.Errorf("rendering final answer markdown: %w", err)
	}

	htmlPath := filepath.Join(s.dir, session.SessionID+".html")
	if err := os.WriteFile(htmlPath, buf, 0644); err != nil {
		return fmt.Errorf("writing final answer html: %w", err)
	}
	return nil
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
