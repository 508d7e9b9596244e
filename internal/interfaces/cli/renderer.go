package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// Renderer renders one REPL session's progress to a terminal: the
// outer LM's markdown response, each executed code block's status,
// and the final answer — the same glamour+lipgloss combination the
// teacher uses for its own tool-call/markdown rendering, retargeted
// from tool calls to code-block execution.
type Renderer struct {
	glamour *glamour.TermRenderer
	width   int
}

// NewRenderer creates a renderer with the given terminal width.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{glamour: r, width: width}
}

// RenderMarkdown renders markdown text to styled terminal output,
// falling back to the raw text if glamour failed to initialize.
func (r *Renderer) RenderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// RenderCodeBlock renders one code block's execution in progress,
// with a spinner frame as the leading icon.
func (r *Renderer) RenderCodeBlock(index int, code string, spinnerFrame string) string {
	iconStyle := lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	codeStyle := lipgloss.NewStyle().Foreground(colorGray)

	icon := iconStyle.Render(spinnerFrame)
	label := labelStyle.Render(fmt.Sprintf("block %d", index+1))
	preview := firstLine(code, 60)

	return fmt.Sprintf("  %s %s %s", icon, label, codeStyle.Render(preview))
}

// RenderResult renders a completed code block's REPLResult: success or
// failure, wall time, and whether it produced a final answer.
func (r *Renderer) RenderResult(index int, result rlmtype.REPLResult, wallTime time.Duration) string {
	var icon string
	if result.Success {
		icon = lipgloss.NewStyle().Foreground(colorGreen).Render("✓")
	} else {
		icon = lipgloss.NewStyle().Foreground(colorRed).Render("✗")
	}

	labelStyle := lipgloss.NewStyle().Foreground(colorCyan)
	durStyle := lipgloss.NewStyle().Foreground(colorGray)

	dur := ""
	if wallTime > 0 {
		dur = durStyle.Render(fmt.Sprintf(" (%s)", formatDuration(wallTime)))
	}

	line := fmt.Sprintf("  %s %s%s", icon, labelStyle.Render(fmt.Sprintf("block %d", index+1)), dur)
	if result.HasFinal {
		line += "  " + lipgloss.NewStyle().Foreground(colorGreen).Bold(true).Render("→ final answer bound")
	}
	if result.Exception != "" {
		line += "\n    " + lipgloss.NewStyle().Foreground(colorRed).Render(firstLine(result.Exception, 100))
	}
	return line
}

// RenderSubCall renders one recursive llm_query call made from inside
// an iteration's code.
func (r *Renderer) RenderSubCall(call rlmtype.SubCallRecord) string {
	depthStyle := lipgloss.NewStyle().Foreground(colorDimCyan)
	usageStyle := lipgloss.NewStyle().Foreground(colorGray)

	status := "ok"
	if call.Error != "" {
		status = call.Error
	}
	return fmt.Sprintf("    %s %s",
		depthStyle.Render(fmt.Sprintf("↳ depth %d", call.Depth)),
		usageStyle.Render(fmt.Sprintf("(%d in / %d out) %s", call.Usage.InputTokens, call.Usage.OutputTokens, status)),
	)
}

// RenderFinalAnswer renders the session's final answer in a bordered
// box, the markdown rendered through glamour.
func (r *Renderer) RenderFinalAnswer(answer any) string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorGreen).
		Padding(0, 1).
		Width(r.width - 4)

	titleStyle := lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	title := titleStyle.Render("◇ final answer")

	body := r.RenderMarkdown(fmt.Sprintf("%v", answer))
	return boxStyle.Render(title + "\n\n" + body)
}

// RenderThinking renders the outer-LM-call-in-progress indicator.
func (r *Renderer) RenderThinking(frame string) string {
	style := lipgloss.NewStyle().Foreground(colorDimCyan).Italic(true)
	return style.Render(fmt.Sprintf("  %s waiting on outer LM...", frame))
}

func firstLine(s string, maxLen int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > maxLen {
		return s[:maxLen] + "…"
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
