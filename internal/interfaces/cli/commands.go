package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// SlashCommand is one parsed rlmctl command — "/status", "/usage",
// etc, distinct from the Python code blocks the outer LM emits.
type SlashCommand struct {
	Name string
	Args []string
}

// ParseSlashCommand parses a slash command from a line of rlmctl
// input, returning nil if the line isn't one.
func ParseSlashCommand(input string) *SlashCommand {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	parts := strings.Fields(input)
	name := strings.TrimPrefix(parts[0], "/")
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return &SlashCommand{Name: name, Args: args}
}

// CommandResult is the output of executing a slash command.
type CommandResult struct {
	Output string
	IsQuit bool
}

// StatusInfo is what /status and /usage report about the live
// session, without coupling commands.go to the REPL package directly.
type StatusInfo struct {
	SessionID     string
	RootModel     string
	SubModel      string
	MaxDepth      int
	MaxIterations int
	Iterations    int
	Usage         rlmtype.UsageSummary
}

// ExecuteCommand handles one rlmctl slash command and returns its
// rendered result.
func ExecuteCommand(cmd *SlashCommand, info StatusInfo) CommandResult {
	switch cmd.Name {
	case "help", "h":
		return CommandResult{Output: renderHelp()}
	case "exit", "quit", "q":
		return CommandResult{IsQuit: true}
	case "status", "s":
		return CommandResult{Output: renderStatus(info)}
	case "usage", "u":
		return CommandResult{Output: renderUsage(info)}
	case "version":
		return CommandResult{Output: fmt.Sprintf("rlmctl v%s", appVersion)}
	default:
		return CommandResult{Output: fmt.Sprintf("unknown command: /%s — try /help", cmd.Name)}
	}
}

func renderHelp() string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	cmdStyle := lipgloss.NewStyle().Foreground(colorGreen)
	descStyle := lipgloss.NewStyle().Foreground(colorGray)

	cmds := []struct {
		name string
		desc string
	}{
		{"/help", "show this help"},
		{"/status", "current session status"},
		{"/usage", "cumulative token usage"},
		{"/version", "version information"},
		{"/exit", "quit"},
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ available commands"))
	sb.WriteString("\n\n")
	for _, c := range cmds {
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			cmdStyle.Render(fmt.Sprintf("%-16s", c.name)),
			descStyle.Render(c.desc),
		))
	}
	return sb.String()
}

func renderStatus(info StatusInfo) string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ session status"))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("session:"), valueStyle.Render(info.SessionID)))
	sb.WriteString(fmt.Sprintf("  %s %s / %s\n", labelStyle.Render("models: "), valueStyle.Render(info.RootModel), valueStyle.Render(info.SubModel)))
	sb.WriteString(fmt.Sprintf("  %s %d / %d\n", labelStyle.Render("iteration:"), info.Iterations, info.MaxIterations))
	sb.WriteString(fmt.Sprintf("  %s %d\n", labelStyle.Render("max_depth:"), info.MaxDepth))
	return sb.String()
}

func renderUsage(info StatusInfo) string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)

	u := info.Usage
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ usage summary"))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("  %s %d\n", labelStyle.Render("calls:       "), u.Calls))
	sb.WriteString(fmt.Sprintf("  %s %d\n", labelStyle.Render("input_tokens:"), u.InputTokens))
	sb.WriteString(fmt.Sprintf("  %s %d\n", labelStyle.Render("output_tokens:"), u.OutputTokens))
	sb.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("cache:       "), valueStyle.Render(fmt.Sprintf("%d read / %d write", u.CacheRead, u.CacheWrite))))
	return sb.String()
}
