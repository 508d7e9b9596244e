package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/lipgloss"
)

const appVersion = "0.1.0"

// brand colors
var (
	colorCyan    = lipgloss.Color("#00D7FF")
	colorDimCyan = lipgloss.Color("#00AFAF")
	colorGray    = lipgloss.Color("#6C6C6C")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorDim     = lipgloss.Color("#4E4E4E")
	colorGreen   = lipgloss.Color("#00FF87")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorRed     = lipgloss.Color("#FF5F5F")
)

// logoLines is the RLM wordmark shown at the top of the banner.
var logoLines = []string{
	" ██████   ██       ███    ███ ",
	" ██   ██  ██       ████  ████ ",
	" ██████   ██       ██ ████ ██ ",
	" ██   ██  ██       ██  ██  ██ ",
	" ██   ██  ███████  ██      ██ ",
}

// logoGradient colors the wordmark top→bottom (cyan → violet), the
// same gradient-logo idiom the teacher's own banner uses.
var logoGradient = []lipgloss.Color{
	lipgloss.Color("#00FFFF"),
	lipgloss.Color("#00CFFF"),
	lipgloss.Color("#009FFF"),
	lipgloss.Color("#006FFF"),
	lipgloss.Color("#5F5FFF"),
}

// BannerInfo carries the dynamic stats shown in the welcome banner.
type BannerInfo struct {
	RootModel       string
	SubModel        string
	MaxDepth        int
	MaxIterations   int
	EnvironmentType string
	Backend         string
}

// RenderBanner returns the styled startup banner with gradient logo
// and the session's resolved budgets — the first thing an operator of
// rlmctl sees before a session starts.
func RenderBanner(info BannerInfo, width int) string {
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)
	tipStyle := lipgloss.NewStyle().Foreground(colorDim)
	versionStyle := lipgloss.NewStyle().Foreground(colorDimCyan)

	var logo string
	if width >= 48 {
		for i, line := range logoLines {
			c := logoGradient[i%len(logoGradient)]
			logo += lipgloss.NewStyle().Foreground(c).Bold(true).Render(line) + "\n"
		}
	} else {
		logo = lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render(" ◇  R L M") + "\n"
	}

	ver := versionStyle.Render(fmt.Sprintf("  v%s", appVersion))

	modelLine := fmt.Sprintf("  %s %s %s %s",
		labelStyle.Render("Model"),
		valueStyle.Render(info.RootModel),
		labelStyle.Render("/"),
		valueStyle.Render(info.SubModel),
	)
	budgetLine := fmt.Sprintf("  %s %s",
		labelStyle.Render("Budget"),
		valueStyle.Render(fmt.Sprintf("max_depth=%d max_iterations=%d", info.MaxDepth, info.MaxIterations)),
	)
	envLine := fmt.Sprintf("  %s %s",
		labelStyle.Render("Env  "),
		valueStyle.Render(fmt.Sprintf("%s (%s)", info.EnvironmentType, info.Backend)),
	)
	hostLine := fmt.Sprintf("  %s %s/%s",
		labelStyle.Render("Host "),
		labelStyle.Render(runtime.GOOS),
		labelStyle.Render(runtime.GOARCH),
	)

	tips := tipStyle.Render("  Enter to submit · /help for commands · Ctrl+C to interrupt")

	return fmt.Sprintf("\n%s%s\n\n%s\n%s\n%s\n%s\n\n%s\n",
		logo, ver,
		modelLine, budgetLine, envLine, hostLine,
		tips,
	)
}

// DetectWorkdir returns the current working directory for display,
// falling back to "." on error.
func DetectWorkdir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(wd)
}
