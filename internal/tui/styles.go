package tui

import (
	"time"

	"github.com/charmbracelet/lipgloss"

	"kpfgw/internal/registry"
)

const (
	// refreshInterval defines how often the session table re-reads the
	// registry.
	refreshInterval = 500 * time.Millisecond
	// maxLogLines bounds the in-memory activity log.
	maxLogLines = 200
)

const (
	IconCheck     = "✔"
	IconCross     = "❌"
	IconWarning   = "⚠"
	IconHourglass = "⏳"
	IconLink      = "🔗"
	IconScroll    = "📜"
)

var (
	appStyle = lipgloss.NewStyle().Margin(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}).
			Background(lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#303030"}).
			Padding(0, 2)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#303030", Dark: "#C0C0C0"})

	rowStyle         = lipgloss.NewStyle()
	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Background(lipgloss.AdaptiveColor{Light: "#D8D8FF", Dark: "#3A3A5A"})

	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	downStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	deadStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	logPanelTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#404040", Dark: "#B0B0B0"})

	helpStyle = lipgloss.NewStyle().
			Faint(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#606060", Dark: "#909090"})

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
)

// phaseIcon maps a session phase to its table icon plus style.
func phaseIcon(p registry.Phase) (string, lipgloss.Style) {
	switch p {
	case registry.PhaseActive:
		return IconCheck, activeStyle
	case registry.PhaseInitializing, registry.PhaseOpen:
		return IconHourglass, pendingStyle
	case registry.PhaseGivenUp:
		return IconCross, deadStyle
	default:
		return IconWarning, downStyle
	}
}
