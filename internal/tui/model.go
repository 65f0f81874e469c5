// Package tui renders the session dashboard: a live table of every forward's
// phase plus a scrolling activity log fed by the log channel.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"kpfgw/internal/registry"
	"kpfgw/pkg/logging"
)

type refreshMsg time.Time

type logEntryMsg logging.Entry

type logsClosedMsg struct{}

type model struct {
	reg     *registry.Registry
	logs    <-chan logging.Entry
	version string

	rows     []registry.Snapshot
	selected int

	logLines    []string
	logViewport viewport.Model

	notice   string
	width    int
	height   int
	ready    bool
	quitting bool
}

func initialModel(reg *registry.Registry, logs <-chan logging.Entry, version string) model {
	return model{
		reg:         reg,
		logs:        logs,
		version:     version,
		rows:        reg.All(),
		logViewport: viewport.New(0, 0),
	}
}

// Run drives the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, reg *registry.Registry, logs <-chan logging.Entry, version string) error {
	p := tea.NewProgram(initialModel(reg, logs, version), tea.WithAltScreen())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-done:
		}
	}()

	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(refreshTick(), waitForLog(m.logs))
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func waitForLog(logs <-chan logging.Entry) tea.Cmd {
	return func() tea.Msg {
		entry, ok := <-logs
		if !ok {
			return logsClosedMsg{}
		}
		return logEntryMsg(entry)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resizeLogViewport()
		return m, nil

	case refreshMsg:
		m.rows = m.reg.All()
		if m.selected >= len(m.rows) && len(m.rows) > 0 {
			m.selected = len(m.rows) - 1
		}
		return m, refreshTick()

	case logEntryMsg:
		m.appendLogLine(logging.Entry(msg))
		return m, waitForLog(m.logs)

	case logsClosedMsg:
		return m, nil
	}

	var cmd tea.Cmd
	m.logViewport, cmd = m.logViewport.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "down", "j":
		if m.selected < len(m.rows)-1 {
			m.selected++
		}
		return m, nil

	case "c":
		if m.selected < len(m.rows) {
			url := fmt.Sprintf("http://127.0.0.1:%d", m.rows[m.selected].LocalPort)
			if err := clipboard.WriteAll(url); err != nil {
				m.notice = "clipboard unavailable"
			} else {
				m.notice = IconLink + " copied " + url
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.logViewport, cmd = m.logViewport.Update(msg)
	return m, cmd
}

func (m *model) appendLogLine(e logging.Entry) {
	line := fmt.Sprintf("%s [%s] %s: %s",
		e.Timestamp.Format("15:04:05"), e.Level, e.Subsystem, e.Message)
	if e.Err != nil {
		line += " (" + e.Err.Error() + ")"
	}
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	atBottom := m.logViewport.AtBottom()
	m.logViewport.SetContent(m.logContent())
	if atBottom {
		m.logViewport.GotoBottom()
	}
}

func (m *model) resizeLogViewport() {
	// Header, table, log title and help line take the rest of the screen.
	logHeight := m.height - m.tableHeight() - 5
	if logHeight < 3 {
		logHeight = 3
	}
	m.logViewport.Width = m.width - appStyle.GetHorizontalFrameSize()
	m.logViewport.Height = logHeight
	m.logViewport.SetContent(m.logContent())
	m.logViewport.GotoBottom()
}

func (m model) tableHeight() int {
	return len(m.rows) + 2
}

// logContent truncates long lines so the viewport never soft-wraps them.
func (m model) logContent() string {
	maxWidth := m.logViewport.Width
	if maxWidth <= 0 {
		return strings.Join(m.logLines, "\n")
	}
	out := make([]string, len(m.logLines))
	for i, line := range m.logLines {
		if runewidth.StringWidth(line) > maxWidth {
			line = runewidth.Truncate(line, maxWidth-1, "") + "…"
		}
		out[i] = line
	}
	return strings.Join(out, "\n")
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Starting dashboard..."
	}

	sections := []string{
		headerStyle.Render("kpfgw " + m.version),
		m.renderTable(),
		logPanelTitleStyle.Render(IconScroll + " Activity Log"),
		m.logViewport.View(),
		m.renderFooter(),
	}
	return appStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m model) renderTable() string {
	header := tableHeaderStyle.Render(fmt.Sprintf("   %-30s %-12s %-14s %s",
		"RESOURCE", "LOCAL PORT", "STATE", "LAST PROBE"))

	lines := []string{header}
	for i, snap := range m.rows {
		icon, style := phaseIcon(snap.Phase)
		lastProbe := "-"
		if !snap.LastProbe.IsZero() {
			lastProbe = snap.LastProbe.Format("15:04:05")
		}
		line := fmt.Sprintf("%s  %-30s %-12d %-14s %s",
			style.Render(icon), snap.Key, snap.LocalPort, snap.Phase, lastProbe)
		if i == m.selected {
			line = selectedRowStyle.Render(line)
		} else {
			line = rowStyle.Render(line)
		}
		lines = append(lines, line)
	}
	if len(m.rows) == 0 {
		lines = append(lines, helpStyle.Render("  no sessions configured"))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderFooter() string {
	help := helpStyle.Render("↑/↓ select  •  c copy URL  •  q quit")
	if m.notice != "" {
		return help + "   " + noticeStyle.Render(m.notice)
	}
	return help
}
