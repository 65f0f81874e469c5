package tui

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpfgw/internal/registry"
	"kpfgw/pkg/logging"
)

func testModel(keys ...string) model {
	reg := registry.New()
	for i, key := range keys {
		reg.Seed(key, uint16(9000+i))
	}
	logs := make(chan logging.Entry)
	m := initialModel(reg, logs, "test")
	m.width = 120
	m.height = 40
	m.ready = true
	m.resizeLogViewport()
	return m
}

func TestSelectionMovesWithinBounds(t *testing.T) {
	m := testModel("pod/a", "pod/b", "pod/c")

	next, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	m = next.(model)
	assert.Equal(t, 0, m.selected, "up at the top stays at the top")

	for i := 0; i < 5; i++ {
		next, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
		m = next.(model)
	}
	assert.Equal(t, 2, m.selected, "down stops at the last row")
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "esc"} {
		m := testModel("pod/a")
		var msg tea.KeyMsg
		if key == "esc" {
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}
		next, cmd := m.handleKey(msg)
		assert.True(t, next.(model).quitting, "key %q must quit", key)
		require.NotNil(t, cmd)
	}
}

func TestRefreshPicksUpRegistryChanges(t *testing.T) {
	m := testModel("pod/a")
	m.reg.SetPhase("pod/a", registry.PhaseActive)

	next, cmd := m.Update(refreshMsg(time.Now()))
	m = next.(model)
	require.NotNil(t, cmd, "refresh must schedule the next tick")
	require.Len(t, m.rows, 1)
	assert.Equal(t, registry.PhaseActive, m.rows[0].Phase)

	view := m.View()
	assert.Contains(t, view, "pod/a")
	assert.Contains(t, view, string(registry.PhaseActive))
}

func TestActivityLogTrimsToCapacity(t *testing.T) {
	m := testModel("pod/a")

	for i := 0; i < maxLogLines+50; i++ {
		m.appendLogLine(logging.Entry{
			Timestamp: time.Now(),
			Level:     logging.LevelInfo,
			Subsystem: "Session-pod/a",
			Message:   fmt.Sprintf("line %d", i),
		})
	}

	assert.Len(t, m.logLines, maxLogLines)
	assert.Contains(t, m.logLines[len(m.logLines)-1], "line 249")
	assert.NotContains(t, strings.Join(m.logLines, "\n"), "line 0\n")
}

func TestAppendLogLineIncludesError(t *testing.T) {
	m := testModel("pod/a")
	m.appendLogLine(logging.Entry{
		Timestamp: time.Now(),
		Level:     logging.LevelError,
		Subsystem: "Session-pod/a",
		Message:   "tunnel exited",
		Err:       errors.New("exit status 1"),
	})

	require.Len(t, m.logLines, 1)
	assert.Contains(t, m.logLines[0], "ERROR")
	assert.Contains(t, m.logLines[0], "exit status 1")
}

func TestPhaseIcons(t *testing.T) {
	icon, _ := phaseIcon(registry.PhaseActive)
	assert.Equal(t, IconCheck, icon)
	icon, _ = phaseIcon(registry.PhaseGivenUp)
	assert.Equal(t, IconCross, icon)
	icon, _ = phaseIcon(registry.PhaseInitializing)
	assert.Equal(t, IconHourglass, icon)
	icon, _ = phaseIcon(registry.PhaseUnavailable)
	assert.Equal(t, IconWarning, icon)
}
