package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/zarlcorp/core/pkg/zstyle"

	"github.com/zarlcorp/connectid/internal/state"
)

// recordModel shows the stored identity record, live.
type recordModel struct {
	record state.Record
	flash  string
}

// resetMsg asks the root to clear local storage.
type resetMsg struct{}

func newRecordModel(rec state.Record) recordModel {
	return recordModel{record: rec}
}

func (m recordModel) Update(msg tea.Msg) (recordModel, tea.Cmd) {
	switch msg := msg.(type) {
	case recordMsg:
		m.record = msg.record
		return m, nil

	case flashMsg:
		m.flash = ""
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.flash = "error: " + msg.err.Error()
		} else {
			m.flash = "connectId copied"
		}
		return m, clearFlashAfter()

	case tea.KeyMsg:
		if key.Matches(msg, zstyle.KeyQuit) {
			return m, tea.Quit
		}
		if key.Matches(msg, zstyle.KeyBack) {
			return m, func() tea.Msg { return navigateMsg{view: viewMenu} }
		}
		switch msg.String() {
		case "r":
			return m, func() tea.Msg { return resetMsg{} }
		case "c":
			if m.record.ConnectID == "" {
				m.flash = "nothing to copy"
				return m, clearFlashAfter()
			}
			return m, copyCmd(m.record.ConnectID)
		}
	}

	return m, nil
}

func (m recordModel) View() string {
	s := "\n" + renderRecord(m.record)
	if m.flash != "" {
		s += "\n  " + zstyle.StatusOK.Render(m.flash) + "\n"
	}
	return s
}

func renderRecord(r state.Record) string {
	if r.Empty() {
		return "  " + zstyle.MutedText.Render("(empty)") + "\n"
	}

	fields := []struct {
		label string
		value string
	}{
		{"connectId", r.ConnectID},
		{"he", r.HashedEmail},
		{"puid", r.HashedPUID},
		{"lastSynced", formatMillis(r.LastSynced)},
		{"ttl", formatTTL(r.TTL)},
		{"lastUsed", formatMillis(r.LastUsed)},
	}

	var b strings.Builder
	for _, f := range fields {
		v := f.value
		if v == "" {
			v = zstyle.MutedText.Render("-")
		}
		fmt.Fprintf(&b, "  %s %s\n", zstyle.MutedText.Render(fmt.Sprintf("%-11s", f.label)), v)
	}
	return b.String()
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return state.FromMillis(ms).Format(time.RFC3339)
}

func formatTTL(hours float64) string {
	if hours == 0 {
		return ""
	}
	return fmt.Sprintf("%gh", hours)
}
