package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/zarlcorp/core/pkg/zstyle"
)

type menuChoice int

const (
	menuResolve menuChoice = iota
	menuRecord
	menuOptOut
	menuQuit
	menuCount
)

// menuModel is the main menu view.
type menuModel struct {
	cursor   int
	version  string
	optedOut bool
	flash    string
}

// navigateMsg tells the root model to switch views.
type navigateMsg struct {
	view viewID
}

// toggleOptOutMsg asks the root to flip the local opt-out flag.
type toggleOptOutMsg struct{}

func newMenuModel(version string, optedOut bool) menuModel {
	return menuModel{version: version, optedOut: optedOut}
}

func (m menuModel) items() [menuCount]string {
	opt := "Opt out"
	if m.optedOut {
		opt = "Opt back in"
	}
	return [menuCount]string{
		"Get IDs",
		"Stored record",
		opt,
		"Quit",
	}
}

func (m menuModel) Update(msg tea.Msg) (menuModel, tea.Cmd) {
	switch msg := msg.(type) {
	case flashMsg:
		m.flash = ""
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, zstyle.KeyQuit) {
			return m, tea.Quit
		}

		if key.Matches(msg, zstyle.KeyUp) {
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		}

		if key.Matches(msg, zstyle.KeyDown) {
			if m.cursor < int(menuCount)-1 {
				m.cursor++
			}
			return m, nil
		}

		if key.Matches(msg, zstyle.KeyEnter) {
			return m, m.selectItem()
		}
	}

	return m, nil
}

func (m menuModel) selectItem() tea.Cmd {
	switch menuChoice(m.cursor) {
	case menuResolve:
		return func() tea.Msg { return navigateMsg{view: viewResolve} }
	case menuRecord:
		return func() tea.Msg { return navigateMsg{view: viewRecord} }
	case menuOptOut:
		return func() tea.Msg { return toggleOptOutMsg{} }
	case menuQuit:
		return tea.Quit
	}
	return nil
}

func (m menuModel) View() string {
	title := zstyle.Title.Render("connectid")
	ver := zstyle.MutedText.Render(m.version)

	s := fmt.Sprintf("\n  %s %s\n", title, ver)
	if m.optedOut {
		s += "  " + zstyle.StatusWarn.Render("opted out") + "\n"
	}
	s += "\n"

	for i, item := range m.items() {
		if m.cursor == i {
			s += zstyle.Highlight.Render(fmt.Sprintf("  > %s", item)) + "\n"
		} else {
			s += fmt.Sprintf("    %s\n", item)
		}
	}

	if m.flash != "" {
		s += "\n  " + zstyle.StatusOK.Render(m.flash) + "\n"
	}

	s += "\n  " + zstyle.MutedText.Render("j/k navigate  enter select  q quit") + "\n\n"
	return s
}
