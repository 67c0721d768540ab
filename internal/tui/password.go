package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/zarlcorp/core/pkg/zstyle"
)

type unlockStage int

const (
	stageUnlock unlockStage = iota
	stageCreate
	stageConfirm
)

var stagePrompts = map[unlockStage]string{
	stageUnlock:  "storage passphrase:",
	stageCreate:  "create storage passphrase:",
	stageConfirm: "confirm passphrase:",
}

// passwordModel unlocks the encrypted local storage. On first run the
// passphrase is entered twice since it creates the storage.
type passwordModel struct {
	input   textinput.Model
	stage   unlockStage
	pending string
	errMsg  string
}

// passwordSubmitMsg carries the passphrase to the root model.
type passwordSubmitMsg struct {
	password string
}

// passwordErrMsg reports a failed unlock.
type passwordErrMsg struct {
	err error
}

func newPasswordModel(firstRun bool) passwordModel {
	in := textinput.New()
	in.Prompt = "> "
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '*'
	in.CharLimit = 128
	in.Width = 40
	in.Focus()

	m := passwordModel{input: in}
	if firstRun {
		m.stage = stageCreate
	}
	return m
}

func (m passwordModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m passwordModel) Update(msg tea.Msg) (passwordModel, tea.Cmd) {
	if errMsg, ok := msg.(passwordErrMsg); ok {
		return m.restart(errMsg.err.Error()), nil
	}

	if k, ok := msg.(tea.KeyMsg); ok {
		switch {
		case k.Type == tea.KeyCtrlC:
			return m, tea.Quit
		case key.Matches(k, zstyle.KeyEnter):
			return m.advance()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// restart clears the input and returns to the first stage with errMsg.
func (m passwordModel) restart(errMsg string) passwordModel {
	if m.stage == stageConfirm {
		m.stage = stageCreate
	}
	m.pending = ""
	m.errMsg = errMsg
	m.input.Reset()
	return m
}

func (m passwordModel) advance() (passwordModel, tea.Cmd) {
	pass := m.input.Value()
	if pass == "" {
		return m, nil
	}

	switch m.stage {
	case stageCreate:
		m.pending = pass
		m.stage = stageConfirm
		m.errMsg = ""
		m.input.Reset()
		return m, nil
	case stageConfirm:
		if pass != m.pending {
			return m.restart("passphrases do not match"), nil
		}
	}

	m.errMsg = ""
	return m, func() tea.Msg { return passwordSubmitMsg{password: pass} }
}

func (m passwordModel) View() string {
	indent := lipgloss.NewStyle().MarginLeft(2)

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(indent.Render(zstyle.StyledLogo(lipgloss.NewStyle().Foreground(zstyle.ZburnAccent))))
	b.WriteString("\n")
	b.WriteString(indent.Render(zstyle.MutedText.Render("connectid")))
	b.WriteString("\n\n  " + stagePrompts[m.stage] + "\n")
	b.WriteString("  " + m.input.View() + "\n")

	if m.stage == stageCreate {
		b.WriteString("  " + zstyle.MutedText.Render("encrypts the stored identity record on this device") + "\n")
	}
	if m.errMsg != "" {
		b.WriteString("\n  " + zstyle.StatusErr.Render(m.errMsg) + "\n")
	}

	return b.String()
}
