package tui

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/zarlcorp/core/pkg/zstyle"

	"github.com/zarlcorp/connectid/internal/connectid"
	"github.com/zarlcorp/connectid/internal/state"
)

const (
	inputPixelID = iota
	inputEmail
	inputPUID
	inputCount
)

var inputLabels = [inputCount]string{
	"pixel id",
	"email",
	"puid",
}

// resolveModel is the getIds form. The response and the stored record are
// shown below it; the record keeps refreshing while the view is open.
type resolveModel struct {
	inputs  [inputCount]textinput.Model
	focus   int
	yahoo1p *bool

	pending  bool
	response string
	errMsg   string
	record   state.Record
}

// submitIDsMsg asks the root to call GetIDs.
type submitIDsMsg struct {
	params connectid.Params
}

func newResolveModel(rec state.Record) resolveModel {
	var inputs [inputCount]textinput.Model
	for i := range inputCount {
		ti := textinput.New()
		ti.CharLimit = 256
		ti.Width = 50
		ti.Prompt = ""
		inputs[i] = ti
	}
	inputs[inputPixelID].CharLimit = 12
	inputs[inputPixelID].Placeholder = "12345"
	inputs[inputEmail].Placeholder = "abc@foo.com or sha256 hex"

	m := resolveModel{inputs: inputs, record: rec}
	m.inputs[m.focus].Focus()
	return m
}

func (m resolveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m resolveModel) Update(msg tea.Msg) (resolveModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case resolvedMsg:
		m.pending = false
		m.response = formatResult(msg.result)
		return m, nil

	case recordMsg:
		m.record = msg.record
		return m, nil
	}

	return m.updateInput(msg)
}

func (m resolveModel) handleKey(msg tea.KeyMsg) (resolveModel, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if key.Matches(msg, zstyle.KeyBack) {
		return m, func() tea.Msg { return navigateMsg{view: viewMenu} }
	}

	switch msg.String() {
	case "tab":
		return m.moveFocus(1), textinput.Blink
	case "shift+tab":
		return m.moveFocus(-1), textinput.Blink
	case "ctrl+p":
		m.yahoo1p = cycleFirstParty(m.yahoo1p)
		return m, nil
	}

	if key.Matches(msg, zstyle.KeyEnter) {
		return m.submit()
	}

	return m.updateInput(msg)
}

func (m resolveModel) moveFocus(delta int) resolveModel {
	m.inputs[m.focus].Blur()
	m.focus = (m.focus + delta + inputCount) % inputCount
	m.inputs[m.focus].Focus()
	return m
}

func (m resolveModel) updateInput(msg tea.Msg) (resolveModel, tea.Cmd) {
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m resolveModel) submit() (resolveModel, tea.Cmd) {
	p, err := m.params()
	if err != nil {
		m.errMsg = err.Error()
		return m, nil
	}

	m.errMsg = ""
	m.pending = true
	return m, func() tea.Msg { return submitIDsMsg{params: p} }
}

func (m resolveModel) params() (connectid.Params, error) {
	p := connectid.Params{
		Email:   strings.TrimSpace(m.inputs[inputEmail].Value()),
		PUID:    strings.TrimSpace(m.inputs[inputPUID].Value()),
		Yahoo1P: m.yahoo1p,
	}

	if s := strings.TrimSpace(m.inputs[inputPixelID].Value()); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil || id < 0 {
			return connectid.Params{}, fmt.Errorf("pixel id must be a positive number")
		}
		p.PixelID = id
	}

	return p, nil
}

// cycleFirstParty steps unset -> true -> false -> unset.
func cycleFirstParty(v *bool) *bool {
	switch {
	case v == nil:
		t := true
		return &t
	case *v:
		f := false
		return &f
	}
	return nil
}

func formatResult(r connectid.Result) string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (m resolveModel) View() string {
	var s strings.Builder
	s.WriteString("\n")

	for i := range inputCount {
		label := fmt.Sprintf("%-10s", inputLabels[i])
		if i == m.focus {
			s.WriteString("  " + zstyle.Highlight.Render(label) + " " + m.inputs[i].View() + "\n")
		} else {
			s.WriteString("  " + zstyle.MutedText.Render(label) + " " + m.inputs[i].View() + "\n")
		}
	}

	firstParty := "unset"
	if m.yahoo1p != nil {
		firstParty = strconv.FormatBool(*m.yahoo1p)
	}
	fmt.Fprintf(&s, "  %s %s\n", zstyle.MutedText.Render(fmt.Sprintf("%-10s", "yahoo1p")), firstParty)

	if m.errMsg != "" {
		s.WriteString("\n  " + zstyle.StatusErr.Render(m.errMsg) + "\n")
	}

	s.WriteString("\n  " + zstyle.Subtitle.Render("response") + "\n")
	switch {
	case m.pending:
		s.WriteString("  " + zstyle.MutedText.Render("waiting...") + "\n")
	case m.response != "":
		s.WriteString("  " + zstyle.StatusOK.Render(m.response) + "\n")
	default:
		s.WriteString("  " + zstyle.MutedText.Render("none yet") + "\n")
	}

	s.WriteString("\n  " + zstyle.Subtitle.Render("stored record") + "\n")
	s.WriteString(renderRecord(m.record))

	return s.String()
}
