// Package tui implements the root Bubble Tea model for the connectid demo.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/zarlcorp/core/pkg/zstyle"

	"github.com/zarlcorp/connectid/internal/connectid"
	"github.com/zarlcorp/connectid/internal/state"
)

// refreshInterval is how often the stored record is re-read while visible.
const refreshInterval = 250 * time.Millisecond

type viewID int

const (
	viewPassword viewID = iota
	viewMenu
	viewResolve
	viewRecord
)

// Resolver is the part of *connectid.Client the demo drives.
type Resolver interface {
	GetIDs(ctx context.Context, p connectid.Params) connectid.Result
	Record() state.Record
	Reset()
	OptOut() error
	OptIn() error
	OptedOut() bool
}

// OpenFunc unlocks local storage with a passphrase and returns a resolver
// backed by it.
type OpenFunc func(passphrase string) (Resolver, error)

// Model is the root TUI model.
type Model struct {
	version  string
	open     OpenFunc
	firstRun bool
	res      Resolver

	active   viewID
	password passwordModel
	menu     menuModel
	resolve  resolveModel
	record   recordModel

	// tickGen invalidates refresh ticks scheduled by views no longer shown
	tickGen int

	width  int
	height int
}

// New creates the root TUI model.
func New(version string, open OpenFunc, firstRun bool) Model {
	return Model{
		version:  version,
		open:     open,
		firstRun: firstRun,
		active:   viewPassword,
		password: newPasswordModel(firstRun),
		menu:     newMenuModel(version, false),
	}
}

// recordTickMsg asks the root to re-read the stored record.
type recordTickMsg struct {
	gen int
}

// recordMsg carries a freshly read record to the visible view.
type recordMsg struct {
	record state.Record
}

// resolvedMsg carries the answer of a GetIDs call.
type resolvedMsg struct {
	result connectid.Result
}

func tickRecord(gen int) tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return recordTickMsg{gen: gen}
	})
}

func (m Model) Init() tea.Cmd {
	return m.password.Init()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case passwordSubmitMsg:
		return m.openStore(msg.password)

	case navigateMsg:
		return m.navigate(msg.view)

	case submitIDsMsg:
		return m, m.getIDs(msg.params)

	case resolvedMsg:
		m.resolve, _ = m.resolve.Update(msg)
		return m, nil

	case recordTickMsg:
		return m.refreshRecord(msg.gen)

	case toggleOptOutMsg:
		return m.toggleOptOut()

	case resetMsg:
		m.res.Reset()
		rec := m.res.Record()
		m.record, _ = m.record.Update(recordMsg{record: rec})
		m.record.flash = "storage cleared"
		return m, clearFlashAfter()
	}

	return m.updateActive(msg)
}

func (m Model) openStore(passphrase string) (tea.Model, tea.Cmd) {
	res, err := m.open(passphrase)
	if err != nil {
		m.password, _ = m.password.Update(passwordErrMsg{err: err})
		return m, nil
	}

	m.res = res
	m.menu = newMenuModel(m.version, res.OptedOut())
	m.active = viewMenu
	return m, nil
}

func (m Model) navigate(view viewID) (tea.Model, tea.Cmd) {
	m.tickGen++
	m.active = view

	switch view {
	case viewMenu:
		m.menu.optedOut = m.res.OptedOut()
		return m, nil
	case viewResolve:
		m.resolve = newResolveModel(m.res.Record())
		return m, tea.Batch(m.resolve.Init(), tickRecord(m.tickGen))
	case viewRecord:
		m.record = newRecordModel(m.res.Record())
		return m, tickRecord(m.tickGen)
	}
	return m, nil
}

func (m Model) getIDs(p connectid.Params) tea.Cmd {
	res := m.res
	return func() tea.Msg {
		return resolvedMsg{result: res.GetIDs(context.Background(), p)}
	}
}

func (m Model) refreshRecord(gen int) (tea.Model, tea.Cmd) {
	if gen != m.tickGen || m.res == nil {
		return m, nil
	}

	rec := recordMsg{record: m.res.Record()}
	switch m.active {
	case viewResolve:
		m.resolve, _ = m.resolve.Update(rec)
	case viewRecord:
		m.record, _ = m.record.Update(rec)
	default:
		return m, nil
	}
	return m, tickRecord(gen)
}

func (m Model) toggleOptOut() (tea.Model, tea.Cmd) {
	var err error
	if m.res.OptedOut() {
		err = m.res.OptIn()
	} else {
		err = m.res.OptOut()
	}

	m.menu.optedOut = m.res.OptedOut()
	switch {
	case err != nil:
		m.menu.flash = "error: " + err.Error()
	case m.menu.optedOut:
		m.menu.flash = "opted out, stored record removed"
	default:
		m.menu.flash = "opted in"
	}
	return m, clearFlashAfter()
}

func (m Model) updateActive(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.active {
	case viewPassword:
		m.password, cmd = m.password.Update(msg)
	case viewMenu:
		m.menu, cmd = m.menu.Update(msg)
	case viewResolve:
		m.resolve, cmd = m.resolve.Update(msg)
	case viewRecord:
		m.record, cmd = m.record.Update(msg)
	}
	return m, cmd
}

func (m Model) View() string {
	// password and menu include the logo, render directly
	switch m.active {
	case viewPassword:
		return m.password.View()
	case viewMenu:
		return m.menu.View()
	}

	var content string
	switch m.active {
	case viewResolve:
		content = m.resolve.View()
	case viewRecord:
		content = m.record.View()
	}

	header := zstyle.RenderHeader("connectid", viewTitle(m.active), zstyle.ZburnAccent)
	sep := zstyle.RenderSeparator(m.width)
	footer := zstyle.RenderFooter(helpFor(m.active))

	return "\n" + header + "\n" + sep + "\n" + content + "\n" + footer + "\n"
}

// viewTitle returns the display title for each view.
func viewTitle(id viewID) string {
	switch id {
	case viewResolve:
		return "Get IDs"
	case viewRecord:
		return "Stored Record"
	}
	return ""
}

// helpFor returns keybinding pairs for each view's footer.
func helpFor(id viewID) []zstyle.HelpPair {
	switch id {
	case viewResolve:
		return []zstyle.HelpPair{
			{Key: "tab", Desc: "next"},
			{Key: "shift+tab", Desc: "prev"},
			{Key: "ctrl+p", Desc: "toggle 1p"},
			{Key: "enter", Desc: "get ids"},
			{Key: "esc", Desc: "back"},
		}
	case viewRecord:
		return []zstyle.HelpPair{
			{Key: "c", Desc: "copy id"},
			{Key: "r", Desc: "reset"},
			{Key: "esc", Desc: "back"},
			{Key: "q", Desc: "quit"},
		}
	}
	return nil
}

// flashMsg clears the flash after a timeout.
type flashMsg struct{}

func clearFlashAfter() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return flashMsg{}
	})
}
