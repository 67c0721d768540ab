package tui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// writeClipboard is swapped out in tests.
var writeClipboard = systemClipboard

// copiedMsg reports the outcome of a clipboard copy.
type copiedMsg struct {
	err error
}

func copyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return copiedMsg{err: writeClipboard(text)}
	}
}

// systemClipboard pipes text into the platform clipboard tool.
func systemClipboard(text string) error {
	var argv []string

	switch runtime.GOOS {
	case "darwin":
		argv = []string{"pbcopy"}
	case "linux":
		for _, c := range [][]string{
			{"wl-copy"},
			{"xclip", "-selection", "clipboard"},
			{"xsel", "--clipboard", "--input"},
		} {
			if _, err := exec.LookPath(c[0]); err == nil {
				argv = c
				break
			}
		}
		if argv == nil {
			return fmt.Errorf("no clipboard tool: install wl-clipboard, xclip or xsel")
		}
	default:
		return fmt.Errorf("clipboard not supported on %s", runtime.GOOS)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	return nil
}
