package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// secretModel is a single masked text field.
type secretModel struct {
	input   textinput.Model
	done    bool
	aborted bool
}

func newSecretModel(prompt string) secretModel {
	ti := textinput.New()
	ti.Prompt = prompt + ": "
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.CharLimit = 512
	ti.Width = 48
	ti.Focus()
	return secretModel{input: ti}
}

func (m secretModel) Init() tea.Cmd { return textinput.Blink }

func (m secretModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m secretModel) View() string {
	if m.done || m.aborted {
		return ""
	}
	return m.input.View() + "\n"
}

// readMasked runs a one-field bubbletea program on the terminal.
func readMasked(in io.Reader, out io.Writer, prompt string) (string, error) {
	final, err := tea.NewProgram(newSecretModel(prompt), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	m := final.(secretModel)
	if m.aborted {
		return "", ErrAborted
	}
	fmt.Fprintln(out, prompt+": "+maskedEcho(m.input.Value()))
	return m.input.Value(), nil
}

func maskedEcho(v string) string {
	if v == "" {
		return "(empty)"
	}
	return "••••••"
}
