package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	promptTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	promptHelpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var errPromptCancelled = errors.New("license prompt cancelled")

// keyPromptModel asks for a license key with masked input.
type keyPromptModel struct {
	input     textinput.Model
	value     string
	cancelled bool
}

func newKeyPrompt() keyPromptModel {
	ti := textinput.New()
	ti.Placeholder = "XXXXXXXX-XXXXXXXX-XXXXXXXX-XXXXXXXX"
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.CharLimit = 128
	ti.Width = 50
	ti.Focus()
	return keyPromptModel{input: ti}
}

func (m keyPromptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m keyPromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			if v := strings.TrimSpace(m.input.Value()); v != "" {
				m.value = v
				return m, tea.Quit
			}
			return m, nil
		case tea.KeyEsc, tea.KeyCtrlC:
			m.cancelled = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m keyPromptModel) View() string {
	if m.value != "" || m.cancelled {
		return ""
	}
	return fmt.Sprintf("\n%s\n\n%s\n\n%s\n",
		promptTitleStyle.Render("Enter your shipper license key"),
		m.input.View(),
		promptHelpStyle.Render("enter: confirm • esc: cancel"))
}

// promptLicenseKey runs the prompt on the terminal.
func promptLicenseKey(ctx context.Context) (string, error) {
	final, err := tea.NewProgram(newKeyPrompt(), tea.WithContext(ctx)).Run()
	if err != nil {
		return "", err
	}
	m := final.(keyPromptModel)
	if m.cancelled || m.value == "" {
		return "", errPromptCancelled
	}
	return m.value, nil
}
