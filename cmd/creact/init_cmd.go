package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively create a creact.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat("creact.yaml"); err == nil {
				return fmt.Errorf("creact.yaml already exists in this directory")
			}

			model := newInitModel()
			final, err := tea.NewProgram(model).Run()
			if err != nil {
				return err
			}
			m := final.(initModel)
			if m.aborted {
				fmt.Println(mutedStyle.Render("aborted"))
				return nil
			}
			return writeInitConfig(m)
		},
	}
}

type initStep int

const (
	stepStackName initStep = iota
	stepBackend
	stepProvider
	stepDone
)

var (
	backendChoices  = []string{"file", "postgres", "redis"}
	providerChoices = []string{"local", "remote"}
)

type initModel struct {
	step    initStep
	name    textinput.Model
	cursor  int
	backend string
	prov    string
	aborted bool
}

func newInitModel() initModel {
	name := textinput.New()
	name.Placeholder = "my-stack"
	name.Focus()
	name.CharLimit = 64
	return initModel{name: name}
}

func (m initModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.name, cmd = m.name.Update(msg)
		return m, cmd
	}

	switch key.String() {
	case "ctrl+c", "esc":
		m.aborted = true
		return m, tea.Quit

	case "enter":
		switch m.step {
		case stepStackName:
			if m.name.Value() == "" {
				m.name.SetValue(m.name.Placeholder)
			}
			m.step = stepBackend
			m.cursor = 0
		case stepBackend:
			m.backend = backendChoices[m.cursor]
			m.step = stepProvider
			m.cursor = 0
		case stepProvider:
			m.prov = providerChoices[m.cursor]
			m.step = stepDone
			return m, tea.Quit
		}
		return m, nil
	}

	// Everything else is typing on the name step and cursor movement on the
	// selection steps.
	if m.step == stepStackName {
		var cmd tea.Cmd
		m.name, cmd = m.name.Update(msg)
		return m, cmd
	}

	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		limit := len(backendChoices)
		if m.step == stepProvider {
			limit = len(providerChoices)
		}
		if m.cursor < limit-1 {
			m.cursor++
		}
	}
	return m, nil
}

func (m initModel) View() string {
	switch m.step {
	case stepStackName:
		return titleStyle.Render("Stack name") + "\n\n" + m.name.View() + "\n\n" +
			mutedStyle.Render("enter to continue, esc to abort") + "\n"
	case stepBackend:
		return m.choicesView("State backend", backendChoices)
	case stepProvider:
		return m.choicesView("Provider", providerChoices)
	default:
		return ""
	}
}

func (m initModel) choicesView(title string, choices []string) string {
	out := titleStyle.Render(title) + "\n\n"
	for i, c := range choices {
		cursor := "  "
		line := c
		if i == m.cursor {
			cursor = successStyle.Render("> ")
			line = successStyle.Render(c)
		}
		out += cursor + line + "\n"
	}
	return out + "\n" + mutedStyle.Render("↑/↓ to move, enter to select") + "\n"
}

func writeInitConfig(m initModel) error {
	doc := map[string]any{
		"stack":   map[string]any{"name": m.name.Value()},
		"backend": map[string]any{"type": m.backend},
		"provider": map[string]any{
			"type": m.prov,
		},
		"log": map[string]any{"level": "info"},
	}
	if m.prov == "remote" {
		doc["provider"].(map[string]any)["url"] = "ws://localhost:8099/provider"
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile("creact.yaml", data, 0o644); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("✓ ") + "wrote creact.yaml for stack " + m.name.Value())
	return nil
}
