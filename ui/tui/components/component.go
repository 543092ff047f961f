package components

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Component is a widget embedded in a page. Update returns the widget itself
// as the tea.Model so pages can keep holding the concrete type.
type Component interface {
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Model, tea.Cmd)
	View() string
}

var (
	_ Component = (*Form)(nil)
	_ Component = (*ProgressWidget)(nil)
)
