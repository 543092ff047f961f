package components

import (
	"fmt"
	"strings"

	"analysisops/ui/tui/styles"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// FieldSpec describes one input of a Form.
type FieldSpec struct {
	Key         string
	Label       string
	Placeholder string
	Value       string
	Secret      bool
}

type field struct {
	key   string
	label string
	input textinput.Model
}

// Form is a vertical list of labeled text inputs with one focused at a time.
// Tab and the arrow keys move focus; every other key goes to the focused input.
type Form struct {
	Title  string
	fields []field
	focus  int
}

func NewForm(title string, specs ...FieldSpec) *Form {
	f := &Form{Title: title}
	for _, s := range specs {
		ti := textinput.New()
		ti.Placeholder = s.Placeholder
		ti.Prompt = ""
		ti.Width = 40
		ti.CharLimit = 512
		ti.SetValue(s.Value)
		if s.Secret {
			ti.EchoMode = textinput.EchoPassword
			ti.EchoCharacter = '•'
		}
		f.fields = append(f.fields, field{key: s.Key, label: s.Label, input: ti})
	}
	if len(f.fields) > 0 {
		f.fields[0].input.Focus()
	}
	return f
}

func (f *Form) Init() tea.Cmd {
	return textinput.Blink
}

// Focused returns the key of the focused field.
func (f *Form) Focused() string {
	if len(f.fields) == 0 {
		return ""
	}
	return f.fields[f.focus].key
}

func (f *Form) move(delta int) tea.Cmd {
	if len(f.fields) == 0 {
		return nil
	}
	f.fields[f.focus].input.Blur()
	f.focus = (f.focus + delta + len(f.fields)) % len(f.fields)
	return f.fields[f.focus].input.Focus()
}

func (f *Form) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if len(f.fields) == 0 {
		return f, nil
	}
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "tab", "down":
			return f, f.move(1)
		case "shift+tab", "up":
			return f, f.move(-1)
		}
	}
	var cmd tea.Cmd
	f.fields[f.focus].input, cmd = f.fields[f.focus].input.Update(msg)
	return f, cmd
}

// Value returns the trimmed value of the field with the given key.
func (f *Form) Value(key string) string {
	for _, fl := range f.fields {
		if fl.key == key {
			return strings.TrimSpace(fl.input.Value())
		}
	}
	return ""
}

// SetValue replaces the value of the field with the given key.
func (f *Form) SetValue(key, value string) {
	for i := range f.fields {
		if f.fields[i].key == key {
			f.fields[i].input.SetValue(value)
			return
		}
	}
}

func (f *Form) View() string {
	labelWidth := 0
	for _, fl := range f.fields {
		if len(fl.label) > labelWidth {
			labelWidth = len(fl.label)
		}
	}

	lines := []string{lipgloss.NewStyle().Bold(true).Render(f.Title)}
	for i, fl := range f.fields {
		label := fmt.Sprintf("%-*s", labelWidth, fl.label)
		style := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAA"))
		if i == f.focus {
			style = lipgloss.NewStyle().Bold(true).Foreground(styles.Highlight)
		}
		lines = append(lines, fmt.Sprintf("%s  %s", style.Render(label), fl.input.View()))
	}
	return styles.CardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
