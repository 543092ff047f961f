package views

import (
	"fmt"
	"strings"

	"analysisops/ui/tui/state"
	"analysisops/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

type QueryView struct{}

func (v QueryView) Render(s state.AppState, props ViewProps) string {
	header := MenuHeaderStyle.Width(props.Width).Render("Interactive Query")

	var summary string
	if r := s.Result; r != nil {
		summary = fmt.Sprintf("%d rows • %d columns", r.TotalRows, len(r.Columns))
		if r.Truncated {
			summary += lipgloss.NewStyle().Foreground(styles.Warning).Render(fmt.Sprintf(" • showing first %d", len(r.Rows)))
		}
		if len(r.Missing) > 0 {
			summary += "\nMissing columns: " + strings.Join(r.Missing, ", ")
		}
	}

	body := []string{
		header,
		statusLine(s, props.SpinnerView),
		props.FormView,
	}
	if summary != "" {
		body = append(body,
			lipgloss.NewStyle().PaddingLeft(2).Render(summary),
			lipgloss.NewStyle().Padding(1, 2).Render(props.TableView),
		)
	}
	body = append(body,
		errorLine(s),
		styles.HintStyle.Render("[Tab] Next field • [Enter] Run • [Ctrl+T] Table info • [Esc] Back"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, body...)
}
