package views

import (
	"fmt"

	"analysisops/ui/tui/state"
	"analysisops/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

type ExportView struct{}

func (v ExportView) Render(s state.AppState, props ViewProps) string {
	header := MenuHeaderStyle.Width(props.Width).Render("CSV Export")

	right := props.ChartView
	if j := s.Job; j != nil {
		lines := []string{
			lipgloss.NewStyle().Bold(true).Render("Last Job"),
			fmt.Sprintf("ID     : %s", j.ID),
			fmt.Sprintf("Kind   : %s", j.Kind),
			fmt.Sprintf("Status : %s", ColorForStatus(string(j.Status)).Render(string(j.Status))),
			fmt.Sprintf("Rows   : %d", j.RowCount),
			fmt.Sprintf("Output : %s", j.OutputPath),
		}
		if j.Err != "" {
			lines = append(lines, "Error  : "+j.Err)
		}
		right = lipgloss.JoinVertical(lipgloss.Left, right,
			styles.CardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		statusLine(s, props.SpinnerView),
		lipgloss.JoinHorizontal(lipgloss.Top, props.FormView, right),
		errorLine(s),
		styles.HintStyle.Render("[Tab] Next field • [Enter] Export • [Ctrl+X] Cancel • [Esc] Back"),
	)
}
