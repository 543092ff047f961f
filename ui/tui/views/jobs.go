package views

import (
	"analysisops/ui/tui/state"
	"analysisops/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

type JobsView struct{}

func (v JobsView) Render(s state.AppState, props ViewProps) string {
	header := MenuHeaderStyle.Width(props.Width).Render("Job History")

	content := props.TableView
	if len(s.Jobs) == 0 {
		content = "No jobs recorded."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.NewStyle().Padding(1, 2).Render(content),
		errorLine(s),
		styles.HintStyle.Render("[r] Refresh • [↑/↓] Scroll • [b] Back"),
	)
}
