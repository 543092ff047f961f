package views

import (
	"fmt"
	"strings"

	"analysisops/ui/tui/state"
	"analysisops/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

type DeployView struct{}

func (v DeployView) Render(s state.AppState, props ViewProps) string {
	header := MenuHeaderStyle.Width(props.Width).Render("Deployment")

	probes := "Press Ctrl+S to check."
	if st := s.DeployStatus; st != nil {
		row := func(label, val string) string {
			return fmt.Sprintf("%-16s %s", label, ColorForStatus(val).Render(val))
		}
		probes = strings.Join([]string{
			row("Installed", st.Installed.String()),
			row("Unit file", st.ServiceExists.String()),
			row("Service active", st.ServiceRunning.String()),
			row("Service enabled", st.ServiceEnabled.String()),
		}, "\n")
	}
	statusCard := styles.CardStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Bold(true).Render("Installation"),
		probes,
	))

	body := []string{
		header,
		statusLine(s, props.SpinnerView),
		lipgloss.JoinHorizontal(lipgloss.Top, props.FormView, statusCard),
	}
	if r := s.DeployResult; r != nil {
		phase := string(r.State)
		title := fmt.Sprintf("Last deployment: %s • %d files • %d bytes",
			ColorForStatus(phase).Render(phase), r.FilesTransferred, r.BytesTransferred)
		logs := r.Logs
		if limit := props.Height - 24; limit > 3 && len(logs) > limit {
			logs = logs[len(logs)-limit:]
		}
		body = append(body, lipgloss.NewStyle().PaddingLeft(2).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(logs, "\n"))))
	}
	body = append(body,
		errorLine(s),
		styles.HintStyle.Render("[Tab] Next field • [Enter] Deploy • [Ctrl+S] Status • [Esc] Back"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, body...)
}
