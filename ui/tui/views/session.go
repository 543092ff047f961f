package views

import (
	"fmt"

	"analysisops/ui/tui/state"
	"analysisops/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
)

type SessionView struct{}

func (v SessionView) Render(s state.AppState, props ViewProps) string {
	header := MenuHeaderStyle.Width(props.Width).Render("Session")

	target := s.Session.Target
	if target == "" {
		target = "-"
	}
	info := fmt.Sprintf("State  : %s\nTarget : %s",
		ColorForStatus(s.Session.State).Render(s.Session.State), target)
	if s.Session.Reason != "" {
		info += "\nReason : " + s.Session.Reason
	}
	card := zone.Mark("session_card", styles.CardStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.NewStyle().Bold(true).Render("Remote Host"),
			info,
		),
	))

	return zone.Scan(lipgloss.JoinVertical(lipgloss.Left,
		header,
		statusLine(s, props.SpinnerView),
		lipgloss.JoinHorizontal(lipgloss.Top, props.FormView, card),
		errorLine(s),
		styles.HintStyle.Render("[Tab] Next field • [Enter] Connect • [Ctrl+D] Disconnect • [Esc] Back"),
	))
}
