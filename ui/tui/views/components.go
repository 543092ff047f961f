package views

import (
	"fmt"

	"analysisops/ui/tui/state"
	"analysisops/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

// ColorForStatus picks the badge color for session, job and probe states.
func ColorForStatus(status string) lipgloss.Style {
	sStyle := styles.StatusStyle
	switch status {
	case "connected", "completed", "succeeded", "yes":
		return sStyle.Foreground(styles.Good)
	case "failed", "canceled", "no":
		return sStyle.Foreground(styles.Bad)
	}
	return sStyle.Foreground(styles.Warning)
}

// statusLine is the header strip shared by the operation pages.
func statusLine(s state.AppState, spinner string) string {
	sess := ColorForStatus(s.Session.State).Render(s.Session.State)
	if s.Session.Target != "" {
		sess += " " + s.Session.Target
	}
	line := fmt.Sprintf(" Session: %s", sess)
	if s.Running != "" {
		line = spinner + line + fmt.Sprintf(" • running %s (ctrl+x cancels)", s.Running)
	}
	return line
}

// errorLine renders the last error, if any.
func errorLine(s state.AppState) string {
	if s.Err == nil {
		return ""
	}
	return styles.ErrorStyle.Render("Error: " + s.Err.Error())
}
