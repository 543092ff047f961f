package views

import (
	"analysisops/ui/tui/state"
)

// Render draws any operation page from prepared component views.
func Render(s state.AppState, props ViewProps) string {
	var v View
	switch s.CurrentPage {
	case state.PageSession:
		v = SessionView{}
	case state.PageQuery:
		v = QueryView{}
	case state.PageExport:
		v = ExportView{}
	case state.PageDeploy:
		v = DeployView{}
	case state.PageJobs:
		v = JobsView{}
	case state.PageConsole:
		v = ConsoleView{}
	default:
		v = MenuView{}
	}
	return v.Render(s, props)
}
