package state

import (
	"time"

	"analysisops/internal/deploy"
	"analysisops/internal/query"
	"analysisops/internal/service"
	"analysisops/internal/store"
)

type Page int

const (
	PageMenu    Page = iota
	PageSession      // connect / disconnect
	PageQuery        // interactive query with result table
	PageExport       // CSV export with progress chart
	PageDeploy       // status probes and deployment
	PageConsole      // live event log
	PageJobs         // job ledger
)

// AppState holds everything the views render. Only the controller mutates it.
type AppState struct {
	Session      service.SessionInfo
	Result       *query.Result
	Job          *query.ExportJob
	DeployStatus *deploy.Status
	DeployResult *deploy.Result
	Jobs         []store.Job
	Running      string // operation in flight, empty when idle
	LastUpdate   time.Time
	Err          error
	ConsoleLogs  []string
	CurrentPage  Page
}
