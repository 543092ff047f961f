package query

import (
	"time"

	"analysisops/internal/schema"
)

// Request describes one query or export. Start and End are Unix seconds,
// both inclusive.
type Request struct {
	DBPath          string      `json:"db_path"`
	Start           int64       `json:"start_time"`
	End             int64       `json:"end_time"`
	DeviceSerial    string      `json:"device_serial,omitempty"`
	IncludeExtended bool        `json:"include_ext,omitempty"`
	Kind            schema.Kind `json:"query_kind"`
}

// RangeMillis converts the request window to the table's millisecond key,
// covering the whole last second.
func (r Request) RangeMillis() (int64, int64) {
	return r.Start * 1000, r.End*1000 + 999
}

// Row is one record keyed by column name. Missing columns hold nil.
type Row map[string]any

// Result is the outcome of an interactive query.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      []Row    `json:"rows"`
	TotalRows int      `json:"totalRows"`
	Truncated bool     `json:"truncated,omitempty"`
	Missing   []string `json:"missing,omitempty"`
}

// JobStatus is the lifecycle state of an export job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// ExportJob tracks one export from start to a terminal state.
type ExportJob struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"` // "export_wide_table" or "export_demand_results"
	Request     Request    `json:"request"`
	OutputPath  string     `json:"output_path"`
	RowCount    int64      `json:"row_count"`
	Status      JobStatus  `json:"status"`
	Err         string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Finish moves the job to its terminal state based on err.
func (j *ExportJob) Finish(rows int64, err error, now time.Time) {
	j.RowCount = rows
	j.CompletedAt = &now
	switch {
	case err == nil:
		j.Status = JobCompleted
	case IsKind(err, KindCanceled):
		j.Status = JobCanceled
		j.Err = err.Error()
	default:
		j.Status = JobFailed
		j.Err = err.Error()
	}
}

// TableStat is one table reported by TableInfo.
type TableStat struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

// TableInfo summarises the remote database.
type TableInfo struct {
	Tables  []TableStat `json:"tables"`
	Columns int         `json:"wide_table_columns"`
	MinTime *int64      `json:"min_time,omitempty"` // ms
	MaxTime *int64      `json:"max_time,omitempty"` // ms
}
