package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SCHEMA SQL
// =============================================================================

const SchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
  job_id        VARCHAR PRIMARY KEY,
  kind          VARCHAR NOT NULL,
  target        VARCHAR,
  detail        VARCHAR,
  output_path   VARCHAR,
  status        VARCHAR NOT NULL,
  row_count     BIGINT NOT NULL DEFAULT 0,
  bytes         BIGINT NOT NULL DEFAULT 0,
  error         VARCHAR,
  started_at    TIMESTAMP NOT NULL,
  completed_at  TIMESTAMP
);
`

// Job kinds recorded in the ledger.
const (
	KindExportWideTable     = "export_wide_table"
	KindExportDemandResults = "export_demand_results"
	KindDeploy              = "deploy"
)

// Job is one ledger row.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Target      string     `json:"target,omitempty"` // user@host:port
	Detail      string     `json:"detail,omitempty"`
	OutputPath  string     `json:"output_path,omitempty"`
	Status      string     `json:"status"`
	Rows        int64      `json:"rows"`
	Bytes       int64      `json:"bytes"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ErrJobNotFound is returned by FinishJob for an unknown ID.
var ErrJobNotFound = errors.New("job not found")

// =============================================================================
// REPO
// =============================================================================

// Repo reads and writes the jobs table.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("migrate jobs: %w", err)
	}
	return nil
}

// InsertJob records a job that has started.
func (r *Repo) InsertJob(ctx context.Context, j Job) error {
	if j.ID == "" || j.Kind == "" {
		return errors.New("job id and kind required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs(job_id, kind, target, detail, output_path, status, row_count, bytes, error, started_at)
		VALUES(?,?,?,?,?,?,?,?,?,?)
	`, j.ID, j.Kind, nullEmpty(j.Target), nullEmpty(j.Detail), nullEmpty(j.OutputPath),
		j.Status, j.Rows, j.Bytes, nullEmpty(j.Error), j.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

// FinishJob stores the terminal state of a job.
func (r *Repo) FinishJob(ctx context.Context, id, status string, rows, bytes int64, errMsg string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, row_count = ?, bytes = ?, error = ?, completed_at = ?
		WHERE job_id = ?
	`, status, rows, bytes, nullEmpty(errMsg), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

// QueryJobs returns the most recent jobs, newest first. An empty kind matches all.
func (r *Repo) QueryJobs(ctx context.Context, kind string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500 // Safety limit
	}

	query := `
		SELECT job_id, kind, COALESCE(target, ''), COALESCE(detail, ''), COALESCE(output_path, ''),
		       status, row_count, bytes, COALESCE(error, ''), started_at, completed_at
		FROM jobs
		WHERE 1=1
	`
	args := []any{}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY started_at DESC, job_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs failed: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		var j Job
		var completed sql.NullTime
		if err := rows.Scan(&j.ID, &j.Kind, &j.Target, &j.Detail, &j.OutputPath,
			&j.Status, &j.Rows, &j.Bytes, &j.Error, &j.StartedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan job failed: %w", err)
		}
		if completed.Valid {
			t := completed.Time
			j.CompletedAt = &t
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return jobs, nil
}

// CountByStatus summarises the ledger.
func (r *Repo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs failed: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count failed: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
