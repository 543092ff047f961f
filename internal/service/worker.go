package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"analysisops/internal/deploy"
	"analysisops/internal/preflight"
	"analysisops/internal/query"
	"analysisops/internal/schema"
	"analysisops/internal/store"
)

// Task is a long operation running on a worker goroutine.
type Task[T any] struct {
	id     string
	done   chan struct{}
	cancel context.CancelFunc
	result T
	err    error
}

func newTask[T any](ctx context.Context) (*Task[T], context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Task[T]{id: uuid.NewString(), done: make(chan struct{}), cancel: cancel}, ctx
}

// ID is also the job ID in the ledger.
func (t *Task[T]) ID() string { return t.id }

// Done is closed when the task has finished.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Cancel asks the task to stop. The outcome is still reported by Wait.
func (t *Task[T]) Cancel() { t.cancel() }

// Wait blocks until the task finishes.
func (t *Task[T]) Wait() (T, error) {
	<-t.done
	return t.result, t.err
}

// spawn runs fn on a worker that owns the session until it returns.
func spawn[T any](s *Service, t *Task[T], fn func() (T, error)) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer s.release()
		defer close(t.done)
		defer t.cancel()
		t.result, t.err = fn()
	}()
}

// =============================================================================
// EXPORTS
// =============================================================================

// StartExport validates the request and starts an export in the background.
// kind is store.KindExportWideTable or store.KindExportDemandResults.
func (s *Service) StartExport(ctx context.Context, kind string, req query.Request, outputPath string) (*Task[query.ExportJob], error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	sess, err := s.session()
	if err != nil {
		s.release()
		return nil, err
	}

	eng := s.engine(sess)
	run := eng.ExportWideTable
	switch kind {
	case store.KindExportWideTable:
		req.Kind = schema.KindWideTable
	case store.KindExportDemandResults:
		req.Kind = schema.KindDemand
		run = eng.ExportDemandResults
	default:
		s.release()
		return nil, &query.ValidationError{Entries: []string{"unknown export kind " + kind}}
	}
	if err := eng.Validate(req); err != nil {
		s.release()
		return nil, err
	}
	if outputPath == "" {
		s.release()
		return nil, &query.ValidationError{Entries: []string{"output_path is required"}}
	}

	task, ctx := newTask[query.ExportJob](ctx)
	job := query.ExportJob{
		ID:         task.id,
		Kind:       kind,
		Request:    req,
		OutputPath: outputPath,
		Status:     query.JobRunning,
		StartedAt:  s.now(),
	}
	target := sess.Target().String()

	spawn(s, task, func() (query.ExportJob, error) {
		s.record(ctx, store.Job{
			ID: job.ID, Kind: kind, Target: target, Detail: req.Describe(),
			OutputPath: outputPath, Status: string(job.Status), StartedAt: job.StartedAt,
		})

		if r, err := preflight.CheckDestination(ctx, outputPath, s.cfg.Query.MinFreeBytes); err != nil {
			s.events.Warnf(kind, "preflight: %v", err)
		} else if r.Low {
			s.events.Warnf(kind, "low disk space at destination: %s", r)
		} else {
			s.events.Logf(kind, "destination %s", r)
		}

		rows, err := run(ctx, req, outputPath)
		job.Finish(rows, err, s.now())
		s.finish(ctx, job.ID, string(job.Status), job.RowCount, 0, job.Err)
		return job, err
	})
	return task, nil
}

// ExportWideTable runs a wide-table export and waits for it.
func (s *Service) ExportWideTable(ctx context.Context, req query.Request, outputPath string) (query.ExportJob, error) {
	t, err := s.StartExport(ctx, store.KindExportWideTable, req, outputPath)
	if err != nil {
		return query.ExportJob{}, err
	}
	return t.Wait()
}

// ExportDemandResults runs a demand export and waits for it.
func (s *Service) ExportDemandResults(ctx context.Context, req query.Request, outputPath string) (query.ExportJob, error) {
	t, err := s.StartExport(ctx, store.KindExportDemandResults, req, outputPath)
	if err != nil {
		return query.ExportJob{}, err
	}
	return t.Wait()
}

// =============================================================================
// DEPLOYMENTS
// =============================================================================

// StartDeploy starts a deployment in the background.
func (s *Service) StartDeploy(ctx context.Context, req deploy.Request) (*Task[deploy.Result], error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	sess, err := s.session()
	if err != nil {
		s.release()
		return nil, err
	}

	task, ctx := newTask[deploy.Result](ctx)
	target := sess.Target().String()
	orch := s.orchestrator(sess)

	spawn(s, task, func() (deploy.Result, error) {
		s.record(ctx, store.Job{
			ID: task.id, Kind: store.KindDeploy, Target: target, Detail: describeDeploy(req),
			Status: string(query.JobRunning), StartedAt: s.now(),
		})

		res, err := orch.Deploy(ctx, req)
		status := query.JobCompleted
		switch {
		case err == nil:
		case ctx.Err() != nil:
			status = query.JobCanceled
		default:
			status = query.JobFailed
		}
		s.finish(ctx, task.id, string(status), int64(res.FilesTransferred), res.BytesTransferred, res.Error)
		return res, err
	})
	return task, nil
}

// DeployApplication runs a deployment and waits for it.
func (s *Service) DeployApplication(ctx context.Context, req deploy.Request) (deploy.Result, error) {
	t, err := s.StartDeploy(ctx, req)
	if err != nil {
		return deploy.Result{}, err
	}
	return t.Wait()
}

func describeDeploy(req deploy.Request) string {
	var parts []string
	for _, f := range req.Files {
		parts = append(parts, f.RemotePath)
	}
	d := strings.Join(parts, ",")
	if req.RestartService {
		d += " +restart"
	}
	if req.InstallUnit {
		d += " +unit"
	}
	return d
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger writes never fail the operation; they outlive its cancellation.
func (s *Service) record(ctx context.Context, j store.Job) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.InsertJob(context.WithoutCancel(ctx), j); err != nil {
		s.events.Warnf(j.Kind, "job ledger: %v", err)
	}
}

func (s *Service) finish(ctx context.Context, id, status string, rows, bytes int64, errMsg string) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.FinishJob(context.WithoutCancel(ctx), id, status, rows, bytes, errMsg, s.now()); err != nil {
		s.events.Warnf("jobs", "job ledger: %v", err)
	}
}
