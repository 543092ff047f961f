package mcpserver

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"analysisops/internal/deploy"
	"analysisops/internal/events"
	"analysisops/internal/query"
	"analysisops/internal/service"
	"analysisops/internal/store"
	"analysisops/internal/transport"
)

// MockOperations implements Operations for testing
type MockOperations struct {
	Target    transport.Target
	Request   query.Request
	Output    string
	Deploy    deploy.Request
	HistKind  string
	HistLimit int

	QueryResult  *query.Result
	DeployResult deploy.Result
	Status       deploy.Status
	Jobs         []store.Job
	Err          error

	reporter *events.Reporter
}

func (m *MockOperations) Connect(ctx context.Context, target transport.Target) (service.SessionInfo, error) {
	m.Target = target
	if m.Err != nil {
		return service.SessionInfo{}, m.Err
	}
	return service.SessionInfo{State: "connected", Target: target.String()}, nil
}

func (m *MockOperations) Disconnect() error { return m.Err }

func (m *MockOperations) Info() service.SessionInfo {
	return service.SessionInfo{State: "disconnected"}
}

func (m *MockOperations) ExecuteQuery(ctx context.Context, req query.Request) (*query.Result, error) {
	m.Request = req
	return m.QueryResult, m.Err
}

func (m *MockOperations) TableInfo(ctx context.Context, dbPath string) (*query.TableInfo, error) {
	m.Request.DBPath = dbPath
	return &query.TableInfo{Tables: []query.TableStat{{Name: "wide_table", Rows: 3}}, Columns: 2}, m.Err
}

func (m *MockOperations) export(kind string, req query.Request, out string) (query.ExportJob, error) {
	m.Request, m.Output = req, out
	if m.Err != nil {
		return query.ExportJob{}, m.Err
	}
	return query.ExportJob{ID: "job-1", Kind: kind, Request: req, OutputPath: out, RowCount: 7, Status: query.JobCompleted}, nil
}

func (m *MockOperations) ExportWideTable(ctx context.Context, req query.Request, out string) (query.ExportJob, error) {
	return m.export(store.KindExportWideTable, req, out)
}

func (m *MockOperations) ExportDemandResults(ctx context.Context, req query.Request, out string) (query.ExportJob, error) {
	return m.export(store.KindExportDemandResults, req, out)
}

func (m *MockOperations) CheckDeployStatus(ctx context.Context) (deploy.Status, error) {
	return m.Status, m.Err
}

func (m *MockOperations) DeployApplication(ctx context.Context, req deploy.Request) (deploy.Result, error) {
	m.Deploy = req
	return m.DeployResult, m.Err
}

func (m *MockOperations) History(ctx context.Context, kind string, limit int) ([]store.Job, error) {
	m.HistKind, m.HistLimit = kind, limit
	return m.Jobs, m.Err
}

func (m *MockOperations) Events() *events.Reporter {
	if m.reporter == nil {
		m.reporter = events.NewReporter(16, 16)
	}
	return m.reporter
}

func TestHandleConnect(t *testing.T) {
	mock := &MockOperations{}
	s := &Server{ops: mock}

	_, result, err := s.handleConnect(context.Background(), nil, ConnectArgs{Host: "10.0.0.5", Username: "ops", KeyFile: "/home/ops/.ssh/id_ed25519"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.State != "connected" || result.Target != "ops@10.0.0.5:22" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if mock.Target.KeyFile != "/home/ops/.ssh/id_ed25519" {
		t.Errorf("Key file not passed through: %+v", mock.Target)
	}

	if _, _, err := s.handleConnect(context.Background(), nil, ConnectArgs{Host: "10.0.0.5"}); err == nil {
		t.Error("Expected error for missing username")
	}
}

func TestHandleConnect_Error(t *testing.T) {
	mock := &MockOperations{Err: &transport.ConnectError{Kind: transport.ConnectAuth, Addr: "10.0.0.5:22", Err: errors.New("denied")}}
	s := &Server{ops: mock}

	_, _, err := s.handleConnect(context.Background(), nil, ConnectArgs{Host: "10.0.0.5", Username: "ops"})
	var ce *transport.ConnectError
	if !errors.As(err, &ce) || ce.Kind != transport.ConnectAuth {
		t.Errorf("Expected wrapped auth error, got: %v", err)
	}
}

func TestHandleExecuteQuery(t *testing.T) {
	mock := &MockOperations{QueryResult: &query.Result{
		Columns:   []string{"local_timestamp", "METER001_active_power"},
		Rows:      []query.Row{{"local_timestamp": int64(1704070000000), "METER001_active_power": 120.5}},
		TotalRows: 1,
	}}
	s := &Server{ops: mock}

	args := QueryArgs{DBPath: "/data/analysis.db", StartTime: 1704070000, EndTime: 1704070000, DeviceSerial: "METER001", QueryKind: "device"}
	_, result, err := s.handleExecuteQuery(context.Background(), nil, args)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.TotalRows != 1 {
		t.Errorf("Expected 1 row, got %d", result.TotalRows)
	}
	if mock.Request.Kind != "device" || mock.Request.Start != 1704070000 || mock.Request.DeviceSerial != "METER001" {
		t.Errorf("Request not mapped: %+v", mock.Request)
	}
}

func TestHandleExecuteQuery_Error(t *testing.T) {
	mock := &MockOperations{Err: service.ErrBusy}
	s := &Server{ops: mock}

	_, _, err := s.handleExecuteQuery(context.Background(), nil, QueryArgs{})
	if !errors.Is(err, service.ErrBusy) {
		t.Errorf("Expected ErrBusy, got: %v", err)
	}
}

func TestHandleExports(t *testing.T) {
	mock := &MockOperations{}
	s := &Server{ops: mock}
	args := ExportArgs{DBPath: "/data/analysis.db", StartTime: 1, EndTime: 2, OutputPath: "/tmp/out.csv"}

	_, result, err := s.handleExportWideTable(context.Background(), nil, args)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Job.Kind != store.KindExportWideTable || result.Job.RowCount != 7 || mock.Output != "/tmp/out.csv" {
		t.Errorf("Unexpected wide export: %+v", result.Job)
	}

	_, result, err = s.handleExportDemandResults(context.Background(), nil, args)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Job.Kind != store.KindExportDemandResults {
		t.Errorf("Unexpected demand export: %+v", result.Job)
	}

	mock.Err = &query.Error{Kind: query.KindConnectionLost, Message: "read helper output"}
	if _, _, err := s.handleExportWideTable(context.Background(), nil, args); !query.IsKind(err, query.KindConnectionLost) {
		t.Errorf("Expected connection lost, got: %v", err)
	}
}

func TestHandleCheckDeployStatus(t *testing.T) {
	mock := &MockOperations{Status: deploy.Status{
		Installed:      deploy.ProbeTrue,
		ServiceExists:  deploy.ProbeTrue,
		ServiceRunning: deploy.ProbeFalse,
		ServiceEnabled: deploy.ProbeUnknown,
	}}
	s := &Server{ops: mock}

	_, result, err := s.handleCheckDeployStatus(context.Background(), nil, EmptyArgs{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := StatusResult{Installed: "yes", ServiceExists: "yes", ServiceRunning: "no", ServiceEnabled: "unknown"}
	if result != want {
		t.Errorf("Expected %+v, got %+v", want, result)
	}
}

func TestHandleDeployApplication(t *testing.T) {
	st := deploy.Status{Installed: deploy.ProbeTrue, ServiceRunning: deploy.ProbeTrue}
	mock := &MockOperations{DeployResult: deploy.Result{
		Success: true, State: deploy.StateSucceeded, Logs: []string{"-> validating"},
		BytesTransferred: 142, FilesTransferred: 1, Status: &st,
	}}
	s := &Server{ops: mock}

	args := DeployArgs{
		Files:          []deploy.File{{LocalPath: "./bin/collector", RemotePath: "/opt/analysis/bin/analysis-collector"}},
		UseRoot:        true,
		RestartService: true,
	}
	_, result, err := s.handleDeployApplication(context.Background(), nil, args)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Success || result.State != "succeeded" || result.Status == nil || result.Status.Installed != "yes" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if !mock.Deploy.UseRoot || len(mock.Deploy.Files) != 1 {
		t.Errorf("Request not mapped: %+v", mock.Deploy)
	}
}

func TestHandleDeployApplication_FailureKeepsLogs(t *testing.T) {
	mock := &MockOperations{
		DeployResult: deploy.Result{State: deploy.StateFailed, Error: "boom", Logs: []string{"-> validating", "deployment failed"}},
		Err:          errors.New("boom"),
	}
	s := &Server{ops: mock}

	_, result, err := s.handleDeployApplication(context.Background(), nil, DeployArgs{})
	if err != nil {
		t.Fatalf("Expected failure in the result, got error: %v", err)
	}
	if result.Success || result.Error != "boom" || len(result.Logs) != 2 {
		t.Errorf("Unexpected result: %+v", result)
	}

	mock.DeployResult = deploy.Result{}
	mock.Err = transport.ErrNotConnected
	if _, _, err := s.handleDeployApplication(context.Background(), nil, DeployArgs{}); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got: %v", err)
	}
}

func TestHandleGetJobHistory_Limits(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, 20},
		{"within", 50, 50},
		{"clamped", 10000, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockOperations{Jobs: []store.Job{{ID: "a", Kind: store.KindDeploy, StartedAt: time.Now()}}}
			s := &Server{ops: mock}

			_, result, err := s.handleGetJobHistory(context.Background(), nil, HistoryArgs{Kind: store.KindDeploy, Limit: tt.limit})
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if mock.HistLimit != tt.want || mock.HistKind != store.KindDeploy {
				t.Errorf("Expected limit %d, got %d", tt.want, mock.HistLimit)
			}
			if len(result.Jobs) != 1 {
				t.Errorf("Expected 1 job, got %d", len(result.Jobs))
			}
		})
	}
}

func TestHandleGetRecentEvents(t *testing.T) {
	mock := &MockOperations{}
	rep := mock.Events()
	for i := 0; i < 5; i++ {
		rep.Logf("session", "line %d", i)
	}
	rep.Close()
	s := &Server{ops: mock}

	_, result, err := s.handleGetRecentEvents(context.Background(), nil, EventsArgs{Limit: 2})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(result.Events) != 2 || result.Events[1].Message != "line 4" {
		t.Errorf("Unexpected events: %+v", result.Events)
	}
}

// syncBuffer is a bytes.Buffer safe for the mirror goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEventLog_StartStop(t *testing.T) {
	mock := &MockOperations{}
	s := &Server{ops: mock}
	var out syncBuffer

	s.startEventLog(&out)
	s.startEventLog(&out) // second start is a no-op

	mock.Events().Warnf("deploy", "disk nearly full")
	mock.Events().Progress("export_wide_table", 50, 10)
	mock.Events().Close() // drains and closes the subscription
	s.logWg.Wait()
	s.stopEventLog()
	s.stopEventLog()

	got := out.String()
	if !strings.Contains(got, "WARN deploy: disk nearly full") {
		t.Errorf("Expected mirrored warning, got %q", got)
	}
	if strings.Contains(got, "rows") {
		t.Errorf("Progress should not be mirrored, got %q", got)
	}
}
