package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"analysisops/internal/config"
	"analysisops/internal/deploy"
	"analysisops/internal/events"
	"analysisops/internal/query"
	"analysisops/internal/schema"
	"analysisops/internal/store"
	"analysisops/internal/transport"
)

// ============================================================================
// MOCKS
// ============================================================================

var paramsRe = regexp.MustCompile(`b64decode\("([^"]+)"\)`)

// MockSession answers the remote helper with one wide-table row and every
// shell command with a healthy installation.
type MockSession struct {
	mu      sync.Mutex
	target  transport.Target
	closed  bool
	gate    chan struct{} // Execute blocks on it when set
	entered chan struct{}
	once    sync.Once
	stmts   []string
	runs    []string
}

func (m *MockSession) Execute(ctx context.Context, command string) (transport.Stream, error) {
	if m.entered != nil {
		m.once.Do(func() { close(m.entered) })
	}
	if m.gate != nil {
		<-m.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var p struct {
		SQL string `json:"sql"`
	}
	match := paramsRe.FindStringSubmatch(command)
	if match == nil {
		return nil, errors.New("no helper params")
	}
	raw, _ := base64.StdEncoding.DecodeString(match[1])
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.stmts = append(m.stmts, p.SQL)
	m.mu.Unlock()

	var out string
	switch {
	case strings.HasPrefix(p.SQL, "PRAGMA"):
		out = `{"columns":["cid","name","type","notnull","dflt_value","pk"]}` + "\n" +
			`[0,"local_timestamp","INTEGER",0,null,0]` + "\n" +
			`[1,"METER001_active_power","REAL",0,null,0]` + "\n" + `{"done":2}` + "\n"
	case strings.HasPrefix(p.SQL, "SELECT name FROM sqlite_master"):
		out = `{"columns":["name"]}` + "\n" + `["wide_table"]` + "\n" + `{"done":1}` + "\n"
	case strings.HasPrefix(p.SQL, "SELECT COUNT(*)"):
		out = `{"columns":["n"]}` + "\n" + `[1]` + "\n" + `{"done":1}` + "\n"
	case strings.HasPrefix(p.SQL, "SELECT MIN("):
		out = `{"columns":["min","max"]}` + "\n" + `[1704070000000,1704070000000]` + "\n" + `{"done":1}` + "\n"
	default:
		out = `{"columns":["local_timestamp","METER001_active_power"]}` + "\n" +
			`[1704070000000,120.5]` + "\n" + `{"done":1}` + "\n"
	}
	return &mockStream{stdout: out}, nil
}

func (m *MockSession) Run(ctx context.Context, cmd string) (transport.Result, error) {
	if err := ctx.Err(); err != nil {
		return transport.Result{}, err
	}
	m.mu.Lock()
	m.runs = append(m.runs, cmd)
	m.mu.Unlock()
	switch {
	case strings.HasPrefix(cmd, "systemctl is-active"):
		return transport.Result{Stdout: "active\n"}, nil
	case strings.HasPrefix(cmd, "systemctl is-enabled"):
		return transport.Result{Stdout: "enabled\n"}, nil
	}
	return transport.Result{}, nil
}

func (m *MockSession) Upload(ctx context.Context, local, remote string) (int64, error) {
	info, err := os.Stat(local)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (m *MockSession) Download(ctx context.Context, remote, local string) (int64, error) {
	return 0, os.WriteFile(local, []byte("remote"), 0o644)
}

func (m *MockSession) Target() transport.Target { return m.target }

func (m *MockSession) State() (transport.State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return transport.StateDisconnected, ""
	}
	return transport.StateConnected, ""
}

func (m *MockSession) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MockSession) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockStream struct {
	stdout string
}

func (s *mockStream) Stdout() io.Reader  { return strings.NewReader(s.stdout) }
func (s *mockStream) Stderr() io.Reader  { return strings.NewReader("") }
func (s *mockStream) Wait() (int, error) { return 0, nil }
func (s *mockStream) Close() error       { return nil }

// MockJobs is an in-memory ledger.
type MockJobs struct {
	mu   sync.Mutex
	jobs map[string]store.Job
}

func (m *MockJobs) InsertJob(ctx context.Context, j store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs == nil {
		m.jobs = map[string]store.Job{}
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *MockJobs) FinishJob(ctx context.Context, id, status string, rows, bytes int64, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	j.Status, j.Rows, j.Bytes, j.Error, j.CompletedAt = status, rows, bytes, errMsg, &at
	m.jobs[id] = j
	return nil
}

func (m *MockJobs) QueryJobs(ctx context.Context, kind string, limit int) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Job{}
	for _, j := range m.jobs {
		if kind == "" || j.Kind == kind {
			out = append(out, j)
		}
	}
	return out, nil
}

// ============================================================================
// FIXTURES
// ============================================================================

var testTarget = transport.Target{Host: "10.0.0.5", Username: "ops", Password: "secret"}

func newTestService(t *testing.T, sessions ...*MockSession) (*Service, *MockJobs) {
	t.Helper()
	mapping, err := schema.ParseFieldMapping([]byte("[[device_types.meter.fields]]\nname = \"active_power\"\n"))
	if err != nil {
		t.Fatalf("ParseFieldMapping() error: %v", err)
	}
	topo := schema.NewTopology(map[string]string{"METER001": "meter"})

	jobs := &MockJobs{}
	next := 0
	dial := func(ctx context.Context, target transport.Target, opts transport.Options, emit events.Emitter) (Session, error) {
		if next >= len(sessions) {
			return nil, &transport.ConnectError{Kind: transport.ConnectNetwork, Addr: target.Addr(), Err: errors.New("connection refused")}
		}
		s := sessions[next]
		s.target = target
		next++
		return s, nil
	}
	s := New(config.Default(), mapping, topo, WithDialer(dial), WithJobStore(jobs))
	t.Cleanup(func() { _ = s.Close() })
	return s, jobs
}

func connected(t *testing.T, sess *MockSession) (*Service, *MockJobs) {
	t.Helper()
	s, jobs := newTestService(t, sess)
	if _, err := s.Connect(context.Background(), testTarget); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	return s, jobs
}

func exportRequest() query.Request {
	return query.Request{DBPath: "/data/analysis.db", Start: 1704070000, End: 1704070000, DeviceSerial: "METER001", Kind: schema.KindDevice}
}

// ============================================================================
// SESSION
// ============================================================================

func TestService_NotConnected(t *testing.T) {
	s, _ := newTestService(t)

	if info := s.Info(); info.State != "disconnected" {
		t.Errorf("Info() = %+v", info)
	}
	if _, err := s.ExecuteQuery(context.Background(), exportRequest()); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("ExecuteQuery() error = %v, want ErrNotConnected", err)
	}
	if _, err := s.CheckDeployStatus(context.Background()); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("CheckDeployStatus() error = %v, want ErrNotConnected", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect() without session = %v", err)
	}
}

func TestService_ConnectReplacesSession(t *testing.T) {
	first, second := &MockSession{}, &MockSession{}
	s, _ := newTestService(t, first, second)
	ctx := context.Background()

	info, err := s.Connect(ctx, testTarget)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if info.State != "connected" || info.Target != "ops@10.0.0.5:22" {
		t.Errorf("Info = %+v", info)
	}

	other := testTarget
	other.Host = "10.0.0.6"
	if _, err := s.Connect(ctx, other); err != nil {
		t.Fatalf("second Connect() error: %v", err)
	}
	if !first.isClosed() {
		t.Error("previous session was not closed")
	}
	if got := s.Info().Target; got != "ops@10.0.0.6:22" {
		t.Errorf("target = %q", got)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if !second.isClosed() || s.Info().State != "disconnected" {
		t.Error("Disconnect() left the session open")
	}
}

func TestService_ConnectFailure(t *testing.T) {
	s, _ := newTestService(t)

	info, err := s.Connect(context.Background(), testTarget)
	var ce *transport.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("Connect() error = %v, want *ConnectError", err)
	}
	if info.State != "failed" || info.Reason == "" {
		t.Errorf("Info = %+v", info)
	}
	if s.Info().State != "disconnected" {
		t.Error("failed connect left a session behind")
	}
}

func TestService_FailedConnectKeepsSession(t *testing.T) {
	first := &MockSession{}
	s, _ := newTestService(t, first)
	ctx := context.Background()

	if _, err := s.Connect(ctx, testTarget); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	other := testTarget
	other.Host = "10.0.0.99"
	if _, err := s.Connect(ctx, other); err == nil {
		t.Fatal("second Connect() should fail")
	}
	if first.isClosed() {
		t.Error("failed connect closed the live session")
	}
	info := s.Info()
	if info.State != "connected" || info.Target != "ops@10.0.0.5:22" {
		t.Errorf("Info() after failed connect = %+v", info)
	}
}

func TestService_Busy(t *testing.T) {
	sess := &MockSession{gate: make(chan struct{}), entered: make(chan struct{})}
	s, _ := connected(t, sess)

	done := make(chan error, 1)
	go func() {
		_, err := s.ExecuteQuery(context.Background(), exportRequest())
		done <- err
	}()
	<-sess.entered

	if _, err := s.CheckDeployStatus(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("CheckDeployStatus() during query = %v, want ErrBusy", err)
	}
	if _, err := s.Connect(context.Background(), testTarget); !errors.Is(err, ErrBusy) {
		t.Errorf("Connect() during query = %v, want ErrBusy", err)
	}

	close(sess.gate)
	if err := <-done; err != nil {
		t.Fatalf("ExecuteQuery() error: %v", err)
	}
	if _, err := s.CheckDeployStatus(context.Background()); err != nil {
		t.Errorf("CheckDeployStatus() after query = %v", err)
	}
}

// ============================================================================
// QUERIES AND EXPORTS
// ============================================================================

func TestService_ExecuteQuery(t *testing.T) {
	s, _ := connected(t, &MockSession{})

	res, err := s.ExecuteQuery(context.Background(), exportRequest())
	if err != nil {
		t.Fatalf("ExecuteQuery() error: %v", err)
	}
	if res.TotalRows != 1 || res.Rows[0]["METER001_active_power"] != 120.5 {
		t.Errorf("result = %+v", res)
	}
}

func TestService_ExportWideTable(t *testing.T) {
	sess := &MockSession{}
	s, jobs := connected(t, sess)
	out := filepath.Join(t.TempDir(), "export.csv")

	job, err := s.ExportWideTable(context.Background(), exportRequest(), out)
	if err != nil {
		t.Fatalf("ExportWideTable() error: %v", err)
	}
	if job.Status != query.JobCompleted || job.RowCount != 1 || job.CompletedAt == nil {
		t.Errorf("job = %+v", job)
	}
	if job.Request.Kind != schema.KindWideTable {
		t.Errorf("kind = %q", job.Request.Kind)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	want := "local_timestamp,METER001_active_power\n2024-01-01 08:46:40,120.5\n"
	if string(got) != want {
		t.Errorf("csv =\n%s\nwant\n%s", got, want)
	}

	recorded, _ := s.History(context.Background(), store.KindExportWideTable, 10)
	if len(recorded) != 1 {
		t.Fatalf("ledger = %+v", jobs.jobs)
	}
	if r := recorded[0]; r.ID != job.ID || r.Status != "completed" || r.Rows != 1 || r.Target != "ops@10.0.0.5:22" {
		t.Errorf("ledger job = %+v", r)
	}
}

func TestService_ExportRejected(t *testing.T) {
	s, jobs := connected(t, &MockSession{})
	ctx := context.Background()

	bad := exportRequest()
	bad.DBPath = ""
	_, err := s.ExportDemandResults(ctx, bad, filepath.Join(t.TempDir(), "x.csv"))
	var ve *query.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if _, err := s.ExportWideTable(ctx, exportRequest(), ""); !errors.As(err, &ve) {
		t.Errorf("empty output path error = %v", err)
	}
	if _, err := s.StartExport(ctx, "export_everything", exportRequest(), "x.csv"); !errors.As(err, &ve) {
		t.Errorf("unknown kind error = %v", err)
	}
	if len(jobs.jobs) != 0 {
		t.Errorf("rejected exports recorded: %+v", jobs.jobs)
	}

	// the session is free again
	if _, err := s.CheckDeployStatus(ctx); err != nil {
		t.Errorf("CheckDeployStatus() = %v", err)
	}
}

func TestService_ExportCanceled(t *testing.T) {
	s, jobs := connected(t, &MockSession{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := filepath.Join(t.TempDir(), "export.csv")
	job, err := s.ExportWideTable(ctx, exportRequest(), out)
	if !query.IsKind(err, query.KindCanceled) {
		t.Fatalf("error = %v, want canceled", err)
	}
	if job.Status != query.JobCanceled {
		t.Errorf("status = %q", job.Status)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("canceled export left a file")
	}
	if got := jobs.jobs[job.ID].Status; got != "canceled" {
		t.Errorf("ledger status = %q, want canceled", got)
	}
}

func TestService_StartExportRunsInBackground(t *testing.T) {
	sess := &MockSession{gate: make(chan struct{}), entered: make(chan struct{})}
	s, _ := connected(t, sess)

	task, err := s.StartExport(context.Background(), store.KindExportWideTable, exportRequest(), filepath.Join(t.TempDir(), "x.csv"))
	if err != nil {
		t.Fatalf("StartExport() error: %v", err)
	}
	<-sess.entered
	if _, err := s.ExecuteQuery(context.Background(), exportRequest()); !errors.Is(err, ErrBusy) {
		t.Errorf("query during export = %v, want ErrBusy", err)
	}
	select {
	case <-task.Done():
		t.Fatal("task finished before the remote answered")
	default:
	}

	task.Cancel()
	close(sess.gate)
	job, err := task.Wait()
	if err == nil || job.Status != query.JobCanceled {
		t.Errorf("job = %+v, err = %v", job, err)
	}
}

// ============================================================================
// DEPLOYMENTS
// ============================================================================

func TestService_CheckDeployStatus(t *testing.T) {
	s, _ := connected(t, &MockSession{})

	st, err := s.CheckDeployStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := deploy.Status{Installed: deploy.ProbeTrue, ServiceExists: deploy.ProbeTrue, ServiceRunning: deploy.ProbeTrue, ServiceEnabled: deploy.ProbeTrue}
	if st != want {
		t.Errorf("status = %+v, want %+v", st, want)
	}
}

func TestService_DeployApplication(t *testing.T) {
	sess := &MockSession{}
	s, _ := connected(t, sess)
	local := filepath.Join(t.TempDir(), "analysis-collector")
	if err := os.WriteFile(local, []byte("binary"), 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := s.DeployApplication(context.Background(), deploy.Request{
		Files:          []deploy.File{{LocalPath: local, RemotePath: "/opt/analysis/analysis-collector"}},
		UseRoot:        true,
		RestartService: true,
	})
	if err != nil {
		t.Fatalf("DeployApplication() error: %v", err)
	}
	if !res.Success || res.FilesTransferred != 1 || res.BytesTransferred != 6 {
		t.Errorf("result = %+v", res)
	}

	recorded, _ := s.History(context.Background(), store.KindDeploy, 10)
	if len(recorded) != 1 || recorded[0].Status != "completed" || recorded[0].Bytes != 6 {
		t.Errorf("ledger = %+v", recorded)
	}
	if !strings.Contains(recorded[0].Detail, "+restart") {
		t.Errorf("detail = %q", recorded[0].Detail)
	}
}

func TestService_DeployFailureRecorded(t *testing.T) {
	s, _ := connected(t, &MockSession{})

	res, err := s.DeployApplication(context.Background(), deploy.Request{
		Files: []deploy.File{{LocalPath: "/nonexistent/file", RemotePath: "relative/path"}},
	})
	if err == nil || res.Success {
		t.Fatalf("invalid deploy succeeded: %+v", res)
	}
	recorded, _ := s.History(context.Background(), store.KindDeploy, 10)
	if len(recorded) != 1 || recorded[0].Status != "failed" || recorded[0].Error == "" {
		t.Errorf("ledger = %+v", recorded)
	}
}

// ============================================================================
// EVENTS
// ============================================================================

func TestService_EventsHistory(t *testing.T) {
	mapping, _ := schema.ParseFieldMapping([]byte("[[device_types.meter.fields]]\nname = \"active_power\"\n"))
	sess := &MockSession{}
	s := New(config.Default(), mapping, schema.NewTopology(nil), WithDialer(
		func(ctx context.Context, target transport.Target, opts transport.Options, emit events.Emitter) (Session, error) {
			sess.target = target
			return sess, nil
		}))

	if _, err := s.Connect(context.Background(), testTarget); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	var lines []string
	for _, ev := range s.Events().History() {
		lines = append(lines, ev.Message)
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"connecting to ops@10.0.0.5:22", "connected to ops@10.0.0.5:22", "disconnecting from ops@10.0.0.5:22"} {
		if !strings.Contains(joined, want) {
			t.Errorf("history missing %q:\n%s", want, joined)
		}
	}
	if !sess.isClosed() {
		t.Error("Close() left the session open")
	}
	if jobs, _ := s.History(context.Background(), "", 0); len(jobs) != 0 {
		t.Errorf("History() without ledger = %+v", jobs)
	}
}
