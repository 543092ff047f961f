package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"analysisops/internal/config"
	"analysisops/internal/deploy"
	"analysisops/internal/events"
	"analysisops/internal/query"
	"analysisops/internal/service"
	"analysisops/internal/store"
	"analysisops/internal/transport"
	"analysisops/ui/tui/state"

	tea "github.com/charmbracelet/bubbletea"
	zone "github.com/lrstanley/bubblezone"
)

var zoneOnce sync.Once

// MockBackend records calls and returns canned results.
type MockBackend struct {
	target   transport.Target
	request  query.Request
	output   string
	demand   bool
	deployed deploy.Request

	result       *query.Result
	job          query.ExportJob
	deployResult deploy.Result
	status       deploy.Status
	jobs         []store.Job
	err          error

	connected bool
	reporter  *events.Reporter
}

func (m *MockBackend) Connect(ctx context.Context, target transport.Target) (service.SessionInfo, error) {
	m.target = target
	if m.err != nil {
		return service.SessionInfo{State: "failed", Reason: m.err.Error(), Target: target.String()}, m.err
	}
	m.connected = true
	return m.Info(), nil
}

func (m *MockBackend) Disconnect() error {
	m.connected = false
	return nil
}

func (m *MockBackend) Info() service.SessionInfo {
	if !m.connected {
		return service.SessionInfo{State: "disconnected"}
	}
	return service.SessionInfo{State: "connected", Target: m.target.String()}
}

func (m *MockBackend) ExecuteQuery(ctx context.Context, req query.Request) (*query.Result, error) {
	m.request = req
	return m.result, m.err
}

func (m *MockBackend) TableInfo(ctx context.Context, dbPath string) (*query.TableInfo, error) {
	m.request.DBPath = dbPath
	lo, hi := int64(1704070000000), int64(1704070060000)
	return &query.TableInfo{Tables: []query.TableStat{{Name: "wide_table", Rows: 61}}, MinTime: &lo, MaxTime: &hi}, m.err
}

func (m *MockBackend) ExportWideTable(ctx context.Context, req query.Request, out string) (query.ExportJob, error) {
	m.request, m.output = req, out
	return m.job, m.err
}

func (m *MockBackend) ExportDemandResults(ctx context.Context, req query.Request, out string) (query.ExportJob, error) {
	m.demand = true
	return m.ExportWideTable(ctx, req, out)
}

func (m *MockBackend) CheckDeployStatus(ctx context.Context) (deploy.Status, error) {
	return m.status, m.err
}

func (m *MockBackend) DeployApplication(ctx context.Context, req deploy.Request) (deploy.Result, error) {
	m.deployed = req
	return m.deployResult, m.err
}

func (m *MockBackend) History(ctx context.Context, kind string, limit int) ([]store.Job, error) {
	return m.jobs, m.err
}

func (m *MockBackend) Events() *events.Reporter {
	if m.reporter == nil {
		m.reporter = events.NewReporter(16, 16)
	}
	return m.reporter
}

func newTestModel(b *MockBackend, page state.Page) *MainModel {
	// views mark clickable zones, which needs the global manager Init sets up
	zoneOnce.Do(zone.NewGlobal)
	m := InitialModel(b, config.Default().Query)
	m.state.CurrentPage = page
	return &m
}

// fill replaces form values on the current page.
func fill(m *MainModel, values map[string]string) {
	f := m.forms[m.state.CurrentPage]
	for k, v := range values {
		f.SetValue(k, v)
	}
}

// press sends a key and runs the returned command to completion.
func press(t *testing.T, m *MainModel, key tea.KeyMsg) {
	t.Helper()
	_, cmd := m.Update(key)
	if cmd == nil {
		t.Fatalf("key %q started nothing (err: %v)", key.String(), m.state.Err)
	}
	msg := cmd()
	if _, ok := msg.(OpDoneMsg); !ok {
		t.Fatalf("expected OpDoneMsg, got %T", msg)
	}
	m.Update(msg)
}

func TestConnectFromForm(t *testing.T) {
	b := &MockBackend{}
	m := newTestModel(b, state.PageSession)
	fill(m, map[string]string{"host": "10.0.0.5", "port": "2222", "user": "ops", "password": "pw"})

	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if b.target.Host != "10.0.0.5" || b.target.Port != 2222 || b.target.Password != "pw" {
		t.Fatalf("target not bound: %+v", b.target)
	}
	if m.state.Session.State != "connected" || m.state.Session.Target != "ops@10.0.0.5:2222" {
		t.Errorf("unexpected session: %+v", m.state.Session)
	}
	if m.state.Running != "" || m.state.Err != nil {
		t.Errorf("expected idle without error, got running=%q err=%v", m.state.Running, m.state.Err)
	}

	press(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})
	if m.state.Session.State != "disconnected" {
		t.Errorf("expected disconnected, got %+v", m.state.Session)
	}
}

func TestConnectFormValidation(t *testing.T) {
	m := newTestModel(&MockBackend{}, state.PageSession)
	fill(m, map[string]string{"host": "10.0.0.5", "port": "abc", "user": "ops"})

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatal("expected no command for an invalid port")
	}
	if m.state.Err == nil || !strings.Contains(m.state.Err.Error(), "port") {
		t.Errorf("expected port error, got %v", m.state.Err)
	}
}

func TestQueryFillsTable(t *testing.T) {
	b := &MockBackend{result: &query.Result{
		Columns:   []string{"local_timestamp", "METER001_active_power"},
		Rows:      []query.Row{{"local_timestamp": int64(1704070000000), "METER001_active_power": 120.5}},
		TotalRows: 1,
	}}
	m := newTestModel(b, state.PageQuery)
	fill(m, map[string]string{"db": "/data/a.db", "start": "1704070000", "end": "2024-01-01 08:47:40", "serial": "METER001"})

	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if b.request.Start != 1704070000 || b.request.End != 1704070060 || b.request.Kind != "device" {
		t.Fatalf("request not bound: %+v", b.request)
	}
	if m.state.Result == nil || m.state.Result.TotalRows != 1 {
		t.Fatalf("result not stored: %+v", m.state.Result)
	}
	rows := m.results.Rows()
	if len(rows) != 1 || rows[0][0] != "2024-01-01 08:46:40" || rows[0][1] != "120.5" {
		t.Errorf("unexpected table rows: %v", rows)
	}
}

func TestQueryBusyGuard(t *testing.T) {
	m := newTestModel(&MockBackend{}, state.PageQuery)
	m.state.Running = "export_wide_table"
	fill(m, map[string]string{"db": "/data/a.db", "start": "1", "end": "2"})

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatal("expected no command while another operation runs")
	}
	if m.state.Err == nil {
		t.Error("expected an error while busy")
	}
}

func TestTableInfo(t *testing.T) {
	b := &MockBackend{}
	m := newTestModel(b, state.PageQuery)
	fill(m, map[string]string{"db": "/data/a.db"})

	press(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})

	if b.request.DBPath != "/data/a.db" {
		t.Fatalf("db path not passed: %q", b.request.DBPath)
	}
	rows := m.results.Rows()
	if len(rows) != 2 || rows[0][0] != "wide_table" || rows[0][1] != "61" {
		t.Fatalf("unexpected table info rows: %v", rows)
	}
	if !strings.Contains(rows[1][1], "2024-01-01 08:46:40") {
		t.Errorf("expected time range row, got %v", rows[1])
	}
}

func TestExportKinds(t *testing.T) {
	tests := []struct {
		kind   string
		demand bool
	}{
		{"wide", false},
		{"demand", true},
	}
	for _, tt := range tests {
		b := &MockBackend{job: query.ExportJob{ID: "j1", Status: query.JobCompleted, RowCount: 61}}
		m := newTestModel(b, state.PageExport)
		fill(m, map[string]string{"kind": tt.kind, "db": "/data/a.db", "start": "1", "end": "2", "output": "/tmp/out.csv"})

		press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

		if b.demand != tt.demand || b.output != "/tmp/out.csv" {
			t.Errorf("%s: demand=%v output=%q", tt.kind, b.demand, b.output)
		}
		if m.state.Job == nil || m.state.Job.RowCount != 61 {
			t.Errorf("%s: job not stored: %+v", tt.kind, m.state.Job)
		}
	}

	m := newTestModel(&MockBackend{}, state.PageExport)
	fill(m, map[string]string{"kind": "sideways"})
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil || m.state.Err == nil {
		t.Error("expected unknown export kind to be rejected")
	}
}

func TestExportFailureKeepsJob(t *testing.T) {
	b := &MockBackend{
		job: query.ExportJob{ID: "j2", Status: query.JobFailed, Err: "connection lost"},
		err: &query.Error{Kind: query.KindConnectionLost, Message: "connection lost"},
	}
	m := newTestModel(b, state.PageExport)
	fill(m, map[string]string{"db": "/data/a.db", "start": "1", "end": "2", "output": "/tmp/out.csv"})

	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.state.Job == nil || m.state.Job.ID != "j2" || m.state.Err == nil {
		t.Fatalf("expected failed job with error, got job=%+v err=%v", m.state.Job, m.state.Err)
	}
}

func TestDeployFromForm(t *testing.T) {
	b := &MockBackend{deployResult: deploy.Result{
		Success: true,
		State:   deploy.StateSucceeded,
		Logs:    []string{"-> validating", "deployment succeeded"},
		Status:  &deploy.Status{Installed: deploy.ProbeTrue, ServiceRunning: deploy.ProbeTrue},
	}}
	m := newTestModel(b, state.PageDeploy)
	fill(m, map[string]string{"local": "./collector", "remote": "/opt/analysis/bin/analysis-collector", "restart": "n"})

	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	req := b.deployed
	if len(req.Files) != 1 || req.Files[0].LocalPath != "./collector" || !req.UseRoot || req.RestartService || req.InstallUnit {
		t.Fatalf("request not bound: %+v", req)
	}
	if m.state.DeployResult == nil || !m.state.DeployResult.Success {
		t.Fatalf("result not stored: %+v", m.state.DeployResult)
	}
	if m.state.DeployStatus == nil || m.state.DeployStatus.Installed != deploy.ProbeTrue {
		t.Errorf("status not taken from result: %+v", m.state.DeployStatus)
	}
}

func TestDeployStatusCheck(t *testing.T) {
	b := &MockBackend{status: deploy.Status{Installed: deploy.ProbeFalse}}
	m := newTestModel(b, state.PageDeploy)

	press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})

	if m.state.DeployStatus == nil || m.state.DeployStatus.Installed != deploy.ProbeFalse {
		t.Fatalf("status not stored: %+v", m.state.DeployStatus)
	}

	b.err = transport.ErrNotConnected
	press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	if !errors.Is(m.state.Err, transport.ErrNotConnected) {
		t.Errorf("expected not connected, got %v", m.state.Err)
	}
}

func TestEventsFeedConsoleAndChart(t *testing.T) {
	m := newTestModel(&MockBackend{}, state.PageExport)

	m.Update(EventMsg{Op: "export_wide_table", Level: events.LevelInfo, Message: "exporting 2 columns"})
	m.Update(EventMsg{Op: "export_wide_table", Level: events.LevelProgress, Percent: 50, Rows: 30})
	m.Update(EventMsg{Op: "export_wide_table", Level: events.LevelProgress, Percent: -1, Rows: 40})

	if len(m.state.ConsoleLogs) != 1 || !strings.Contains(m.state.ConsoleLogs[0], "exporting 2 columns") {
		t.Errorf("unexpected console logs: %v", m.state.ConsoleLogs)
	}
	if m.progress.Last() != 50 || m.progress.Rows != 40 {
		t.Errorf("unexpected progress: last=%v rows=%d", m.progress.Last(), m.progress.Rows)
	}
	if !strings.Contains(m.View(), "Export progress") {
		t.Error("export page does not render the progress chart")
	}
}

func TestJobsPage(t *testing.T) {
	b := &MockBackend{jobs: []store.Job{
		{ID: "j1", Kind: store.KindDeploy, Status: "completed", Target: "ops@10.0.0.5:22", Detail: "1 upload"},
	}}
	m := newTestModel(b, state.PageMenu)
	m.menuCursor = 5

	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.state.CurrentPage != state.PageJobs || len(m.state.Jobs) != 1 {
		t.Fatalf("jobs not loaded: page=%v jobs=%v", m.state.CurrentPage, m.state.Jobs)
	}
	if rows := m.jobs.Rows(); len(rows) != 1 || rows[0][1] != store.KindDeploy {
		t.Errorf("unexpected job rows: %v", rows)
	}
}

func TestViewsRender(t *testing.T) {
	pages := []state.Page{
		state.PageMenu, state.PageSession, state.PageQuery, state.PageExport,
		state.PageDeploy, state.PageConsole, state.PageJobs,
	}
	for _, p := range pages {
		m := newTestModel(&MockBackend{}, p)
		m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
		if out := m.View(); out == "" {
			t.Errorf("page %v rendered nothing", p)
		}
	}
}
