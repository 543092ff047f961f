package mcpserver

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"analysisops/internal/deploy"
	"analysisops/internal/events"
	"analysisops/internal/query"
	"analysisops/internal/schema"
	"analysisops/internal/service"
	"analysisops/internal/store"
	"analysisops/internal/transport"
)

// Operations is the facade the tools call. *service.Service satisfies it.
type Operations interface {
	Connect(ctx context.Context, target transport.Target) (service.SessionInfo, error)
	Disconnect() error
	Info() service.SessionInfo
	ExecuteQuery(ctx context.Context, req query.Request) (*query.Result, error)
	TableInfo(ctx context.Context, dbPath string) (*query.TableInfo, error)
	ExportWideTable(ctx context.Context, req query.Request, outputPath string) (query.ExportJob, error)
	ExportDemandResults(ctx context.Context, req query.Request, outputPath string) (query.ExportJob, error)
	CheckDeployStatus(ctx context.Context) (deploy.Status, error)
	DeployApplication(ctx context.Context, req deploy.Request) (deploy.Result, error)
	History(ctx context.Context, kind string, limit int) ([]store.Job, error)
	Events() *events.Reporter
}

// Server exposes the operations as MCP tools over stdio.
type Server struct {
	mcpServer *mcp.Server
	ops       Operations

	// Event log mirror to stderr
	logMu     sync.Mutex
	logCancel context.CancelFunc
	logWg     sync.WaitGroup
}

// Config holds configuration for the MCP server.
type Config struct {
	ServerName    string
	ServerVersion string
	// MirrorEvents copies every operation event to stderr.
	MirrorEvents bool
}

// NewServer creates a new MCP server instance.
func NewServer(cfg Config, ops Operations) *Server {
	impl := &mcp.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}
	s := &Server{
		mcpServer: mcp.NewServer(impl, nil),
		ops:       ops,
	}
	s.registerTools()

	if cfg.MirrorEvents {
		s.startEventLog(os.Stderr)
	}
	return s
}

// =============================================================================
// TOOL ARGUMENTS AND RESULTS
// =============================================================================

// ConnectArgs defines the input for the connect tool.
type ConnectArgs struct {
	Host     string `json:"host" jsonschema:"remote host name or address"`
	Port     int    `json:"port,omitempty" jsonschema:"SSH port, default 22"`
	Username string `json:"username" jsonschema:"SSH user"`
	Password string `json:"password,omitempty" jsonschema:"password, used when no key is given or the key is rejected"`
	KeyFile  string `json:"key_file,omitempty" jsonschema:"path to a private key on the operator machine"`
}

// EmptyArgs is used by tools without parameters.
type EmptyArgs struct{}

// QueryArgs defines the input for execute_query.
type QueryArgs struct {
	DBPath          string `json:"db_path" jsonschema:"path of the SQLite database on the remote host"`
	StartTime       int64  `json:"start_time" jsonschema:"window start, Unix seconds, inclusive"`
	EndTime         int64  `json:"end_time" jsonschema:"window end, Unix seconds, inclusive"`
	DeviceSerial    string `json:"device_serial,omitempty" jsonschema:"restrict to one device"`
	IncludeExtended bool   `json:"include_ext,omitempty" jsonschema:"include extended fields"`
	QueryKind       string `json:"query_kind" jsonschema:"device, command, wide_table or demand"`
}

func (a QueryArgs) request() query.Request {
	return query.Request{
		DBPath:          a.DBPath,
		Start:           a.StartTime,
		End:             a.EndTime,
		DeviceSerial:    a.DeviceSerial,
		IncludeExtended: a.IncludeExtended,
		Kind:            schema.Kind(a.QueryKind),
	}
}

// ExportArgs defines the input for the export tools. The query kind is implied by the tool.
type ExportArgs struct {
	DBPath          string `json:"db_path" jsonschema:"path of the SQLite database on the remote host"`
	StartTime       int64  `json:"start_time" jsonschema:"window start, Unix seconds, inclusive"`
	EndTime         int64  `json:"end_time" jsonschema:"window end, Unix seconds, inclusive"`
	DeviceSerial    string `json:"device_serial,omitempty" jsonschema:"restrict to one device"`
	IncludeExtended bool   `json:"include_ext,omitempty" jsonschema:"include extended fields"`
	OutputPath      string `json:"output_path" jsonschema:"local CSV file to write"`
}

func (a ExportArgs) request() query.Request {
	return query.Request{
		DBPath:          a.DBPath,
		Start:           a.StartTime,
		End:             a.EndTime,
		DeviceSerial:    a.DeviceSerial,
		IncludeExtended: a.IncludeExtended,
	}
}

// TableInfoArgs defines the input for get_table_info.
type TableInfoArgs struct {
	DBPath string `json:"db_path" jsonschema:"path of the SQLite database on the remote host"`
}

// DeployArgs defines the input for deploy_application.
type DeployArgs struct {
	Files          []deploy.File `json:"files" jsonschema:"files to upload (localPath, remotePath) or download (remotePath, downloadPath)"`
	UseRoot        bool          `json:"useRoot,omitempty" jsonschema:"run privileged steps with sudo"`
	RestartService bool          `json:"restartService,omitempty" jsonschema:"restart the service after the transfers"`
	InstallUnit    bool          `json:"installUnit,omitempty" jsonschema:"install and enable the systemd unit"`
}

// HistoryArgs defines the input for get_job_history.
type HistoryArgs struct {
	Kind  string `json:"kind,omitempty" jsonschema:"export_wide_table, export_demand_results or deploy"`
	Limit int    `json:"limit,omitempty" jsonschema:"number of jobs to return"`
}

// EventsArgs defines the input for get_recent_events.
type EventsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of events to return, newest last"`
}

// SessionResult reports the session state.
type SessionResult struct {
	State  string `json:"state" jsonschema:"disconnected, connecting, connected or failed"`
	Reason string `json:"reason,omitempty" jsonschema:"why the session failed"`
	Target string `json:"target,omitempty" jsonschema:"user@host:port"`
}

// ExportResult reports a finished export.
type ExportResult struct {
	Job query.ExportJob `json:"job" jsonschema:"the export job"`
}

// StatusResult is the deployment status; each field is yes, no or unknown.
type StatusResult struct {
	Installed      string `json:"installed" jsonschema:"binary present"`
	ServiceExists  string `json:"serviceExists" jsonschema:"unit file present"`
	ServiceRunning string `json:"serviceRunning" jsonschema:"service active"`
	ServiceEnabled string `json:"serviceEnabled" jsonschema:"service enabled at boot"`
}

func statusResult(st deploy.Status) StatusResult {
	return StatusResult{
		Installed:      st.Installed.String(),
		ServiceExists:  st.ServiceExists.String(),
		ServiceRunning: st.ServiceRunning.String(),
		ServiceEnabled: st.ServiceEnabled.String(),
	}
}

// DeployResult reports a deployment, successful or not.
type DeployResult struct {
	Success          bool          `json:"success"`
	Error            string        `json:"error,omitempty"`
	State            string        `json:"state" jsonschema:"last state reached"`
	Logs             []string      `json:"logs"`
	BytesTransferred int64         `json:"bytesTransferred"`
	FilesTransferred int           `json:"filesTransferred"`
	Status           *StatusResult `json:"status,omitempty"`
}

// HistoryResult wraps recorded jobs.
type HistoryResult struct {
	Jobs []store.Job `json:"jobs" jsonschema:"jobs, newest first"`
}

// EventsResult wraps retained events.
type EventsResult struct {
	Events  []events.Event `json:"events"`
	Dropped uint64         `json:"dropped" jsonschema:"deliveries skipped for slow subscribers"`
}

// =============================================================================
// TOOLS
// =============================================================================

// registerTools registers all available MCP tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "connect",
		Description: "Open an SSH session to the analysis host. Replaces any existing session. Key authentication is tried before the password.",
	}, s.handleConnect)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "disconnect",
		Description: "Close the current SSH session.",
	}, s.handleDisconnect)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "session_status",
		Description: "Report whether a session is open and to which host.",
	}, s.handleSessionStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "execute_query",
		Description: "Query the remote wide table for a time window. Columns are resolved from the device topology and field mapping; columns missing from the table come back empty. Results are capped by the configured row limit.",
	}, s.handleExecuteQuery)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_wide_table",
		Description: "Stream the wide table for a time window into a local CSV file. Use for large ranges; rows are never held in memory.",
	}, s.handleExportWideTable)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_demand_results",
		Description: "Export demand (command) columns for a time window into a local CSV file, keeping only rows where at least one command is set.",
	}, s.handleExportDemandResults)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_table_info",
		Description: "List the tables in the remote database with row counts, the wide table's column count and its time range.",
	}, s.handleGetTableInfo)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "check_deploy_status",
		Description: "Check whether the collector binary and unit file are installed and whether the service is running and enabled.",
	}, s.handleCheckDeployStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "deploy_application",
		Description: "Transfer files to or from the analysis host and optionally restart the service. Returns the full deployment log whether it succeeds or not.",
	}, s.handleDeployApplication)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_job_history",
		Description: "List past exports and deployments from the local job ledger.",
	}, s.handleGetJobHistory)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_recent_events",
		Description: "Return the most recent log and progress events of all operations.",
	}, s.handleGetRecentEvents)
}

func sessionResult(info service.SessionInfo) SessionResult {
	return SessionResult{State: info.State, Reason: info.Reason, Target: info.Target}
}

func (s *Server) handleConnect(ctx context.Context, _ *mcp.CallToolRequest, args ConnectArgs) (*mcp.CallToolResult, SessionResult, error) {
	if args.Host == "" || args.Username == "" {
		return nil, SessionResult{}, fmt.Errorf("host and username are required")
	}
	info, err := s.ops.Connect(ctx, transport.Target{
		Host:     args.Host,
		Port:     args.Port,
		Username: args.Username,
		Password: args.Password,
		KeyFile:  args.KeyFile,
	})
	if err != nil {
		return nil, SessionResult{}, fmt.Errorf("connect failed: %w", err)
	}
	return nil, sessionResult(info), nil
}

func (s *Server) handleDisconnect(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyArgs) (*mcp.CallToolResult, SessionResult, error) {
	if err := s.ops.Disconnect(); err != nil {
		return nil, SessionResult{}, fmt.Errorf("disconnect failed: %w", err)
	}
	return nil, sessionResult(s.ops.Info()), nil
}

func (s *Server) handleSessionStatus(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyArgs) (*mcp.CallToolResult, SessionResult, error) {
	return nil, sessionResult(s.ops.Info()), nil
}

func (s *Server) handleExecuteQuery(ctx context.Context, _ *mcp.CallToolRequest, args QueryArgs) (*mcp.CallToolResult, *query.Result, error) {
	res, err := s.ops.ExecuteQuery(ctx, args.request())
	if err != nil {
		return nil, nil, fmt.Errorf("query failed: %w", err)
	}
	return nil, res, nil
}

func (s *Server) handleExportWideTable(ctx context.Context, _ *mcp.CallToolRequest, args ExportArgs) (*mcp.CallToolResult, ExportResult, error) {
	job, err := s.ops.ExportWideTable(ctx, args.request(), args.OutputPath)
	if err != nil {
		return nil, ExportResult{}, fmt.Errorf("export failed: %w", err)
	}
	return nil, ExportResult{Job: job}, nil
}

func (s *Server) handleExportDemandResults(ctx context.Context, _ *mcp.CallToolRequest, args ExportArgs) (*mcp.CallToolResult, ExportResult, error) {
	job, err := s.ops.ExportDemandResults(ctx, args.request(), args.OutputPath)
	if err != nil {
		return nil, ExportResult{}, fmt.Errorf("export failed: %w", err)
	}
	return nil, ExportResult{Job: job}, nil
}

func (s *Server) handleGetTableInfo(ctx context.Context, _ *mcp.CallToolRequest, args TableInfoArgs) (*mcp.CallToolResult, *query.TableInfo, error) {
	info, err := s.ops.TableInfo(ctx, args.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("table info failed: %w", err)
	}
	return nil, info, nil
}

func (s *Server) handleCheckDeployStatus(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyArgs) (*mcp.CallToolResult, StatusResult, error) {
	st, err := s.ops.CheckDeployStatus(ctx)
	if err != nil {
		return nil, StatusResult{}, fmt.Errorf("status check failed: %w", err)
	}
	return nil, statusResult(st), nil
}

// handleDeployApplication reports deployment failures in the result, not as a
// tool error, so the caller always gets the log.
func (s *Server) handleDeployApplication(ctx context.Context, _ *mcp.CallToolRequest, args DeployArgs) (*mcp.CallToolResult, DeployResult, error) {
	res, err := s.ops.DeployApplication(ctx, deploy.Request{
		Files:          args.Files,
		UseRoot:        args.UseRoot,
		RestartService: args.RestartService,
		InstallUnit:    args.InstallUnit,
	})
	if err != nil && res.State == "" {
		// never started: busy or not connected
		return nil, DeployResult{}, fmt.Errorf("deploy failed: %w", err)
	}

	out := DeployResult{
		Success:          res.Success,
		Error:            res.Error,
		State:            string(res.State),
		Logs:             res.Logs,
		BytesTransferred: res.BytesTransferred,
		FilesTransferred: res.FilesTransferred,
	}
	if out.Logs == nil {
		out.Logs = []string{}
	}
	if res.Status != nil {
		st := statusResult(*res.Status)
		out.Status = &st
	}
	return nil, out, nil
}

func (s *Server) handleGetJobHistory(ctx context.Context, _ *mcp.CallToolRequest, args HistoryArgs) (*mcp.CallToolResult, HistoryResult, error) {
	limit := args.Limit
	if limit == 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	jobs, err := s.ops.History(ctx, args.Kind, limit)
	if err != nil {
		return nil, HistoryResult{}, fmt.Errorf("failed to query jobs: %w", err)
	}
	return nil, HistoryResult{Jobs: jobs}, nil
}

func (s *Server) handleGetRecentEvents(ctx context.Context, _ *mcp.CallToolRequest, args EventsArgs) (*mcp.CallToolResult, EventsResult, error) {
	rep := s.ops.Events()
	evs := rep.History()
	if args.Limit > 0 && len(evs) > args.Limit {
		evs = evs[len(evs)-args.Limit:]
	}
	return nil, EventsResult{Events: evs, Dropped: rep.Dropped()}, nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start starts the MCP server using stdio transport.
func (s *Server) Start(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "Starting analysisops MCP server on stdio...\n")
	transport := &mcp.StdioTransport{}
	return s.mcpServer.Run(ctx, transport)
}

// Close stops the event mirror.
func (s *Server) Close() error {
	s.stopEventLog()
	return nil
}

// startEventLog copies events to w until stopped. Stdout belongs to the
// protocol, so events go to stderr.
func (s *Server) startEventLog(w io.Writer) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	if s.logCancel != nil {
		return // Already running
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.logCancel = cancel
	ch, unsubscribe := s.ops.Events().Subscribe(64)
	s.logWg.Add(1)

	go func() {
		defer s.logWg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Level == events.LevelProgress {
					continue
				}
				fmt.Fprintln(w, ev.String())
			}
		}
	}()
}

// stopEventLog stops the mirror worker.
func (s *Server) stopEventLog() {
	s.logMu.Lock()
	cancel := s.logCancel
	s.logCancel = nil
	s.logMu.Unlock()

	if cancel != nil {
		cancel()
		s.logWg.Wait()
	}
}
