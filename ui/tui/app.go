package tui

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"analysisops/internal/config"
	"analysisops/internal/csvsink"
	"analysisops/internal/deploy"
	"analysisops/internal/events"
	"analysisops/internal/query"
	"analysisops/internal/service"
	"analysisops/internal/store"
	"analysisops/internal/transport"
	"analysisops/ui/tui/components"
	"analysisops/ui/tui/state"
	"analysisops/ui/tui/views"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
)

const (
	maxConsoleLines = 500
	maxTableRows    = 200
	jobsLimit       = 50
)

// Backend is the part of the service the UI drives. *service.Service satisfies it.
type Backend interface {
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

// MainModel is the Bubble Tea Model acting as the Controller
type MainModel struct {
	backend   Backend
	config    config.QueryConfig
	formatter csvsink.Formatter

	ctx         context.Context
	stop        context.CancelFunc
	cancelOp    context.CancelFunc
	evCh        <-chan events.Event
	unsubscribe func()

	state          state.AppState
	spinner        spinner.Model
	progress       *components.ProgressWidget
	forms          map[state.Page]*components.Form
	results        table.Model
	jobs           table.Model
	menuCursor     int
	animCursor     float64
	velocity       float64 // Physics velocity
	spring         harmonica.Spring
	consoleScrollY int
	mouseX         int
	mouseY         int
	quitting       bool
	width          int
	height         int
}

// Messages
type TickMsg time.Time
type AnimateMsg time.Time
type SessionMsg service.SessionInfo
type EventMsg events.Event
type eventsClosedMsg struct{}

// OpDoneMsg carries the outcome of a backend call. Only the fields that
// belong to Op are set.
type OpDoneMsg struct {
	Op      string
	Session *service.SessionInfo
	Result  *query.Result
	Tables  *query.TableInfo
	Job     *query.ExportJob
	Status  *deploy.Status
	Deploy  *deploy.Result
	Jobs    []store.Job
	Err     error
}

func InitialModel(backend Backend, cfg config.QueryConfig) MainModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	// Increased frequency (12.0) for faster response and damping (0.9) to prevent overshoot
	spring := harmonica.NewSpring(harmonica.FPS(60), 12.0, 0.9)

	ctx, stop := context.WithCancel(context.Background())

	return MainModel{
		backend: backend,
		config:  cfg,
		formatter: csvsink.Formatter{
			TimestampColumn: cfg.TimestampColumn,
			Location:        cfg.DisplayLocation(),
		},
		ctx:      ctx,
		stop:     stop,
		spinner:  s,
		progress: components.NewProgressWidget(30, 10),
		forms:    newForms(),
		results:  table.New(table.WithHeight(10)),
		jobs:     table.New(table.WithHeight(15), table.WithFocused(true)),
		spring:   spring,
		state: state.AppState{
			Session:     backend.Info(),
			CurrentPage: state.PageMenu,
		},
	}
}

func (m *MainModel) Init() tea.Cmd {
	zone.NewGlobal()
	m.evCh, m.unsubscribe = m.backend.Events().Subscribe(256)
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(),
		animateCmd(),
		waitForEvent(m.evCh),
	)
}

// Commands
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second*1, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func animateCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*16, func(t time.Time) tea.Msg {
		return AnimateMsg(t)
	})
}

func fetchSessionCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		return SessionMsg(b.Info())
	}
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg(ev)
	}
}

// runOp starts fn in the background with a cancelable context. Only one
// operation runs at a time.
func (m *MainModel) runOp(op string, fn func(ctx context.Context) OpDoneMsg) tea.Cmd {
	if m.state.Running != "" {
		m.state.Err = fmt.Errorf("%s is still running", m.state.Running)
		return nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelOp = cancel
	m.state.Running = op
	m.state.Err = nil
	return func() tea.Msg {
		msg := fn(ctx)
		msg.Op = op
		return msg
	}
}

func (m *MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case AnimateMsg:
		return m.handleAnimateMsg(msg)

	case tea.WindowSizeMsg:
		return m.handleWindowSizeMsg(msg)

	case TickMsg:
		return m, tea.Batch(fetchSessionCmd(m.backend), tickCmd())

	case SessionMsg:
		m.state.Session = service.SessionInfo(msg)
		return m, nil

	case EventMsg:
		return m.handleEventMsg(events.Event(msg))

	case eventsClosedMsg:
		return m, nil

	case OpDoneMsg:
		return m.handleOpDone(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)
	}

	return m, nil
}

func (m *MainModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m.quit()
	}

	switch m.state.CurrentPage {
	case state.PageMenu:
		switch msg.String() {
		case "q":
			return m.quit()
		case "up", "k":
			if m.menuCursor > 0 {
				m.menuCursor--
			}
		case "down", "j":
			if m.menuCursor < len(views.MenuOptions)-1 {
				m.menuCursor++
			}
		case "enter":
			return m, m.navigateTo(m.menuCursor)
		}
		return m, nil

	case state.PageConsole, state.PageJobs:
		switch msg.String() {
		case "b", "esc", "backspace":
			return m.back()
		case "r":
			if m.state.CurrentPage == state.PageJobs {
				return m, m.loadJobs()
			}
		case "up", "k":
			if m.state.CurrentPage == state.PageJobs {
				m.jobs.MoveUp(1)
			} else if m.consoleScrollY > 0 {
				m.consoleScrollY--
			}
		case "down", "j":
			if m.state.CurrentPage == state.PageJobs {
				m.jobs.MoveDown(1)
			} else {
				m.consoleScrollY++
			}
		}
		return m, nil
	}

	// form pages
	switch msg.String() {
	case "esc":
		return m.back()
	case "ctrl+x":
		if m.cancelOp != nil {
			m.cancelOp()
		}
		return m, nil
	case "enter":
		return m, m.submit()
	case "ctrl+d":
		if m.state.CurrentPage == state.PageSession {
			return m, m.runOp("disconnect", func(ctx context.Context) OpDoneMsg {
				return OpDoneMsg{Err: m.backend.Disconnect()}
			})
		}
	case "ctrl+t":
		if m.state.CurrentPage == state.PageQuery {
			db := m.forms[state.PageQuery].Value("db")
			return m, m.runOp("table_info", func(ctx context.Context) OpDoneMsg {
				info, err := m.backend.TableInfo(ctx, db)
				return OpDoneMsg{Tables: info, Err: err}
			})
		}
	case "ctrl+s":
		if m.state.CurrentPage == state.PageDeploy {
			return m, m.checkStatus()
		}
	}

	if w, ok := m.pageInput(); ok {
		_, cmd := w.Update(msg)
		return m, cmd
	}
	return m, nil
}

// pageInput is the widget that receives typed keys on the current page.
func (m *MainModel) pageInput() (components.Component, bool) {
	f, ok := m.forms[m.state.CurrentPage]
	if !ok {
		return nil, false
	}
	return f, true
}

func (m *MainModel) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	if m.cancelOp != nil {
		m.cancelOp()
	}
	m.stop()
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return m, tea.Quit
}

func (m *MainModel) back() (tea.Model, tea.Cmd) {
	m.state.CurrentPage = state.PageMenu
	m.consoleScrollY = 0
	m.state.Err = nil
	return m, nil
}

func (m *MainModel) navigateTo(cursor int) tea.Cmd {
	pages := []state.Page{
		state.PageSession,
		state.PageQuery,
		state.PageExport,
		state.PageDeploy,
		state.PageConsole,
		state.PageJobs,
	}
	if cursor < 0 || cursor >= len(pages) {
		return nil
	}
	m.state.CurrentPage = pages[cursor]
	if m.state.CurrentPage == state.PageJobs {
		return m.loadJobs()
	}
	if w, ok := m.pageInput(); ok {
		return w.Init()
	}
	return nil
}

// submit runs the operation behind the current form.
func (m *MainModel) submit() tea.Cmd {
	f := m.forms[m.state.CurrentPage]
	loc := m.config.DisplayLocation()

	switch m.state.CurrentPage {
	case state.PageSession:
		target, err := targetFromForm(f)
		if err != nil {
			m.state.Err = err
			return nil
		}
		return m.runOp("connect", func(ctx context.Context) OpDoneMsg {
			info, err := m.backend.Connect(ctx, target)
			return OpDoneMsg{Session: &info, Err: err}
		})

	case state.PageQuery:
		req, err := queryFromForm(f, loc)
		if err != nil {
			m.state.Err = err
			return nil
		}
		return m.runOp("execute_query", func(ctx context.Context) OpDoneMsg {
			res, err := m.backend.ExecuteQuery(ctx, req)
			return OpDoneMsg{Result: res, Err: err}
		})

	case state.PageExport:
		kind, err := exportKind(f.Value("kind"))
		if err != nil {
			m.state.Err = err
			return nil
		}
		req, err := requestFromForm(f, loc)
		if err != nil {
			m.state.Err = err
			return nil
		}
		out := f.Value("output")
		run := m.backend.ExportWideTable
		if kind == store.KindExportDemandResults {
			run = m.backend.ExportDemandResults
		}
		m.progress.Reset()
		return m.runOp(kind, func(ctx context.Context) OpDoneMsg {
			job, err := run(ctx, req, out)
			if job.ID == "" {
				return OpDoneMsg{Err: err}
			}
			return OpDoneMsg{Job: &job, Err: err}
		})

	case state.PageDeploy:
		req := deployFromForm(f)
		return m.runOp("deploy", func(ctx context.Context) OpDoneMsg {
			res, err := m.backend.DeployApplication(ctx, req)
			if res.State == "" {
				return OpDoneMsg{Err: err}
			}
			return OpDoneMsg{Deploy: &res, Err: err}
		})
	}
	return nil
}

func (m *MainModel) checkStatus() tea.Cmd {
	return m.runOp("check_deploy_status", func(ctx context.Context) OpDoneMsg {
		st, err := m.backend.CheckDeployStatus(ctx)
		if err != nil {
			return OpDoneMsg{Err: err}
		}
		return OpDoneMsg{Status: &st}
	})
}

func (m *MainModel) loadJobs() tea.Cmd {
	return func() tea.Msg {
		jobs, err := m.backend.History(m.ctx, "", jobsLimit)
		return OpDoneMsg{Op: "history", Jobs: jobs, Err: err}
	}
}

func (m *MainModel) handleAnimateMsg(msg AnimateMsg) (tea.Model, tea.Cmd) {
	var v float64 = m.velocity
	m.animCursor, v = m.spring.Update(m.animCursor, float64(m.menuCursor), v)
	m.velocity = v
	return m, animateCmd()
}

func (m *MainModel) handleWindowSizeMsg(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	newW := msg.Width/2 - 10
	if newW > 10 {
		m.progress.Resize(newW, 10)
	}
	if h := msg.Height - 24; h > 3 {
		m.results.SetHeight(h)
	}
	if h := msg.Height - 10; h > 3 {
		m.jobs.SetHeight(h)
	}
	return m, nil
}

func (m *MainModel) handleEventMsg(ev events.Event) (tea.Model, tea.Cmd) {
	if ev.Level == events.LevelProgress {
		m.progress.Push(ev.Percent, ev.Rows)
	} else {
		m.state.ConsoleLogs = append(m.state.ConsoleLogs, ev.String())
		if len(m.state.ConsoleLogs) > maxConsoleLines {
			m.state.ConsoleLogs = m.state.ConsoleLogs[1:]
		}
	}
	return m, waitForEvent(m.evCh)
}

func (m *MainModel) handleOpDone(msg OpDoneMsg) (tea.Model, tea.Cmd) {
	if msg.Op != "history" {
		m.state.Running = ""
		if m.cancelOp != nil {
			m.cancelOp()
			m.cancelOp = nil
		}
	}
	m.state.Err = msg.Err
	m.state.LastUpdate = time.Now()

	if msg.Session != nil && msg.Err == nil {
		m.state.Session = *msg.Session
	} else {
		m.state.Session = m.backend.Info()
	}
	if msg.Result != nil {
		m.state.Result = msg.Result
		m.setResultTable(msg.Result)
	}
	if msg.Tables != nil {
		res := tablesResult(msg.Tables, m.formatter)
		m.state.Result = res
		m.setResultTable(res)
	}
	if msg.Job != nil {
		m.state.Job = msg.Job
	}
	if msg.Status != nil {
		m.state.DeployStatus = msg.Status
	}
	if msg.Deploy != nil {
		m.state.DeployResult = msg.Deploy
		if msg.Deploy.Status != nil {
			m.state.DeployStatus = msg.Deploy.Status
		}
	}
	if msg.Op == "history" && msg.Err == nil {
		m.state.Jobs = msg.Jobs
		m.setJobsTable(msg.Jobs)
	}
	return m, nil
}

func (m *MainModel) setResultTable(r *query.Result) {
	cols := make([]table.Column, len(r.Columns))
	for i, c := range r.Columns {
		w := len(c)
		if w < 10 {
			w = 10
		}
		if c == m.formatter.TimestampColumn {
			w = len(csvsink.TimeLayout)
		}
		cols[i] = table.Column{Title: c, Width: w}
	}
	rows := make([]table.Row, 0, min(len(r.Rows), maxTableRows))
	for _, row := range r.Rows {
		if len(rows) == maxTableRows {
			break
		}
		cells := make(table.Row, len(r.Columns))
		for i, c := range r.Columns {
			cells[i] = m.formatter.Format(c, row[c])
		}
		rows = append(rows, cells)
	}
	// rows must never be wider than the columns
	m.results.SetRows(nil)
	m.results.SetColumns(cols)
	m.results.SetRows(rows)
}

func (m *MainModel) setJobsTable(jobs []store.Job) {
	cols := []table.Column{
		{Title: "Started", Width: 19},
		{Title: "Kind", Width: 22},
		{Title: "Status", Width: 10},
		{Title: "Rows", Width: 8},
		{Title: "Target", Width: 24},
		{Title: "Detail", Width: 40},
	}
	rows := make([]table.Row, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, table.Row{
			j.StartedAt.In(m.formatter.Location).Format(csvsink.TimeLayout),
			j.Kind,
			j.Status,
			strconv.FormatInt(j.Rows, 10),
			j.Target,
			j.Detail,
		})
	}
	m.jobs.SetRows(nil)
	m.jobs.SetColumns(cols)
	m.jobs.SetRows(rows)
}

// tablesResult presents table statistics as a query result.
func tablesResult(info *query.TableInfo, f csvsink.Formatter) *query.Result {
	res := &query.Result{Columns: []string{"table", "rows"}, Rows: []query.Row{}}
	for _, t := range info.Tables {
		res.Rows = append(res.Rows, query.Row{"table": t.Name, "rows": t.Rows})
	}
	if info.MinTime != nil && info.MaxTime != nil {
		span := fmt.Sprintf("%s .. %s", csvsink.FormatTimestamp(*info.MinTime, f.Location), csvsink.FormatTimestamp(*info.MaxTime, f.Location))
		res.Rows = append(res.Rows, query.Row{"table": "time range", "rows": span})
	}
	res.TotalRows = len(res.Rows)
	return res
}

func (m *MainModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	m.mouseX = msg.X
	m.mouseY = msg.Y

	if msg.Action == tea.MouseActionRelease && m.state.CurrentPage == state.PageMenu {
		for i := range views.MenuOptions {
			if zone.Get(fmt.Sprintf("menu_%d", i)).InBounds(msg) {
				m.menuCursor = i
				return m, m.navigateTo(i)
			}
		}
	}
	return m, nil
}

func (m *MainModel) View() string {
	if m.quitting {
		return "Bye!\n"
	}

	props := views.ViewProps{
		Width:       m.width,
		Height:      m.height,
		MouseX:      m.mouseX,
		MouseY:      m.mouseY,
		MenuCursor:  m.menuCursor,
		AnimCursor:  m.animCursor,
		SpinnerView: m.spinner.View(),
		ScrollY:     m.consoleScrollY,
	}
	if f, ok := m.forms[m.state.CurrentPage]; ok {
		props.FormView = f.View()
	}
	switch m.state.CurrentPage {
	case state.PageQuery:
		props.TableView = m.results.View()
	case state.PageExport:
		props.ChartView = m.progress.View()
	case state.PageJobs:
		props.TableView = m.jobs.View()
	}
	return views.Render(m.state, props)
}

// Start runs the UI until the user quits.
func Start(backend Backend, cfg config.QueryConfig) error {
	m := InitialModel(backend, cfg)
	p := tea.NewProgram(
		&m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := p.Run()
	return err
}
