package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"analysisops/internal/config"
	"analysisops/internal/csvsink"
	"analysisops/internal/deploy"
	"analysisops/internal/events"
	"analysisops/internal/query"
	"analysisops/internal/schema"
	"analysisops/internal/service"
	"analysisops/internal/store"
	"analysisops/internal/transport"
	"analysisops/ui/console"
	"analysisops/ui/tui"
)

const usage = `usage: analysisops [-config file]                 start the terminal UI
       analysisops query  -host h -user u -db path -start t -end t [-serial s] [-kind device]
       analysisops export -host h -user u -db path -start t -end t -out file [-demand]
       analysisops status -host h -user u
       analysisops deploy -host h -user u -local file -remote path [-root] [-restart] [-unit]
       analysisops jobs   [-kind k] [-limit n]

The SSH password is read from ANALYSISOPS_PASSWORD. Times are unix seconds or
"2006-01-02 15:04:05" in the display timezone.
`

func main() {
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		runTUI(os.Args[1:])
		return
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "query":
		err = runQuery(args)
	case "export":
		err = runExport(args)
	case "status":
		err = runStatus(args)
	case "deploy":
		err = runDeploy(args)
	case "jobs":
		err = runJobs(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(args []string) {
	fs := flag.NewFlagSet("analysisops", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("ANALYSISOPS_CONFIG"), "path to the TOML config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath, config.OSEnv())
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	svc, err := service.Open(context.Background(), cfg)
	if err != nil {
		fmt.Printf("Error starting: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := tui.Start(svc, cfg.Query); err != nil {
		fmt.Printf("Error running TUI: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// ONE-SHOT COMMANDS
// =============================================================================

// cli holds the flags every one-shot command shares.
type cli struct {
	fs         *flag.FlagSet
	configPath *string
	quiet      *bool
	target     transport.Target
}

func newCLI(name string, needsHost bool) *cli {
	c := &cli{fs: flag.NewFlagSet(name, flag.ExitOnError)}
	c.configPath = c.fs.String("config", os.Getenv("ANALYSISOPS_CONFIG"), "path to the TOML config file")
	c.quiet = c.fs.Bool("quiet", false, "do not print operation events to stderr")
	if needsHost {
		c.fs.StringVar(&c.target.Host, "host", "", "SSH host")
		c.fs.IntVar(&c.target.Port, "port", 22, "SSH port")
		c.fs.StringVar(&c.target.Username, "user", os.Getenv("USER"), "SSH username")
		c.fs.StringVar(&c.target.KeyFile, "key", "", "private key file")
	}
	return c
}

// open loads the config, opens the service and, when a host is set, connects.
// The returned func closes everything and waits for the event printer.
func (c *cli) open(ctx context.Context) (*service.Service, config.Config, func(), error) {
	cfg, err := config.Load(*c.configPath, config.OSEnv())
	if err != nil {
		return nil, cfg, nil, err
	}
	svc, err := service.Open(ctx, cfg)
	if err != nil {
		return nil, cfg, nil, err
	}

	var wg sync.WaitGroup
	if !*c.quiet {
		ch, _ := svc.Events().Subscribe(cfg.Events.Buffer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range ch {
				if ev.Level != events.LevelProgress || ev.Percent < 0 {
					fmt.Fprintln(os.Stderr, ev.String())
				}
			}
		}()
	}
	closeAll := func() {
		if err := svc.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
		}
		wg.Wait()
	}

	if c.target.Host != "" {
		c.target.Password = os.Getenv("ANALYSISOPS_PASSWORD")
		if _, err := svc.Connect(ctx, c.target); err != nil {
			closeAll()
			return nil, cfg, nil, err
		}
	}
	return svc, cfg, closeAll, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type requestFlags struct {
	db, start, end, serial *string
	ext                    *bool
}

func addRequestFlags(fs *flag.FlagSet) requestFlags {
	return requestFlags{
		db:     fs.String("db", "", "remote SQLite database path"),
		start:  fs.String("start", "", "window start"),
		end:    fs.String("end", "", "window end (inclusive)"),
		serial: fs.String("serial", "", "restrict to one device serial"),
		ext:    fs.Bool("ext", false, "include extended fields"),
	}
}

func (f requestFlags) request(cfg config.Config) (query.Request, error) {
	loc := cfg.Query.DisplayLocation()
	req := query.Request{DBPath: *f.db, DeviceSerial: *f.serial, IncludeExtended: *f.ext}
	var err error
	if req.Start, err = console.ParseTime(*f.start, loc); err != nil {
		return req, fmt.Errorf("-start: %w", err)
	}
	if req.End, err = console.ParseTime(*f.end, loc); err != nil {
		return req, fmt.Errorf("-end: %w", err)
	}
	return req, nil
}

func formatter(cfg config.Config) csvsink.Formatter {
	return csvsink.Formatter{TimestampColumn: cfg.Query.TimestampColumn, Location: cfg.Query.DisplayLocation()}
}

func runQuery(args []string) error {
	c := newCLI("query", true)
	rf := addRequestFlags(c.fs)
	kind := c.fs.String("kind", string(schema.KindDevice), "query kind: device, command, wide_table or demand")
	limit := c.fs.Int("limit", 50, "rows to print")
	c.fs.Parse(args)

	ctx, stop := signalContext()
	defer stop()
	svc, cfg, closeAll, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	req, err := rf.request(cfg)
	if err != nil {
		return err
	}
	if req.Kind, err = schema.ParseKind(*kind); err != nil {
		return err
	}
	res, err := svc.ExecuteQuery(ctx, req)
	if err != nil {
		return err
	}
	console.PrintResult(os.Stdout, res, formatter(cfg), *limit)
	return nil
}

func runExport(args []string) error {
	c := newCLI("export", true)
	rf := addRequestFlags(c.fs)
	out := c.fs.String("out", "", "local CSV output path")
	demand := c.fs.Bool("demand", false, "export demand results instead of the wide table")
	c.fs.Parse(args)

	ctx, stop := signalContext()
	defer stop()
	svc, cfg, closeAll, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	req, err := rf.request(cfg)
	if err != nil {
		return err
	}
	run := svc.ExportWideTable
	if *demand {
		run = svc.ExportDemandResults
	}
	job, err := run(ctx, req, *out)
	if job.ID != "" {
		console.PrintJob(os.Stdout, job)
	}
	return err
}

func runStatus(args []string) error {
	c := newCLI("status", true)
	c.fs.Parse(args)

	ctx, stop := signalContext()
	defer stop()
	svc, _, closeAll, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	st, err := svc.CheckDeployStatus(ctx)
	if err != nil {
		return err
	}
	console.PrintStatus(os.Stdout, st)
	return nil
}

func runDeploy(args []string) error {
	c := newCLI("deploy", true)
	local := c.fs.String("local", "", "local file to upload")
	remote := c.fs.String("remote", "", "remote destination path")
	download := c.fs.String("download", "", "download -remote to this local path instead of uploading")
	root := c.fs.Bool("root", true, "use sudo for remote steps")
	restart := c.fs.Bool("restart", false, "restart the service after transfer")
	unit := c.fs.Bool("unit", false, "install the systemd unit")
	c.fs.Parse(args)

	ctx, stop := signalContext()
	defer stop()
	svc, _, closeAll, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	file := deploy.File{LocalPath: *local, RemotePath: *remote}
	if *download != "" {
		file = deploy.File{RemotePath: *remote, DownloadPath: *download}
	}
	res, err := svc.DeployApplication(ctx, deploy.Request{
		Files:          []deploy.File{file},
		UseRoot:        *root,
		RestartService: *restart,
		InstallUnit:    *unit,
	})
	if res.State != "" {
		console.PrintDeploy(os.Stdout, res)
	}
	return err
}

func runJobs(args []string) error {
	c := newCLI("jobs", false)
	kind := c.fs.String("kind", "", "filter by kind: "+strings.Join([]string{store.KindExportWideTable, store.KindExportDemandResults, store.KindDeploy}, ", "))
	limit := c.fs.Int("limit", 20, "entries to print")
	c.fs.Parse(args)

	ctx, stop := signalContext()
	defer stop()
	svc, cfg, closeAll, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	jobs, err := svc.History(ctx, *kind, *limit)
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		fmt.Fprintln(os.Stderr, "Warning: store.path is empty, the ledger only lives in memory")
	}
	console.PrintJobs(os.Stdout, jobs, cfg.Query.DisplayLocation())
	return nil
}
