// Package deploy installs and restarts the collector application on the remote
// host over the transport session, and reports its installation status.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"

	"analysisops/internal/config"
	"analysisops/internal/events"
	"analysisops/internal/transport"
)

const opDeploy = "deploy"

// State is the orchestrator's position in a deployment.
type State string

const (
	StateIdle         State = "idle"
	StateValidating   State = "validating"
	StateTransferring State = "transferring"
	StateServiceOp    State = "service_op"
	StateVerifying    State = "verifying"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// DeployError is a failure in one step after validation.
type DeployError struct {
	Step  State
	Cause error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy failed during %s: %v", e.Step, e.Cause)
}

func (e *DeployError) Unwrap() error { return e.Cause }

// Remote is what the orchestrator needs from the session.
type Remote interface {
	Runner
	Upload(ctx context.Context, local, remote string) (int64, error)
	Download(ctx context.Context, remote, local string) (int64, error)
}

// Request describes one deployment.
type Request struct {
	Files          []File `json:"files"`
	UseRoot        bool   `json:"useRoot"`
	RestartService bool   `json:"restartService"`
	InstallUnit    bool   `json:"installUnit,omitempty"`
}

// Result is returned for every deployment, successful or not. Logs holds the
// lines emitted during this deployment in order.
type Result struct {
	Success          bool     `json:"success"`
	Error            string   `json:"error,omitempty"`
	Logs             []string `json:"logs"`
	State            State    `json:"state"`
	BytesTransferred int64    `json:"bytesTransferred"`
	FilesTransferred int      `json:"filesTransferred"`
	Status           *Status  `json:"status,omitempty"`
}

// Orchestrator runs deployments against one remote.
type Orchestrator struct {
	remote Remote
	cfg    config.DeployConfig
	emit   events.Emitter
}

// New creates an orchestrator.
func New(remote Remote, cfg config.DeployConfig, emit events.Emitter) *Orchestrator {
	if emit == nil {
		emit = events.Discard
	}
	return &Orchestrator{remote: remote, cfg: cfg, emit: emit}
}

// run is the state of one Deploy call.
type run struct {
	o     *Orchestrator
	req   Request
	log   *events.Recorder
	state State
	res   Result
}

func (r *run) enter(s State) {
	r.state = s
	r.log.Logf(opDeploy, "-> %s", s)
}

func (r *run) fail(err error) (Result, error) {
	var de *DeployError
	var ve *ValidationError
	if !errors.As(err, &ve) && !errors.As(err, &de) {
		err = &DeployError{Step: r.state, Cause: err}
	}
	r.log.Warnf(opDeploy, "%v", err)
	r.log.Warnf(opDeploy, "deployment failed after %d files (%d bytes)", r.res.FilesTransferred, r.res.BytesTransferred)
	r.res.State = StateFailed
	r.res.Error = err.Error()
	r.res.Logs = r.log.Lines()
	return r.res, err
}

// Deploy validates the request, transfers files, runs the service operations
// and verifies the outcome. The Result is always populated; the error is a
// *ValidationError or *DeployError.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (Result, error) {
	r := &run{o: o, req: req, log: events.NewRecorder(o.emit), state: StateIdle}
	// transfer progress from the session lands in this deployment's log
	ctx = events.WithEmitter(ctx, r.log)

	r.enter(StateValidating)
	transfers, err := validateFiles(req.Files)
	if err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		for _, e := range ve.Entries {
			r.log.Warnf(opDeploy, "invalid entry: %s", e)
		}
		return r.fail(err)
	}
	if len(transfers) == 0 && !req.RestartService && !req.InstallUnit {
		return r.fail(&ValidationError{Entries: []string{"nothing to do: no files and no service operation"}})
	}
	r.log.Logf(opDeploy, "%d files to transfer", len(transfers))

	r.enter(StateTransferring)
	for _, t := range transfers {
		if err := r.transfer(ctx, t); err != nil {
			return r.fail(err)
		}
	}

	r.enter(StateServiceOp)
	if req.InstallUnit {
		if err := r.installUnit(ctx); err != nil {
			return r.fail(err)
		}
	}
	if req.RestartService {
		if err := r.serviceCmd(ctx, "restart"); err != nil {
			return r.fail(err)
		}
	}

	r.enter(StateVerifying)
	st := o.CheckStatus(ctx)
	r.res.Status = &st
	if req.RestartService && st.ServiceRunning != ProbeTrue {
		return r.fail(fmt.Errorf("service %s is %s after restart", o.cfg.ServiceName, runningWord(st.ServiceRunning)))
	}

	r.enter(StateSucceeded)
	r.log.Logf(opDeploy, "deployment finished: %d files, %d bytes", r.res.FilesTransferred, r.res.BytesTransferred)
	r.res.Success = true
	r.res.State = StateSucceeded
	r.res.Logs = r.log.Lines()
	return r.res, nil
}

func runningWord(p Probe) string {
	if p == ProbeFalse {
		return "not running"
	}
	return "in an unknown state"
}

func (r *run) transfer(ctx context.Context, t transfer) error {
	if t.dir == Download {
		r.log.Logf(opDeploy, "downloading %s to %s", t.RemotePath, t.DownloadPath)
		n, err := r.o.remote.Download(ctx, t.RemotePath, t.DownloadPath)
		if err != nil {
			return fmt.Errorf("download %s: %w", t.RemotePath, err)
		}
		r.done(n)
		return nil
	}

	mode := "644"
	if t.RemotePath == r.o.binaryPath() {
		mode = "755"
	}
	r.log.Logf(opDeploy, "uploading %s to %s", t.LocalPath, t.RemotePath)
	n, err := r.place(ctx, t.LocalPath, t.RemotePath, mode)
	if err != nil {
		return fmt.Errorf("upload %s: %w", t.RemotePath, err)
	}
	r.done(n)
	return nil
}

func (r *run) done(n int64) {
	r.res.FilesTransferred++
	r.res.BytesTransferred += n
	r.log.Logf(opDeploy, "transferred %d of %d files (%d bytes)", r.res.FilesTransferred, countTransfers(r.req.Files), r.res.BytesTransferred)
}

func countTransfers(files []File) int {
	n := 0
	for _, f := range files {
		if _, why := f.Direction(); why == "" {
			n++
		}
	}
	return n
}

// place uploads local into the staging directory, then moves it into dest
// (with sudo when requested). The staged copy is removed if the move fails.
func (r *run) place(ctx context.Context, local, dest, mode string) (int64, error) {
	staged := path.Join(r.o.cfg.StagingDir, path.Base(dest)+".analysisops-"+uuid.NewString()[:8])
	n, err := r.o.remote.Upload(ctx, local, staged)
	if err != nil {
		return 0, err
	}

	sudo := r.sudo()
	cmd := fmt.Sprintf("%smkdir -p %s && %smv -f %s %s && %schmod %s %s",
		sudo, shellQuote(path.Dir(dest)),
		sudo, shellQuote(staged), shellQuote(dest),
		sudo, mode, shellQuote(dest))
	if err := r.exec(ctx, cmd); err != nil {
		if _, rmErr := r.o.remote.Run(ctx, "rm -f "+shellQuote(staged)); rmErr != nil {
			r.log.Warnf(opDeploy, "could not remove staged file %s: %v", staged, rmErr)
		}
		return n, err
	}
	return n, nil
}

func (r *run) installUnit(ctx context.Context) error {
	c := r.o.cfg
	unit, err := RenderUnit(c, r.req.UseRoot)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp("", "analysisops-*.service")
	if err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	defer os.Remove(f.Name())
	_, err = f.Write(unit)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	if !r.req.UseRoot {
		user := shellQuote(c.ServiceUser)
		r.log.Logf(opDeploy, "ensuring service user %s", c.ServiceUser)
		cmd := fmt.Sprintf("(id -u %s >/dev/null 2>&1 || useradd -r -s /bin/false %s) && chown -R %s:%s %s",
			user, user, user, user, shellQuote(c.InstallDir))
		if err := r.exec(ctx, cmd); err != nil {
			return err
		}
	}

	r.log.Logf(opDeploy, "installing unit %s", c.ServiceFile)
	if _, err := r.place(ctx, f.Name(), c.ServiceFile, "644"); err != nil {
		return fmt.Errorf("install unit: %w", err)
	}
	if err := r.exec(ctx, r.sudo()+"systemctl daemon-reload"); err != nil {
		return err
	}
	if err := r.exec(ctx, r.sudo()+"systemctl enable "+shellQuote(c.ServiceName)); err != nil {
		r.log.Warnf(opDeploy, "enable %s: %v", c.ServiceName, err)
	}
	return nil
}

func (r *run) serviceCmd(ctx context.Context, verb string) error {
	r.log.Logf(opDeploy, "%s %s", verb, r.o.cfg.ServiceName)
	return r.exec(ctx, r.sudo()+"systemctl "+verb+" "+shellQuote(r.o.cfg.ServiceName))
}

// exec runs cmd and treats a non-zero exit as failure.
func (r *run) exec(ctx context.Context, cmd string) error {
	res, err := r.o.remote.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return fmt.Errorf("%q exited %d: %s", cmd, res.ExitCode, msg)
	}
	return nil
}

func (r *run) sudo() string {
	if r.req.UseRoot {
		return "sudo "
	}
	return ""
}

func (o *Orchestrator) binaryPath() string {
	return o.cfg.InstallDir + "/bin/" + o.cfg.BinaryName
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ Remote = (*transport.Session)(nil)
