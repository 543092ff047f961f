package deploy

import (
	"context"
	"strings"

	"analysisops/internal/transport"
)

// Probe is a tri-state check result. A probe that could not run is Unknown,
// which is not the same as a clean negative answer.
type Probe int8

const (
	ProbeUnknown Probe = iota
	ProbeFalse
	ProbeTrue
)

func probeOf(b bool) Probe {
	if b {
		return ProbeTrue
	}
	return ProbeFalse
}

func (p Probe) String() string {
	switch p {
	case ProbeTrue:
		return "yes"
	case ProbeFalse:
		return "no"
	default:
		return "unknown"
	}
}

// MarshalJSON renders unknown as null.
func (p Probe) MarshalJSON() ([]byte, error) {
	switch p {
	case ProbeTrue:
		return []byte("true"), nil
	case ProbeFalse:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (p *Probe) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true":
		*p = ProbeTrue
	case "false":
		*p = ProbeFalse
	default:
		*p = ProbeUnknown
	}
	return nil
}

// Status is a snapshot of the installation, recomputed on every check.
type Status struct {
	Installed      Probe `json:"installed"`
	ServiceExists  Probe `json:"serviceExists"`
	ServiceRunning Probe `json:"serviceRunning"`
	ServiceEnabled Probe `json:"serviceEnabled"`
}

// Runner executes a command and buffers its output. *transport.Session satisfies it.
type Runner interface {
	Run(ctx context.Context, command string) (transport.Result, error)
}

// systemd unit states that mean "not running" rather than "could not tell".
var inactiveStates = map[string]bool{
	"inactive": true, "failed": true, "activating": true, "deactivating": true,
	"reloading": true, "maintenance": true, "unknown": true,
}

var disabledStates = map[string]bool{
	"disabled": true, "static": true, "masked": true, "masked-runtime": true,
	"indirect": true, "generated": true, "transient": true, "linked": true,
	"linked-runtime": true, "alias": true, "not-found": true, "bad": true,
}

// CheckStatus runs the four probes. It changes nothing on the remote host.
func (o *Orchestrator) CheckStatus(ctx context.Context) Status {
	const op = "deploy_status"
	c := o.cfg
	st := Status{
		Installed:      o.probeTest(ctx, op, "binary", c.InstallDir+"/bin/"+c.BinaryName),
		ServiceExists:  o.probeTest(ctx, op, "unit file", c.ServiceFile),
		ServiceRunning: o.probeActive(ctx, op),
		ServiceEnabled: o.probeEnabled(ctx, op),
	}
	o.emit.Logf(op, "installed=%s unit=%s running=%s enabled=%s",
		st.Installed, st.ServiceExists, st.ServiceRunning, st.ServiceEnabled)
	return st
}

// probeTest checks that path is a regular file. test(1) exits 1 for "no"; anything
// else means the probe itself failed.
func (o *Orchestrator) probeTest(ctx context.Context, op, what, path string) Probe {
	res, err := o.remote.Run(ctx, "test -f "+shellQuote(path))
	if err != nil {
		o.emit.Warnf(op, "%s probe failed: %v", what, err)
		return ProbeUnknown
	}
	switch res.ExitCode {
	case 0:
		return ProbeTrue
	case 1:
		return ProbeFalse
	default:
		o.emit.Warnf(op, "%s probe exited %d: %s", what, res.ExitCode, strings.TrimSpace(res.Stderr))
		return ProbeUnknown
	}
}

func (o *Orchestrator) probeActive(ctx context.Context, op string) Probe {
	res, err := o.remote.Run(ctx, "systemctl is-active "+shellQuote(o.cfg.ServiceName))
	if err != nil {
		o.emit.Warnf(op, "service active probe failed: %v", err)
		return ProbeUnknown
	}
	state := firstWord(res.Stdout)
	switch {
	case res.ExitCode == 0 && state == "active":
		return ProbeTrue
	case inactiveStates[state]:
		return ProbeFalse
	default:
		o.emit.Warnf(op, "service active probe: unexpected answer %q (exit %d)", state, res.ExitCode)
		return ProbeUnknown
	}
}

func (o *Orchestrator) probeEnabled(ctx context.Context, op string) Probe {
	res, err := o.remote.Run(ctx, "systemctl is-enabled "+shellQuote(o.cfg.ServiceName))
	if err != nil {
		o.emit.Warnf(op, "service enabled probe failed: %v", err)
		return ProbeUnknown
	}
	state := firstWord(res.Stdout)
	switch {
	case state == "enabled" || state == "enabled-runtime":
		return ProbeTrue
	case disabledStates[state]:
		return ProbeFalse
	case state == "" && res.ExitCode != 0 && strings.Contains(strings.ToLower(res.Stderr), "no such file"):
		// Older systemd prints nothing on stdout for units that do not exist.
		return ProbeFalse
	default:
		o.emit.Warnf(op, "service enabled probe: unexpected answer %q (exit %d)", state, res.ExitCode)
		return ProbeUnknown
	}
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
