// Package transport owns the single authenticated SSH connection to the remote host.
// It runs commands with live output, transfers files over SFTP with temp-then-rename
// semantics, and turns a dropped connection into a sticky Failed state.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"analysisops/internal/config"
	"analysisops/internal/events"
)

const opConnect = "connect"

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Target identifies the remote account. KeyFile is tried before Password.
type Target struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Addr returns host:port, defaulting the port to 22.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// String returns user@host:port.
func (t Target) String() string {
	return t.Username + "@" + t.Addr()
}

// Options tunes how a session is dialed.
type Options struct {
	ConnectTimeout time.Duration
	KnownHostsFile string
	KeepAlive      time.Duration
}

// OptionsFromConfig maps the ssh config section to dial options.
func OptionsFromConfig(c config.SSHConfig) Options {
	return Options{
		ConnectTimeout: c.ConnectTimeout,
		KnownHostsFile: c.KnownHostsFile,
		KeepAlive:      c.KeepAlive,
	}
}

// Session is one live SSH connection. It is safe for concurrent use, but callers
// are expected to serialize logical operations (see internal/service).
type Session struct {
	target Target
	client *ssh.Client
	emit   events.Emitter

	mu      sync.Mutex
	state   State
	reason  string
	closing bool
	sftp    *sftp.Client

	done chan struct{}
}

// Dial opens and authenticates a new session.
func Dial(ctx context.Context, target Target, opts Options, emit events.Emitter) (*Session, error) {
	if emit == nil {
		emit = events.Discard
	}
	addr := target.Addr()
	if target.Host == "" || target.Username == "" {
		return nil, &ConnectError{Kind: ConnectNetwork, Addr: addr, Err: errors.New("host and username are required")}
	}

	auth, err := authMethods(target, emit)
	if err != nil {
		return nil, &ConnectError{Kind: ConnectAuth, Addr: addr, Err: err}
	}

	hostKeys, err := hostKeyCallback(opts.KnownHostsFile)
	if err != nil {
		return nil, &ConnectError{Kind: ConnectProtocol, Addr: addr, Err: err}
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	emit.Logf(opConnect, "connecting to %s", target)

	clientCfg := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Kind: ConnectNetwork, Addr: addr, Err: err}
	}

	// The handshake has no context of its own; bound it by deadline and ctx.
	_ = conn.SetDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	stopped := stop()
	if err != nil {
		_ = conn.Close()
		if !stopped {
			return nil, &ConnectError{Kind: ConnectNetwork, Addr: addr, Err: ctx.Err()}
		}
		return nil, classifyHandshake(addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	s := &Session{
		target: target,
		client: ssh.NewClient(sshConn, chans, reqs),
		emit:   emit,
		state:  StateConnected,
		done:   make(chan struct{}),
	}
	go s.watch()
	if opts.KeepAlive > 0 {
		go s.keepAlive(opts.KeepAlive)
	}

	emit.Logf(opConnect, "connected to %s", target)
	return s, nil
}

func authMethods(target Target, emit events.Emitter) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if target.KeyFile != "" {
		if pem, err := os.ReadFile(target.KeyFile); err == nil {
			signer, err := ssh.ParsePrivateKey(pem)
			if err == nil {
				methods = append(methods, ssh.PublicKeys(signer))
			} else {
				emit.Warnf(opConnect, "key file %s unusable (%v), falling back to password", target.KeyFile, err)
			}
		} else {
			emit.Warnf(opConnect, "key file %s not readable, falling back to password", target.KeyFile)
		}
	}

	if target.Password != "" {
		pw := target.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, errors.New("no usable credential: provide a password or a key file")
	}
	return methods, nil
}

func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", knownHostsFile, err)
	}
	return cb, nil
}

func classifyHandshake(addr string, err error) *ConnectError {
	var netErr net.Error
	switch {
	case strings.Contains(err.Error(), "unable to authenticate"):
		return &ConnectError{Kind: ConnectAuth, Addr: addr, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &ConnectError{Kind: ConnectNetwork, Addr: addr, Err: err}
	default:
		return &ConnectError{Kind: ConnectProtocol, Addr: addr, Err: err}
	}
}

// watch blocks until the SSH connection ends and records why.
func (s *Session) watch() {
	err := s.client.Wait()

	s.mu.Lock()
	closing := s.closing
	if closing {
		s.state = StateDisconnected
	} else {
		s.state = StateFailed
		s.reason = "connection closed by remote"
		if err != nil {
			s.reason = err.Error()
		}
	}
	reason := s.reason
	s.mu.Unlock()
	close(s.done)

	if !closing {
		s.emit.Warnf(opConnect, "connection to %s lost: %s", s.target, reason)
	}
}

func (s *Session) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				_ = s.client.Close()
				return
			}
		}
	}
}

// Target returns the identity this session was dialed with.
func (s *Session) Target() Target { return s.target }

// State returns the current state and, for StateFailed, the reason.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason
}

// Done is closed once the connection has ended for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// check returns nil when the session can be used.
func (s *Session) check() error {
	if s == nil {
		return ErrNotConnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: %s", ErrConnectionLost, s.reason)
	default:
		return ErrNotConnected
	}
}

// lost reports whether the connection dropped underneath us.
func (s *Session) lost() bool {
	select {
	case <-s.done:
	default:
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateFailed
}

// Close tears the session down. Calling it more than once is a no-op.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	sc := s.sftp
	s.sftp = nil
	s.mu.Unlock()

	if sc != nil {
		_ = sc.Close()
	}
	err := s.client.Close()
	<-s.done

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Session) sftpClient() (*sftp.Client, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftp != nil {
		return s.sftp, nil
	}
	sc, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}
	s.sftp = sc
	return sc, nil
}
