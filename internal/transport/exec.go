package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const opExec = "exec"

// Stream is a running remote command. Stdout and Stderr must be drained
// before Wait returns the exit code.
type Stream interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the command exits. A non-zero exit is reported as the
	// code with a nil error; err is only set when no exit status was received.
	Wait() (exitCode int, err error)
	// Close aborts the command.
	Close() error
}

// Result is the buffered output of Run.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type execStream struct {
	owner   *Session
	ctx     context.Context
	sess    *ssh.Session
	stdout  io.Reader
	stderr  io.Reader
	stop    func() bool
	closeMu sync.Once
}

// Execute starts command and returns as soon as the remote side accepted it.
// Cancelling ctx sends SIGKILL (best effort) and closes the channel.
func (s *Session) Execute(ctx context.Context, command string) (Stream, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return nil, s.wrapErr("open session", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := sess.Start(command); err != nil {
		_ = sess.Close()
		return nil, s.wrapErr("start command", err)
	}

	st := &execStream{owner: s, ctx: ctx, sess: sess, stdout: stdout, stderr: stderr}
	st.stop = context.AfterFunc(ctx, func() {
		_ = sess.Signal(ssh.SIGKILL)
		_ = st.Close()
		s.emit.Warnf(opExec, "command cancelled (%v); the remote process may still be running", context.Cause(ctx))
	})
	return st, nil
}

func (st *execStream) Stdout() io.Reader { return st.stdout }
func (st *execStream) Stderr() io.Reader { return st.stderr }

func (st *execStream) Wait() (int, error) {
	err := st.sess.Wait()
	st.stop()
	_ = st.Close()

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		if st.ctx.Err() != nil {
			return exitErr.ExitStatus(), st.ctx.Err()
		}
		return exitErr.ExitStatus(), nil
	case st.ctx.Err() != nil:
		return -1, st.ctx.Err()
	default:
		return -1, st.owner.wrapErr("wait", err)
	}
}

func (st *execStream) Close() error {
	var err error
	st.closeMu.Do(func() {
		err = st.sess.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	})
	return err
}

// Run executes command and buffers its output.
func (s *Session) Run(ctx context.Context, command string) (Result, error) {
	st, err := s.Execute(ctx, command)
	if err != nil {
		return Result{ExitCode: -1}, err
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = io.Copy(&stdout, st.Stdout()) }()
	go func() { defer wg.Done(); _, _ = io.Copy(&stderr, st.Stderr()) }()
	wg.Wait()

	code, err := st.Wait()
	return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code}, err
}

// wrapErr maps failures caused by a dropped connection to ErrConnectionLost.
// The watcher may lag the failing call slightly, so give it a moment.
func (s *Session) wrapErr(what string, err error) error {
	select {
	case <-s.done:
	case <-time.After(200 * time.Millisecond):
	}
	if s.lost() {
		_, reason := s.State()
		return fmt.Errorf("%s: %w: %s", what, ErrConnectionLost, reason)
	}
	return fmt.Errorf("%s: %w", what, err)
}
