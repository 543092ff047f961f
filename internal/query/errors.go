package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"analysisops/internal/transport"
)

// ErrorKind classifies a query or export failure.
type ErrorKind string

const (
	KindConnectionLost    ErrorKind = "connection_lost"
	KindMalformedSchema   ErrorKind = "malformed_schema"
	KindTimeout           ErrorKind = "timeout"
	KindRemoteToolMissing ErrorKind = "remote_tool_missing"
	KindCanceled          ErrorKind = "canceled"
	// KindRemote covers any other failure reported by the remote helper (bad db path, I/O).
	KindRemote ErrorKind = "remote_error"
	// KindOutput covers local CSV write failures.
	KindOutput ErrorKind = "output_error"
)

// Error is a classified query failure. Rows is the number of rows already
// emitted when the failure happened.
type Error struct {
	Kind    ErrorKind
	Message string
	Rows    int64
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("query ")
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Rows > 0 {
		fmt.Fprintf(&b, " (after %d rows)", e.Rows)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationError lists every problem found in a request. It is returned before
// anything is sent to the remote host.
type ValidationError struct {
	Entries []string
}

func (e *ValidationError) Error() string {
	return "invalid query request: " + strings.Join(e.Entries, "; ")
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var qe *Error
	return errors.As(err, &qe) && qe.Kind == kind
}

// classify wraps err with a kind derived from ctx and the transport state.
func classify(ctx context.Context, err error, rows int64, msg string) error {
	if err == nil {
		return nil
	}
	var qe *Error
	if errors.As(err, &qe) {
		if qe.Rows == 0 {
			qe.Rows = rows
		}
		return qe
	}

	kind := KindRemote
	switch {
	case errors.Is(err, transport.ErrConnectionLost), errors.Is(err, transport.ErrNotConnected):
		kind = KindConnectionLost
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		kind = KindCanceled
	}
	return &Error{Kind: kind, Message: msg, Rows: rows, Err: err}
}

// remoteFailure is the JSON the helper writes to stderr before exiting non-zero.
type remoteFailure struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

func classifyRemote(f remoteFailure) ErrorKind {
	msg := strings.ToLower(f.Error)
	switch {
	case strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "malformed"),
		strings.Contains(msg, "not a database"),
		strings.Contains(msg, "too many columns"):
		return KindMalformedSchema
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "timed out"):
		return KindTimeout
	default:
		return KindRemote
	}
}
