package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a session that was never opened or was closed.
	ErrNotConnected = errors.New("not connected")
	// ErrConnectionLost is returned by every call after the underlying connection dropped.
	ErrConnectionLost = errors.New("connection lost")
)

// ConnectErrorKind classifies why Dial failed.
type ConnectErrorKind string

const (
	ConnectAuth     ConnectErrorKind = "auth"
	ConnectNetwork  ConnectErrorKind = "network"
	ConnectProtocol ConnectErrorKind = "protocol"
)

// ConnectError is returned by Dial.
type ConnectError struct {
	Kind ConnectErrorKind
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s error: %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransferError is returned by Upload and Download.
type TransferError struct {
	Op     string // "upload" or "download"
	Path   string
	Reason string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Reason, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
