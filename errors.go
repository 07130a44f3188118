package agentlink

import (
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"
)

var (
	ErrInvalidCfg      = errors.New("transport: invalid options")
	ErrNoTLSConfig     = errors.New("transport: TLS config is required for QUIC")
	ErrUnknownNetwork  = errors.New("transport: unknown network")
	ErrListen          = errors.New("transport: could not listen")
	ErrAlreadyStarted  = errors.New("transport: already started")
	ErrStopped         = errors.New("transport: stopped")
	ErrStopTimeout     = errors.New("transport: goroutines did not stop in time")
	ErrNoStream        = errors.New("transport: peer opened no stream")
	ErrHubClosed       = errors.New("hub: closed")
	ErrUnknownEndpoint = errors.New("hub: unknown endpoint")
)

var (
	QErrInternal = QuicApplicationError{
		Code:   0x1,
		Prefix: "internal",
	}
	QErrShutdown = QuicApplicationError{
		Code:   0x3,
		Prefix: "shutdown",
	}
	QErrBusy = QuicApplicationError{
		Code:   0x5,
		Prefix: "busy",
	}
	QErrPeerLost = QuicApplicationError{
		Code:   0x6,
		Prefix: "peer lost",
	}
)

type QuicApplicationError struct {
	Code   uint64
	Prefix string
}

func (qerr *QuicApplicationError) Close(conn quic.Connection, msg string) error {
	if conn != nil {
		return conn.CloseWithError(
			quic.ApplicationErrorCode(qerr.Code),
			fmt.Sprintf("%s: %s", qerr.Prefix, msg),
		)
	}
	return nil
}

// ClosedBy records why a connection was torn down.
type ClosedBy uint8

const (
	ClosedByUnknown ClosedBy = iota
	ClosedByStop
	ClosedByRemote
	ClosedByBusy
	ClosedByProtocol
)

func (cause ClosedBy) String() string {
	switch cause {
	case ClosedByStop:
		return "stop"
	case ClosedByRemote:
		return "remote"
	case ClosedByBusy:
		return "busy"
	case ClosedByProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// ClosedError is the reason attached to a closed connection.
type ClosedError struct {
	Cause ClosedBy
	Err   error
}

func (cerr *ClosedError) Error() string {
	if cerr.Err == nil {
		return fmt.Sprintf("connection closed by %s", cerr.Cause)
	}
	return fmt.Sprintf("connection closed by %s: %s", cerr.Cause, cerr.Err)
}

func (cerr *ClosedError) Unwrap() error {
	return cerr.Err
}
