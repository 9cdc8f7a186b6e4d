package conn

import (
	"errors"
	"fmt"
)

var (
	ErrBusy                      = errors.New("conn: operation not allowed in current state")
	ErrAlreadyDisconnected       = errors.New("conn: already disconnected")
	ErrConnectionWaitTimeout     = errors.New("conn: connection wait timeout")
	ErrIceConnectionFailed       = errors.New("conn: ice connection failed")
	ErrIceConnectionDisconnected = errors.New("conn: ice connection disconnected")
	ErrMediaCapturerFailed       = errors.New("conn: media capturer failed")
	ErrConnectionTerminated      = errors.New("conn: connection terminated by protocol violation")

	// ErrConnectCanceled resolves a pending connect that was torn down by
	// Disconnect without any failure being observed.
	ErrConnectCanceled = errors.New("conn: connect canceled by disconnect")

	// ErrReleased is returned for calls made after Release.
	ErrReleased = errors.New("conn: machine released")
)

// TransportError wraps a failure reported by, or a send rejected by, the
// transport.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// TransportClosedError reports a transport closed by the remote side with a
// code that is not acceptable in the current state.
type TransportClosedError struct {
	Code   int
	Reason string
}

func (e *TransportClosedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transport closed: code %d", e.Code)
	}
	return fmt.Sprintf("transport closed: code %d: %s", e.Code, e.Reason)
}

// Stage names the negotiation step that failed.
type Stage string

const (
	StageCreateSession    Stage = "create-session"
	StageSetConfiguration Stage = "set-configuration"
	StageSetRemote        Stage = "set-remote-description"
	StageCreateAnswer     Stage = "create-answer"
	StageSetLocal         Stage = "set-local-description"
	StageSend             Stage = "send-answer"
)

// NegotiationError wraps a failure of one negotiation engine step.
type NegotiationError struct {
	Stage Stage
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed at %s: %v", e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// UnsupportedConfigurationError reports a server-supplied configuration value
// the engine cannot honour.
type UnsupportedConfigurationError struct {
	Detail string
}

func (e *UnsupportedConfigurationError) Error() string {
	return "unsupported configuration: " + e.Detail
}

// UpdateError wraps a failed renegotiation round. It is reported through the
// failure callback only; the connection stays up.
type UpdateError struct {
	Err error
}

func (e *UpdateError) Error() string { return fmt.Sprintf("update failed: %v", e.Err) }
func (e *UpdateError) Unwrap() error { return e.Err }
