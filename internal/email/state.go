package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// State is a session lifecycle state
type State int32

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Ready
	MailboxSelected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	case MailboxSelected:
		return "mailbox selected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrorKind classifies session failures
type ErrorKind int

const (
	// NotConnected means the operation's precondition state was not met.
	// Nothing was sent to the server.
	NotConnected ErrorKind = iota
	AuthFailed
	Timeout
	TransportClosed
)

func (k ErrorKind) String() string {
	return [...]string{"not connected", "auth failed", "timeout", "transport closed"}[k]
}

// SessionError is returned by Session operations
type SessionError struct {
	Kind  ErrorKind
	Op    string
	State State
	Err   error
}

func (e *SessionError) Error() string {
	msg := fmt.Sprintf("mail session: %s: %s", e.Op, e.Kind)
	if e.Kind == NotConnected {
		msg += " (state " + e.State.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }

// IsKind reports whether err is a SessionError of kind
func IsKind(err error, kind ErrorKind) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Kind == kind
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTransportError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
