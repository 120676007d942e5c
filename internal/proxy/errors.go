package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrorKind classifies tunnel failures
type ErrorKind int

const (
	Unreachable ErrorKind = iota
	AuthRejected
	Timeout
	UnsupportedProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case AuthRejected:
		return "auth rejected"
	case Timeout:
		return "timeout"
	case UnsupportedProtocol:
		return "unsupported protocol"
	default:
		return "unknown"
	}
}

// Error is returned by Factory.Create. Status carries the proxy's reply
// code for AuthRejected (HTTP status or SOCKS reply byte).
type Error struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := "proxy: " + e.Kind.String()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a proxy Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// classify maps a dial or handshake error onto an ErrorKind
func classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if isTimeout(err) {
		return newError(Timeout, err)
	}
	return newError(Unreachable, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
