package oauth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies credential failures
type ErrorKind int

const (
	// ReauthRequired means the grant is gone and the user must sign in again
	ReauthRequired ErrorKind = iota
	// RefreshFailed is a transient failure; the caller may retry
	RefreshFailed
)

func (k ErrorKind) String() string {
	if k == ReauthRequired {
		return "reauth required"
	}
	return "refresh failed"
}

// CredentialError is returned by GetValidToken and ExchangeCode
type CredentialError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	msg := "oauth: " + e.Kind.String()
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same call may succeed
func (e *CredentialError) Retryable() bool { return e.Kind == RefreshFailed }

// IsReauthRequired reports whether err demands a new interactive grant
func IsReauthRequired(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce) && ce.Kind == ReauthRequired
}

// IsRefreshFailed reports whether err is a retryable refresh failure
func IsRefreshFailed(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce) && ce.Kind == RefreshFailed
}
