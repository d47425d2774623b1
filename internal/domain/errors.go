package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the operation needs an elevated token.
	ErrPermissionDenied = errors.New("permission denied: elevated privileges required")

	// ErrHookInstallFailed means the system-wide key filter could not be registered.
	ErrHookInstallFailed = errors.New("keyboard hook install failed")

	// ErrUnsupported is returned by capability stubs on platforms without an implementation.
	ErrUnsupported = errors.New("not supported on this platform")
)

// ConnectError is a failed connect attempt against one endpoint.
type ConnectError struct {
	Endpoint string
	Status   int // HTTP status when the probe got an answer, 0 otherwise
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("connect %s: unexpected status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError is a rejected or failed login.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login failed: %s: %v", e.Message, e.Err)
	}
	return "login failed: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unknown push frame.
type ProtocolError struct {
	Frame string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ProcessAccessError is a per-process enumeration or termination failure.
type ProcessAccessError struct {
	PID  int
	Name string
	Op   string
	Err  error
}

func (e *ProcessAccessError) Error() string {
	return fmt.Sprintf("%s pid %d (%s): %v", e.Op, e.PID, e.Name, e.Err)
}

func (e *ProcessAccessError) Unwrap() error { return e.Err }

// PolicyWriteError is a failure reading, writing or deleting one policy value.
type PolicyWriteError struct {
	Change PolicyChange
	Op     string
	Err    error
}

func (e *PolicyWriteError) Error() string {
	return fmt.Sprintf("policy %s %s: %v", e.Op, e.Change.Key(), e.Err)
}

func (e *PolicyWriteError) Unwrap() error { return e.Err }
