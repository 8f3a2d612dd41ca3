package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the session or tenant is unknown.
	ErrNotFound = errors.New("not found")
	// ErrHandleExists means a live driver handle is already registered for the
	// session id. At most one live handle may exist per session at any time.
	ErrHandleExists = errors.New("handle already registered")
	// ErrBusy means a reconnect is already in flight for the session.
	ErrBusy = errors.New("reconnect already in progress")
	// ErrNotConnected means the operation requires a CONNECTED session.
	ErrNotConnected = errors.New("session not connected")
	// ErrReconnectTimeout means the reconnect poll budget was exhausted with no
	// decisive outcome; the handle has been torn down.
	ErrReconnectTimeout = errors.New("reconnect timed out")
	// ErrTerminalState means the session is in AUTH_FAILED or DESTROYED;
	// only destroying it and connecting a new session moves forward.
	ErrTerminalState = errors.New("session in terminal state")
	// ErrFeatureNotInPlan means the tenant's plan does not include the
	// requested feature, such as outbound webhooks.
	ErrFeatureNotInPlan = errors.New("feature not included in plan")
)

// AdmissionDeniedError is returned when a quota-consuming action would exceed
// the tenant's plan. It carries the usage/limit pair so callers can render an
// upgrade prompt.
type AdmissionDeniedError struct {
	Resource string // "accounts" | "messages"
	Current  int
	Max      int
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("admission denied: %s quota reached (%d/%d)", e.Resource, e.Current, e.Max)
}

// DriverInitError means the external driver failed to start. The handle has
// already been cleaned up when this surfaces.
type DriverInitError struct {
	SessionID string
	Err       error
}

func (e *DriverInitError) Error() string {
	return fmt.Sprintf("driver init failed for session %s: %v", e.SessionID, e.Err)
}

func (e *DriverInitError) Unwrap() error { return e.Err }
