package domain

import (
	"context"
	"time"
)

// DriverEventType enumerates the callbacks the external messaging driver emits.
type DriverEventType string

const (
	DriverQR            DriverEventType = "qr"
	DriverAuthenticated DriverEventType = "authenticated"
	DriverReady         DriverEventType = "ready"
	DriverAuthFailure   DriverEventType = "auth_failure"
	DriverDisconnected  DriverEventType = "disconnected"
	DriverMessage       DriverEventType = "message"
)

// DriverEvent is the uniform form the driver's native callbacks are translated
// into at the boundary. The state machine consumes these and nothing else.
type DriverEvent struct {
	Type    DriverEventType
	QR      string          // set for DriverQR
	Message *InboundMessage // set for DriverMessage
	Reason  string          // optional detail for failures/disconnects
}

// InboundMessage is a message received on a connected session.
type InboundMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Driver is the live external automation-driven client bound 1:1 to a session
// while connecting or connected. It is an opaque, unreliable dependency: event
// ordering is not guaranteed (ready may arrive without authenticated).
//
// Events returns the stream of translated callbacks; the channel is closed
// when the driver is destroyed. Destroy must be safe to call more than once.
type Driver interface {
	Initialize(ctx context.Context) error
	State(ctx context.Context) (string, error)
	SendMessage(ctx context.Context, to, body string) error
	Destroy(ctx context.Context) error
	Events() <-chan DriverEvent
}

// DriverFactory creates a fresh driver handle for a session id. Each call must
// return a new, uninitialized instance.
type DriverFactory interface {
	New(sessionID string) (Driver, error)
}
