package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wagate/internal/domain"
)

// MemoryFactory builds in-memory drivers that replay a scripted event
// sequence after Initialize. Used by tests and the doctor command; no browser
// is involved.
type MemoryFactory struct {
	Script  []domain.DriverEvent // replayed on Initialize
	Delay   time.Duration        // pause between scripted events
	InitErr error                // forces Initialize to fail

	mu      sync.Mutex
	drivers map[string]*MemoryDriver
}

func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{drivers: make(map[string]*MemoryDriver)}
}

func (f *MemoryFactory) New(sessionID string) (domain.Driver, error) {
	d := &MemoryDriver{
		sessionID: sessionID,
		script:    f.Script,
		delay:     f.Delay,
		initErr:   f.InitErr,
		state:     "loading",
		events:    make(chan domain.DriverEvent, 16),
	}
	f.mu.Lock()
	f.drivers[sessionID] = d
	f.mu.Unlock()
	return d, nil
}

// Driver returns the most recent driver created for a session id.
func (f *MemoryFactory) Driver(sessionID string) *MemoryDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drivers[sessionID]
}

// MemoryDriver is a scriptable domain.Driver. Tests push events through Emit
// and inspect what was sent through Sent.
type MemoryDriver struct {
	sessionID string
	script    []domain.DriverEvent
	delay     time.Duration
	initErr   error

	events chan domain.DriverEvent

	mu        sync.Mutex
	destroyed bool
	state     string
	stateErr  error
	sendErr   error
	sent      []SentMessage
}

// SentMessage records one SendMessage call.
type SentMessage struct {
	To   string
	Body string
}

func (d *MemoryDriver) Events() <-chan domain.DriverEvent { return d.events }

func (d *MemoryDriver) Initialize(ctx context.Context) error {
	if d.initErr != nil {
		return d.initErr
	}
	go func() {
		for _, ev := range d.script {
			if d.delay > 0 {
				time.Sleep(d.delay)
			}
			d.Emit(ev)
		}
	}()
	return nil
}

// Emit pushes an event to the driver's consumers, tracking the implied state
// for later State calls. Events after Destroy are dropped.
func (d *MemoryDriver) Emit(ev domain.DriverEvent) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	switch ev.Type {
	case domain.DriverQR:
		d.state = "qr"
	case domain.DriverReady:
		d.state = "CONNECTED"
	case domain.DriverDisconnected:
		d.state = "disconnected"
	case domain.DriverAuthFailure:
		d.state = "auth_failure"
	}
	select {
	case d.events <- ev:
	default:
	}
	d.mu.Unlock()
}

// FailProbes makes subsequent State calls return an error.
func (d *MemoryDriver) FailProbes(err error) {
	d.mu.Lock()
	d.stateErr = err
	d.mu.Unlock()
}

// FailSends makes subsequent SendMessage calls return an error.
func (d *MemoryDriver) FailSends(err error) {
	d.mu.Lock()
	d.sendErr = err
	d.mu.Unlock()
}

func (d *MemoryDriver) State(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return "", fmt.Errorf("driver for session %s destroyed", d.sessionID)
	}
	if d.stateErr != nil {
		return "", d.stateErr
	}
	return d.state, nil
}

func (d *MemoryDriver) SendMessage(ctx context.Context, to, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return fmt.Errorf("driver for session %s destroyed", d.sessionID)
	}
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of all messages sent through this driver.
func (d *MemoryDriver) Sent() []SentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SentMessage, len(d.sent))
	copy(out, d.sent)
	return out
}

// Destroyed reports whether Destroy has been called.
func (d *MemoryDriver) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *MemoryDriver) Destroy(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil
	}
	d.destroyed = true
	close(d.events)
	return nil
}
