// Package lifecycle drives per-session connection state: the state machine
// fed by driver events, the health monitor for connected sessions, the
// reconnect supervisor, and the caller-facing orchestrator.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"sync"

	"wagate/internal/domain"
	"wagate/internal/metrics"
	"wagate/internal/registry"
)

// WebhookSender delivers an inbound message to a tenant-configured URL.
// Delivery is best-effort: one POST, no retries.
type WebhookSender interface {
	Deliver(ctx context.Context, url string, msg domain.InboundMessage) error
}

// Deps bundles the collaborators shared by machines, the health monitor, and
// the reconnect supervisor.
type Deps struct {
	Registry *registry.Registry
	Notifier domain.Notifier
	Store    domain.SessionStore
	Messages domain.MessageStore
	Drivers  domain.DriverFactory
	Webhooks WebhookSender
	Health   *HealthMonitor
	Logger   *slog.Logger
}

// Machine serializes all state transitions for one session. Driver callbacks,
// probe failures, and destroy requests funnel through it; no other component
// mutates session state.
type Machine struct {
	mu   sync.Mutex
	sess domain.Session
	gen  int // handle generation; events from a replaced handle are ignored

	ctx    context.Context // session-scoped, cancelled on destroy
	cancel context.CancelFunc

	deps *Deps
}

func newMachine(sess domain.Session, deps *Deps) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{sess: sess, ctx: ctx, cancel: cancel, deps: deps}
}

// ID returns the session id.
func (m *Machine) ID() string {
	return m.sess.ID
}

// TenantID returns the owning tenant id.
func (m *Machine) TenantID() string {
	return m.sess.TenantID
}

// Context is cancelled when the session is destroyed. The reconnect
// supervisor derives its poll wait from it so a concurrent destroy aborts the
// wait promptly.
func (m *Machine) Context() context.Context {
	return m.ctx
}

// Generation returns the current handle generation.
func (m *Machine) Generation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Snapshot returns a copy of the current session state.
func (m *Machine) Snapshot() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// startHandle creates, registers, and initializes a fresh driver handle for
// the session, transitioning to CONNECTING. The previous handle, if any, must
// already have been released. Initialization failure cleans the handle up and
// leaves the session DISCONNECTED.
func (m *Machine) startHandle(ctx context.Context) error {
	m.mu.Lock()
	if m.sess.State.Terminal() {
		m.mu.Unlock()
		return domain.ErrTerminalState
	}
	m.gen++
	gen := m.gen
	m.setStateLocked(domain.StateConnecting, domain.EventStatusChanged, nil)
	m.mu.Unlock()

	drv, err := m.deps.Drivers.New(m.sess.ID)
	if err != nil {
		m.forceState(gen, domain.StateDisconnected)
		return &domain.DriverInitError{SessionID: m.sess.ID, Err: err}
	}
	if err := m.deps.Registry.Register(m.sess.ID, drv); err != nil {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		drv.Destroy(dctx)
		cancel()
		m.forceState(gen, domain.StateDisconnected)
		return err
	}
	metrics.ActiveSessions.Inc()

	go m.pump(gen, drv.Events())

	if err := drv.Initialize(ctx); err != nil {
		if m.deps.Registry.Release(m.sess.ID) {
			metrics.ActiveSessions.Dec()
		}
		m.forceState(gen, domain.StateDisconnected)
		return &domain.DriverInitError{SessionID: m.sess.ID, Err: err}
	}
	return nil
}

// pump translates the driver's event stream into state transitions. It exits
// when the driver closes its channel (destroy) or the session is destroyed.
func (m *Machine) pump(gen int, events <-chan domain.DriverEvent) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.apply(gen, ev)
		}
	}
}

// apply dispatches one driver event through the transition table. Events from
// a stale handle generation or against a terminal state are no-ops.
func (m *Machine) apply(gen int, ev domain.DriverEvent) {
	m.mu.Lock()
	if gen != m.gen || m.sess.State.Terminal() {
		m.mu.Unlock()
		return
	}

	var after func()
	state := m.sess.State

	switch ev.Type {
	case domain.DriverQR:
		// Repeated QR codes are expected while the user has not scanned yet;
		// each one replaces the stored code and is announced once.
		if state == domain.StateConnecting || state == domain.StateAwaitingScan {
			m.sess.State = domain.StateAwaitingScan
			m.sess.QRCode = ev.QR
			m.persistLocked()
			m.deps.Notifier.Publish(m.sess.TenantID, domain.Event{
				Type:      domain.EventQRIssued,
				SessionID: m.sess.ID,
				TenantID:  m.sess.TenantID,
				Payload:   map[string]any{"qrCode": ev.QR},
			})
		}

	case domain.DriverAuthenticated:
		if state == domain.StateConnecting || state == domain.StateAwaitingScan {
			m.setStateLocked(domain.StateAuthenticated, domain.EventStatusChanged, nil)
		}

	case domain.DriverReady:
		// ready is authoritative even when authenticated was never observed;
		// the driver does not guarantee the ordering of the two signals.
		if state == domain.StateConnecting || state == domain.StateAwaitingScan || state == domain.StateAuthenticated {
			now := time.Now()
			m.sess.LastActive = &now
			m.setStateLocked(domain.StateConnected, domain.EventStatusChanged, nil)
			metrics.ConnectedSessions.Inc()
			after = func() { m.deps.Health.Watch(m) }
		}

	case domain.DriverAuthFailure:
		m.setStateLocked(domain.StateAuthFailed, domain.EventStatusChanged, nil)
		if state == domain.StateConnected {
			metrics.ConnectedSessions.Dec()
		}
		after = func() {
			m.deps.Health.Stop(m.sess.ID)
			if m.deps.Registry.Release(m.sess.ID) {
				metrics.ActiveSessions.Dec()
			}
		}

	case domain.DriverDisconnected:
		if state == domain.StateConnected || state == domain.StateAuthenticated {
			m.setStateLocked(domain.StateDisconnected, domain.EventStatusChanged, nil)
			if state == domain.StateConnected {
				metrics.ConnectedSessions.Dec()
			}
			after = func() { m.deps.Health.Stop(m.sess.ID) }
		}

	case domain.DriverMessage:
		if state == domain.StateConnected && ev.Message != nil {
			now := time.Now()
			m.sess.LastActive = &now
			m.persistLocked()
			after = m.inboundLocked(*ev.Message)
		}
	}

	m.mu.Unlock()
	if after != nil {
		after()
	}
}

// inboundLocked handles a received message: record it, fan it out, and kick
// off the optional webhook POST. Returns the part that must run unlocked.
func (m *Machine) inboundLocked(msg domain.InboundMessage) func() {
	sess := m.sess
	m.deps.Notifier.Publish(sess.TenantID, domain.Event{
		Type:      domain.EventMessageReceived,
		SessionID: sess.ID,
		TenantID:  sess.TenantID,
		Payload:   map[string]any{"message": msg},
	})
	metrics.MessagesIn.Inc()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rec := domain.MessageRecord{
			ID:        msg.ID,
			SessionID: sess.ID,
			TenantID:  sess.TenantID,
			Direction: "in",
			Sender:    msg.From,
			Recipient: msg.To,
			Body:      msg.Body,
			CreatedAt: msg.Timestamp,
		}
		if err := m.deps.Messages.SaveMessage(ctx, rec); err != nil {
			m.deps.Logger.Warn("cannot save inbound message", "session", sess.ID, "err", err)
		}

		if sess.WebhookURL != "" {
			if err := m.deps.Webhooks.Deliver(ctx, sess.WebhookURL, msg); err != nil {
				m.deps.Logger.Warn("webhook delivery failed",
					"session", sess.ID, "url", sess.WebhookURL, "err", err)
			}
		}
	}
}

// ProbeFailed is fired by the health monitor when a liveness check fails on a
// CONNECTED session.
func (m *Machine) ProbeFailed() {
	m.mu.Lock()
	if m.sess.State != domain.StateConnected {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(domain.StateDisconnected, domain.EventStatusChanged, nil)
	metrics.ConnectedSessions.Dec()
	m.mu.Unlock()
	m.deps.Health.Stop(m.sess.ID)
}

// Touch refreshes lastActive after a successful probe. State is unchanged and
// no event is emitted.
func (m *Machine) Touch() {
	m.mu.Lock()
	now := time.Now()
	m.sess.LastActive = &now
	m.persistLocked()
	m.mu.Unlock()
}

// SetWebhookURL updates the session's outbound webhook target.
func (m *Machine) SetWebhookURL(url string) {
	m.mu.Lock()
	m.sess.WebhookURL = url
	m.persistLocked()
	m.mu.Unlock()
}

// Destroy moves the session to DESTROYED from any state, cancels the in-flight
// reconnect poll and health timer, and releases the handle. Idempotent.
func (m *Machine) Destroy() {
	m.mu.Lock()
	if m.sess.State == domain.StateDestroyed {
		m.mu.Unlock()
		return
	}
	wasConnected := m.sess.State == domain.StateConnected
	m.setStateLocked(domain.StateDestroyed, domain.EventStatusChanged, nil)
	m.mu.Unlock()

	m.cancel()
	m.deps.Health.Stop(m.sess.ID)
	if wasConnected {
		metrics.ConnectedSessions.Dec()
	}
	if m.deps.Registry.Release(m.sess.ID) {
		metrics.ActiveSessions.Dec()
	}
}

// forceState installs a state outside the driver-event path (init failure,
// reconnect timeout). No-op when the handle generation moved on or the
// session reached a terminal state.
func (m *Machine) forceState(gen int, state domain.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.sess.State.Terminal() || m.sess.State == state {
		return
	}
	if m.sess.State == domain.StateConnected {
		metrics.ConnectedSessions.Dec()
	}
	m.setStateLocked(state, domain.EventStatusChanged, nil)
}

// setStateLocked installs the new state, clears the QR code, persists the row
// and publishes exactly one event. Callers hold m.mu.
func (m *Machine) setStateLocked(state domain.State, evType domain.EventType, payload map[string]any) {
	m.sess.State = state
	if state != domain.StateAwaitingScan {
		m.sess.QRCode = ""
	}
	m.persistLocked()

	if payload == nil {
		payload = map[string]any{"status": string(state)}
	}
	m.deps.Notifier.Publish(m.sess.TenantID, domain.Event{
		Type:      evType,
		SessionID: m.sess.ID,
		TenantID:  m.sess.TenantID,
		Payload:   payload,
	})
}

// persistLocked mirrors the session row best-effort. Store failures never
// block a transition.
func (m *Machine) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.deps.Store.UpdateSession(ctx, m.sess); err != nil {
		m.deps.Logger.Warn("cannot persist session state",
			"session", m.sess.ID, "state", m.sess.State, "err", err)
	}
}
