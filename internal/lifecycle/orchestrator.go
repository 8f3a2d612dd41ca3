package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"wagate/internal/admission"
	"wagate/internal/domain"
	"wagate/internal/metrics"
)

// Orchestrator is the caller-facing surface of the gateway. It owns the map
// of live machines and composes admission, the registry, the reconnect
// supervisor, and the health monitor behind simple session operations.
type Orchestrator struct {
	deps       *Deps
	admission  *admission.Controller
	supervisor *Supervisor
	audit      domain.AuditStore
	logger     *slog.Logger

	mu       sync.RWMutex
	machines map[string]*Machine
}

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Logger    *slog.Logger
	Admission *admission.Controller
	Audit     domain.AuditStore
	Reconnect SupervisorConfig
	Health    HealthConfig
	Deps      Deps
}

// NewOrchestrator builds the orchestrator plus its health monitor and
// reconnect supervisor around the shared dependency set.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	deps := cfg.Deps
	if deps.Logger == nil {
		deps.Logger = cfg.Logger
	}

	cfg.Health.Registry = deps.Registry
	if cfg.Health.Logger == nil {
		cfg.Health.Logger = cfg.Logger
	}
	deps.Health = NewHealthMonitor(cfg.Health)

	if cfg.Reconnect.Logger == nil {
		cfg.Reconnect.Logger = cfg.Logger
	}

	o := &Orchestrator{
		deps:      &deps,
		admission: cfg.Admission,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		machines:  make(map[string]*Machine),
	}
	o.supervisor = NewSupervisor(cfg.Reconnect, &deps)
	return o
}

// Connect admits and creates a new session for the tenant, persists it, and
// starts its first driver handle. The session id is returned once the handle
// is initializing; the QR code arrives later as an event.
func (o *Orchestrator) Connect(ctx context.Context, tenantID, name string) (string, error) {
	if err := o.admission.CheckAccountCreation(ctx, tenantID); err != nil {
		return "", err
	}

	sess := domain.Session{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		State:     domain.StateInit,
		CreatedAt: time.Now(),
	}
	if err := o.deps.Store.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session row: %w", err)
	}

	m := newMachine(sess, o.deps)
	o.mu.Lock()
	o.machines[sess.ID] = m
	o.mu.Unlock()

	o.auditLog(ctx, tenantID, "session.connect", fmt.Sprintf("session %s (%s)", sess.ID, name))

	if err := m.startHandle(ctx); err != nil {
		// The row stays DISCONNECTED so the tenant can retry with reconnect.
		o.logger.Error("initial handle start failed", "session", sess.ID, "err", err)
		return "", err
	}

	o.logger.Info("session connecting", "session", sess.ID, "tenant", tenantID, "name", name)
	return sess.ID, nil
}

// Reconnect replaces the session's handle and waits for a decisive outcome.
// Overlapping reconnects for the same session fail fast with ErrBusy.
func (o *Orchestrator) Reconnect(ctx context.Context, sessionID string) (Result, error) {
	m, err := o.machine(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if m.Snapshot().State.Terminal() {
		return "", domain.ErrTerminalState
	}

	o.auditLog(ctx, m.TenantID(), "session.reconnect", "session "+sessionID)
	return o.supervisor.Reconnect(ctx, m)
}

// Destroy tears the session down from any state: cancels any in-flight
// reconnect wait and health probe, destroys the handle, and removes the row.
func (o *Orchestrator) Destroy(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	m, ok := o.machines[sessionID]
	if ok {
		delete(o.machines, sessionID)
	}
	o.mu.Unlock()

	if !ok {
		// No live machine; clean up whatever the store still has.
		sess, err := o.deps.Store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if o.deps.Registry.Release(sessionID) {
			metrics.ActiveSessions.Dec()
		}
		o.deps.Registry.Remove(sessionID)
		if err := o.deps.Store.DeleteSession(ctx, sessionID); err != nil {
			return fmt.Errorf("delete session row: %w", err)
		}
		o.auditLog(ctx, sess.TenantID, "session.destroy", "session "+sessionID)
		return nil
	}

	tenantID := m.TenantID()
	m.Destroy()
	o.deps.Registry.Remove(sessionID)
	if err := o.deps.Store.DeleteSession(ctx, sessionID); err != nil {
		o.logger.Warn("cannot delete session row", "session", sessionID, "err", err)
	}

	o.auditLog(ctx, tenantID, "session.destroy", "session "+sessionID)
	o.logger.Info("session destroyed", "session", sessionID, "tenant", tenantID)
	return nil
}

// SendMessage sends a message through a CONNECTED session, subject to the
// tenant's monthly quota. The sent message is recorded for usage accounting.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, to, body string) error {
	m, err := o.machine(ctx, sessionID)
	if err != nil {
		return err
	}
	snap := m.Snapshot()
	if snap.State != domain.StateConnected {
		return domain.ErrNotConnected
	}

	if err := o.admission.CheckMessageSend(ctx, snap.TenantID); err != nil {
		return err
	}

	handle, err := o.deps.Registry.Acquire(sessionID)
	if err != nil {
		return domain.ErrNotConnected
	}
	if err := handle.SendMessage(ctx, to, body); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	rec := domain.MessageRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TenantID:  snap.TenantID,
		Direction: "out",
		Recipient: to,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := o.deps.Messages.SaveMessage(ctx, rec); err != nil {
		o.logger.Warn("cannot record outbound message", "session", sessionID, "err", err)
	}
	metrics.MessagesOut.Inc()
	return nil
}

// GetStatus returns the session's current state. Sessions without a live
// machine fall back to their persisted row.
func (o *Orchestrator) GetStatus(ctx context.Context, sessionID string) (domain.Session, error) {
	o.mu.RLock()
	m, ok := o.machines[sessionID]
	o.mu.RUnlock()
	if ok {
		return m.Snapshot(), nil
	}
	sess, err := o.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return *sess, nil
}

// SetWebhook sets the session's outbound webhook URL. Gated on the tenant's
// plan including webhook access. An empty URL clears the webhook.
func (o *Orchestrator) SetWebhook(ctx context.Context, sessionID, url string) error {
	m, err := o.machine(ctx, sessionID)
	if err != nil {
		return err
	}
	if url != "" {
		allowed, err := o.admission.WebhookAccess(ctx, m.TenantID())
		if err != nil {
			return err
		}
		if !allowed {
			return domain.ErrFeatureNotInPlan
		}
	}
	m.SetWebhookURL(url)
	o.auditLog(ctx, m.TenantID(), "session.webhook", "session "+sessionID)
	return nil
}

// UsageReport is a tenant's consumption against its plan ceilings.
type UsageReport struct {
	PlanID            string `json:"plan"`
	Accounts          int    `json:"accounts"`
	MaxAccounts       int    `json:"maxAccounts"`
	MessagesThisMonth int    `json:"messagesThisMonth"`
	MaxMessages       int    `json:"maxMessages"`
}

// Usage reports the tenant's current consumption and limits.
func (o *Orchestrator) Usage(ctx context.Context, tenantID string) (UsageReport, error) {
	plan, usage, err := o.admission.Lookup(ctx, tenantID)
	if err != nil {
		return UsageReport{}, err
	}
	return UsageReport{
		PlanID:            plan.ID,
		Accounts:          usage.Accounts,
		MaxAccounts:       plan.MaxAccounts,
		MessagesThisMonth: usage.MessagesThisMonth,
		MaxMessages:       plan.MaxMessagesPerMonth,
	}, nil
}

// ListSessions returns the tenant's sessions, preferring live machine state
// over the persisted rows.
func (o *Orchestrator) ListSessions(ctx context.Context, tenantID string) ([]domain.Session, error) {
	rows, err := o.deps.Store.ListSessions(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		if m, ok := o.machines[row.ID]; ok {
			out = append(out, m.Snapshot())
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// Resume loads persisted sessions at boot. Handles never survive a restart,
// so rows stuck in a live state are reset to DISCONNECTED and a machine is
// rebuilt for every non-terminal session, ready for reconnect.
func (o *Orchestrator) Resume(ctx context.Context) error {
	rows, err := o.deps.Store.ListSessions(ctx, "")
	if err != nil {
		return fmt.Errorf("list persisted sessions: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, row := range rows {
		if row.State.Terminal() {
			continue
		}
		if row.State != domain.StateInit && row.State != domain.StateDisconnected {
			row.State = domain.StateDisconnected
			row.QRCode = ""
			if err := o.deps.Store.UpdateSession(ctx, row); err != nil {
				o.logger.Warn("cannot reset stale session", "session", row.ID, "err", err)
			}
		}
		o.machines[row.ID] = newMachine(row, o.deps)
	}
	o.logger.Info("sessions resumed", "count", len(o.machines))
	return nil
}

// Shutdown releases every live handle and stops all probes. Session rows keep
// their last state for Resume on the next boot.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	machines := make([]*Machine, 0, len(o.machines))
	for _, m := range o.machines {
		machines = append(machines, m)
	}
	o.machines = make(map[string]*Machine)
	o.mu.Unlock()

	o.deps.Health.StopAll()
	for _, m := range machines {
		if o.deps.Registry.Release(m.ID()) {
			metrics.ActiveSessions.Dec()
		}
	}
	o.logger.Info("all session handles released", "count", len(machines))
}

// machine returns the live machine for a session id, lazily rebuilding one
// from the store for sessions persisted before this process started.
func (o *Orchestrator) machine(ctx context.Context, sessionID string) (*Machine, error) {
	o.mu.RLock()
	m, ok := o.machines[sessionID]
	o.mu.RUnlock()
	if ok {
		return m, nil
	}

	sess, err := o.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.machines[sessionID]; ok {
		return m, nil
	}
	m = newMachine(*sess, o.deps)
	o.machines[sessionID] = m
	return m, nil
}

func (o *Orchestrator) auditLog(ctx context.Context, tenantID, action, details string) {
	if o.audit == nil {
		return
	}
	err := o.audit.LogAudit(ctx, domain.AuditEntry{
		TenantID:  tenantID,
		Action:    action,
		Category:  "session",
		Details:   details,
		CreatedAt: time.Now(),
	})
	if err != nil {
		o.logger.Warn("cannot write audit entry", "tenant", tenantID, "action", action, "err", err)
	}
}
