package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"wagate/internal/domain"
	"wagate/internal/metrics"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxAttempts  = 12
)

// Result is the outcome of a reconnect operation.
type Result string

const (
	// ResultConnected means the session reached CONNECTED within the budget.
	ResultConnected Result = "CONNECTED"
	// ResultAwaitingScan means the budget elapsed with a QR code pending; the
	// handle is kept alive waiting for a human to scan.
	ResultAwaitingScan Result = "AWAITING_SCAN"
	// ResultTimeout means no decisive outcome arrived; the handle was torn
	// down and the session forced to DISCONNECTED.
	ResultTimeout Result = "TIMEOUT"
)

var errNotDecisive = errors.New("no decisive connection outcome yet")

// Supervisor replaces a session's driver handle and waits, with a bounded
// attempt budget, for the new handle to reach a decisive state. At most one
// reconnect runs per session; overlapping requests fail fast with ErrBusy.
type Supervisor struct {
	pollInterval time.Duration
	maxAttempts  uint64
	deps         *Deps
	logger       *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// SupervisorConfig holds supervisor construction options.
type SupervisorConfig struct {
	PollInterval time.Duration // wait between outcome checks (default 5s)
	MaxAttempts  uint64        // checks before giving up (default 12)
	Logger       *slog.Logger
}

func NewSupervisor(cfg SupervisorConfig, deps *Deps) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		deps:         deps,
		logger:       cfg.Logger,
		inflight:     make(map[string]struct{}),
	}
}

// Reconnect tears down the session's current handle, starts a fresh one, and
// polls until the session is CONNECTED, the budget runs out, or the wait is
// cancelled. The caller's context and a concurrent destroy both abort the
// wait promptly.
func (s *Supervisor) Reconnect(ctx context.Context, m *Machine) (Result, error) {
	id := m.ID()

	s.mu.Lock()
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		return "", domain.ErrBusy
	}
	s.inflight[id] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}()

	metrics.ReconnectAttempts.Inc()
	start := time.Now()
	defer func() {
		metrics.ReconnectDuration.Observe(time.Since(start).Seconds())
	}()

	s.logger.Info("reconnect started", "session", id)

	// A probe loop from the CONNECTED era must not span the handle swap; the
	// new handle's CONNECTED transition starts a fresh one.
	s.deps.Health.Stop(id)

	// Graceful teardown of the previous handle, bounded by the registry's
	// destroy timeout. Listeners stay subscribed throughout.
	if s.deps.Registry.Release(id) {
		metrics.ActiveSessions.Dec()
	}

	if err := m.startHandle(ctx); err != nil {
		return "", fmt.Errorf("start replacement handle: %w", err)
	}

	result, err := s.await(ctx, m)
	s.logger.Info("reconnect finished",
		"session", id, "result", result, "elapsed", time.Since(start), "err", err)
	return result, err
}

// await polls the machine for a decisive state. A destroy cancels the wait
// through the machine's context.
func (s *Supervisor) await(ctx context.Context, m *Machine) (Result, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.Context(), cancel)
	defer stop()

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.pollInterval), s.maxAttempts),
		pollCtx,
	)
	err := backoff.Retry(func() error {
		snap := m.Snapshot()
		switch {
		case snap.State == domain.StateConnected:
			return nil
		case snap.State.Terminal():
			return backoff.Permanent(domain.ErrTerminalState)
		default:
			return errNotDecisive
		}
	}, bo)

	switch {
	case err == nil:
		return ResultConnected, nil
	case errors.Is(err, domain.ErrTerminalState):
		return "", domain.ErrTerminalState
	case m.Context().Err() != nil:
		return "", domain.ErrTerminalState
	case ctx.Err() != nil:
		return "", ctx.Err()
	}

	// Budget exhausted. A pending QR code means the connection is waiting on a
	// human, not broken; keep the handle alive.
	snap := m.Snapshot()
	if snap.State == domain.StateAwaitingScan {
		return ResultAwaitingScan, nil
	}

	if s.deps.Registry.Release(m.ID()) {
		metrics.ActiveSessions.Dec()
	}
	m.forceState(m.Generation(), domain.StateDisconnected)
	return ResultTimeout, domain.ErrReconnectTimeout
}

// InFlight reports whether a reconnect is currently running for the session.
func (s *Supervisor) InFlight(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[sessionID]
	return ok
}
