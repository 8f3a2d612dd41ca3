package lifecycle

import (
	"log/slog"
	"sync"
	"time"

	"context"

	"wagate/internal/metrics"
	"wagate/internal/registry"
)

const (
	defaultProbeInterval = time.Minute
	defaultProbeTimeout  = 10 * time.Second
)

// HealthMonitor runs one periodic liveness probe per CONNECTED session. A
// watch is started once when a session enters CONNECTED and cancelled once
// when it leaves, whatever the reason.
type HealthMonitor struct {
	interval     time.Duration
	probeTimeout time.Duration
	registry     *registry.Registry
	logger       *slog.Logger

	mu      sync.Mutex
	watches map[string]*watch
}

// watch identifies one probe loop. The loop removes its own entry on exit, but
// only while the entry is still its own; Stop may have replaced it already.
type watch struct {
	cancel context.CancelFunc
}

// HealthConfig holds monitor construction options.
type HealthConfig struct {
	Interval     time.Duration // probe period (default 1m)
	ProbeTimeout time.Duration // per-probe deadline (default 10s)
	Registry     *registry.Registry
	Logger       *slog.Logger
}

func NewHealthMonitor(cfg HealthConfig) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HealthMonitor{
		interval:     cfg.Interval,
		probeTimeout: cfg.ProbeTimeout,
		registry:     cfg.Registry,
		logger:       cfg.Logger,
		watches:      make(map[string]*watch),
	}
}

// Watch starts the probe loop for a machine. A second Watch for the same
// session while one is running is a no-op.
func (h *HealthMonitor) Watch(m *Machine) {
	id := m.ID()
	h.mu.Lock()
	if _, running := h.watches[id]; running {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{cancel: cancel}
	h.watches[id] = w
	h.mu.Unlock()

	go h.loop(ctx, m, w)
}

// Stop cancels the probe loop for a session, if one is running. Idempotent.
func (h *HealthMonitor) Stop(sessionID string) {
	h.mu.Lock()
	w, ok := h.watches[sessionID]
	if ok {
		delete(h.watches, sessionID)
	}
	h.mu.Unlock()
	if ok {
		w.cancel()
	}
}

// StopAll cancels every running probe loop.
func (h *HealthMonitor) StopAll() {
	h.mu.Lock()
	watches := make([]*watch, 0, len(h.watches))
	for id, w := range h.watches {
		watches = append(watches, w)
		delete(h.watches, id)
	}
	h.mu.Unlock()
	for _, w := range watches {
		w.cancel()
	}
}

// drop removes the loop's own watch entry on exit, unless Stop (or a
// replacement Watch) already took it over. Without this, a loop that dies
// while the session is not CONNECTED would leave a stale entry behind and the
// next CONNECTED transition's Watch would no-op, orphaning the session.
func (h *HealthMonitor) drop(sessionID string, w *watch) {
	h.mu.Lock()
	if h.watches[sessionID] == w {
		delete(h.watches, sessionID)
	}
	h.mu.Unlock()
}

// Watching reports whether a probe loop is running for the session.
func (h *HealthMonitor) Watching(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.watches[sessionID]
	return ok
}

func (h *HealthMonitor) loop(ctx context.Context, m *Machine, w *watch) {
	defer h.drop(m.ID(), w)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.probe(ctx, m) {
				continue
			}
			// One failed probe is decisive. The deferred drop clears this
			// watch; a later CONNECTED entry starts a fresh loop.
			metrics.ProbeFailures.Inc()
			h.logger.Warn("liveness probe failed", "session", m.ID())
			m.ProbeFailed()
			return
		}
	}
}

func (h *HealthMonitor) probe(ctx context.Context, m *Machine) bool {
	handle, err := h.registry.Acquire(m.ID())
	if err != nil {
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	start := time.Now()
	_, err = handle.State(pctx)
	metrics.ProbeLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return false
	}

	m.Touch()
	return true
}
