// Package notify implements per-tenant event fan-out. Delivery is best-effort
// and non-blocking: a slow subscriber loses events instead of delaying the
// publisher, and events published with no subscribers are dropped.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"wagate/internal/domain"
	"wagate/internal/metrics"
)

const defaultBufferSize = 32

// Hub routes events to every channel subscribed under a tenant id. Subscriber
// lists are locked per tenant so unrelated tenants never contend.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]*tenantSubs

	bufferSize int
	logger     *slog.Logger
}

type tenantSubs struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription is one live channel under a tenant. Events lost to a full
// buffer are counted and logged, never waited on.
type Subscription struct {
	tenantID string
	ch       chan domain.Event
	hub      *Hub
	once     sync.Once
}

// Events returns the subscription's receive channel. It is closed on Close.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// TenantID returns the tenant this subscription belongs to.
func (s *Subscription) TenantID() string { return s.tenantID }

// Close unsubscribes and closes the receive channel. Safe to call twice.
func (s *Subscription) Close() { s.hub.unsubscribe(s) }

// Config holds hub construction options.
type Config struct {
	BufferSize int // per-subscription buffer (default 32)
	Logger     *slog.Logger
}

func NewHub(cfg Config) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		tenants:    make(map[string]*tenantSubs),
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger,
	}
}

// Subscribe registers a new channel for the tenant. Multiple simultaneous
// subscriptions per tenant are supported; each receives every event.
func (h *Hub) Subscribe(tenantID string) *Subscription {
	sub := &Subscription{
		tenantID: tenantID,
		ch:       make(chan domain.Event, h.bufferSize),
		hub:      h,
	}

	// The subscription is added under the hub lock so an unsubscribe pruning
	// the tenant entry cannot race the add into a dropped entry.
	h.mu.Lock()
	ts, ok := h.tenants[tenantID]
	if !ok {
		ts = &tenantSubs{subs: make(map[*Subscription]struct{})}
		h.tenants[tenantID] = ts
	}
	ts.mu.Lock()
	ts.subs[sub] = struct{}{}
	ts.mu.Unlock()
	h.mu.Unlock()

	metrics.Subscriptions.Inc()
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	ts, ok := h.tenants[sub.tenantID]
	if ok {
		ts.mu.Lock()
		delete(ts.subs, sub)
		if len(ts.subs) == 0 {
			delete(h.tenants, sub.tenantID)
		}
		// Close under the write lock so no publisher is mid-send on this channel.
		sub.once.Do(func() {
			close(sub.ch)
			metrics.Subscriptions.Dec()
		})
		ts.mu.Unlock()
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	sub.once.Do(func() {
		close(sub.ch)
		metrics.Subscriptions.Dec()
	})
}

// Publish fans the event out to the tenant's current subscribers. If a
// subscriber's buffer is full the event is dropped for that subscriber only.
func (h *Hub) Publish(tenantID string, ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.TenantID == "" {
		ev.TenantID = tenantID
	}

	h.mu.RLock()
	ts, ok := h.tenants[tenantID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	ts.mu.RLock()
	defer ts.mu.RUnlock()
	for sub := range ts.subs {
		select {
		case sub.ch <- ev:
			metrics.EventsPublished.Inc()
		default:
			metrics.EventsDropped.Inc()
			h.logger.Warn("subscriber buffer full, event dropped",
				"tenant", tenantID, "type", ev.Type, "session", ev.SessionID)
		}
	}
}

// SubscriberCount returns the number of live subscriptions for a tenant.
func (h *Hub) SubscriberCount(tenantID string) int {
	h.mu.RLock()
	ts, ok := h.tenants[tenantID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.subs)
}
