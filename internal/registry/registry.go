// Package registry owns the map of live driver handles. It enforces the
// single-ownership invariant: at most one live handle per session id, and the
// old handle is torn down before a new one for the same id may be registered.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wagate/internal/domain"
)

const defaultDestroyTimeout = 5 * time.Second

// Registry maps session ids to their live driver handles. Register and
// Release for the same id are mutually exclusive via a per-key lock; unrelated
// sessions never contend.
type Registry struct {
	mu      sync.Mutex // guards the entries map only, never held across driver I/O
	entries map[string]*entry

	destroyTimeout time.Duration
	logger         *slog.Logger
}

type entry struct {
	mu     sync.Mutex
	handle domain.Driver // nil once released
}

// Config holds registry construction options.
type Config struct {
	DestroyTimeout time.Duration // bounded wait for handle teardown (default 5s)
	Logger         *slog.Logger
}

func New(cfg Config) *Registry {
	if cfg.DestroyTimeout <= 0 {
		cfg.DestroyTimeout = defaultDestroyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		entries:        make(map[string]*entry),
		destroyTimeout: cfg.DestroyTimeout,
		logger:         cfg.Logger,
	}
}

func (r *Registry) entryFor(id string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	return e
}

// Register binds a live handle to the session id. It fails with
// domain.ErrHandleExists if a handle is already registered.
func (r *Registry) Register(sessionID string, handle domain.Driver) error {
	e := r.entryFor(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != nil {
		return domain.ErrHandleExists
	}
	e.handle = handle
	return nil
}

// Acquire returns the live handle for the session id, or domain.ErrNotFound.
func (r *Registry) Acquire(sessionID string) (domain.Driver, error) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == nil {
		return nil, domain.ErrNotFound
	}
	return e.handle, nil
}

// Release tears down and removes the handle for the session id, reporting
// whether a live handle was present. Releasing an absent session succeeds
// silently. Teardown failures are logged, not propagated: the entry is
// emptied regardless.
func (r *Registry) Release(sessionID string) bool {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	// Hold the per-key lock across teardown so a concurrent Register for the
	// same id cannot install a new handle before the old one is destroyed.
	e.mu.Lock()
	handle := e.handle
	if handle != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.destroyTimeout)
		if err := handle.Destroy(ctx); err != nil {
			r.logger.Warn("handle teardown failed", "session", sessionID, "err", err)
		}
		cancel()
	}
	e.handle = nil
	e.mu.Unlock()
	return handle != nil
}

// Remove drops the registry entry for a session id entirely. Call only after
// the session itself is destroyed; a Release must have emptied the entry first.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	if e, ok := r.entries[sessionID]; ok {
		e.mu.Lock()
		empty := e.handle == nil
		e.mu.Unlock()
		if empty {
			delete(r.entries, sessionID)
		}
	}
	r.mu.Unlock()
}

// List returns a snapshot of session ids with live handles. It does not block
// concurrent registrations beyond the brief map read.
func (r *Registry) List() []string {
	r.mu.Lock()
	entries := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		live := e.handle != nil
		e.mu.Unlock()
		if live {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	return len(r.List())
}
