package domain

import (
	"context"
	"time"
)

// SessionStore is the minimal per-session persistence contract the gateway
// needs. Rows are mirrored best-effort on state transitions; no multi-row
// transactions are required.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, id string) error
	// ListSessions returns the tenant's sessions; an empty tenantID lists all.
	ListSessions(ctx context.Context, tenantID string) ([]Session, error)
	CountSessions(ctx context.Context, tenantID string) (int, error)
}

// MessageRecord is a stored message, inbound or outbound. The usage source
// counts these per tenant and calendar month.
type MessageRecord struct {
	ID        string
	SessionID string
	TenantID  string
	Direction string // "in" | "out"
	Sender    string
	Recipient string
	Body      string
	CreatedAt time.Time
}

// MessageStore persists message records and answers period-usage queries.
type MessageStore interface {
	SaveMessage(ctx context.Context, m MessageRecord) error
	CountMessagesSince(ctx context.Context, tenantID string, since time.Time) (int, error)
}

// AuditEntry records a tenant-visible action for the audit trail.
type AuditEntry struct {
	TenantID  string
	Action    string
	Category  string
	Details   string
	CreatedAt time.Time
}

// AuditStore appends audit entries. Failures are logged, never propagated.
type AuditStore interface {
	LogAudit(ctx context.Context, e AuditEntry) error
}
