package plan

import (
	"context"
	"fmt"
	"time"

	"wagate/internal/domain"
)

// StoreUsage implements domain.UsageSource on top of the persistence layer.
// Message usage counts outbound messages since the start of the current
// calendar month, in local time.
type StoreUsage struct {
	sessions domain.SessionStore
	messages domain.MessageStore
	now      func() time.Time
}

func NewStoreUsage(sessions domain.SessionStore, messages domain.MessageStore) *StoreUsage {
	return &StoreUsage{sessions: sessions, messages: messages, now: time.Now}
}

// Usage computes a fresh snapshot for the tenant.
func (u *StoreUsage) Usage(ctx context.Context, tenantID string) (domain.UsageSnapshot, error) {
	accounts, err := u.sessions.CountSessions(ctx, tenantID)
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("count sessions: %w", err)
	}

	now := u.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	messages, err := u.messages.CountMessagesSince(ctx, tenantID, monthStart)
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("count messages: %w", err)
	}

	return domain.UsageSnapshot{Accounts: accounts, MessagesThisMonth: messages}, nil
}
