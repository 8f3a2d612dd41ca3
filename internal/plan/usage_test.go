package plan

import (
	"context"
	"testing"
	"time"

	"wagate/internal/domain"
)

type stubSessions struct{ count int }

func (s *stubSessions) CreateSession(ctx context.Context, sess domain.Session) error { return nil }
func (s *stubSessions) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return nil, domain.ErrNotFound
}
func (s *stubSessions) UpdateSession(ctx context.Context, sess domain.Session) error { return nil }
func (s *stubSessions) DeleteSession(ctx context.Context, id string) error           { return nil }
func (s *stubSessions) ListSessions(ctx context.Context, tenantID string) ([]domain.Session, error) {
	return nil, nil
}
func (s *stubSessions) CountSessions(ctx context.Context, tenantID string) (int, error) {
	return s.count, nil
}

type stubMessages struct {
	count     int
	lastSince time.Time
}

func (s *stubMessages) SaveMessage(ctx context.Context, m domain.MessageRecord) error { return nil }
func (s *stubMessages) CountMessagesSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	s.lastSince = since
	return s.count, nil
}

func TestUsage_CountsFromStores(t *testing.T) {
	messages := &stubMessages{count: 7}
	u := NewStoreUsage(&stubSessions{count: 3}, messages)

	snap, err := u.Usage(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Accounts != 3 || snap.MessagesThisMonth != 7 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestUsage_WindowIsCalendarMonth(t *testing.T) {
	messages := &stubMessages{}
	u := NewStoreUsage(&stubSessions{}, messages)
	u.now = func() time.Time {
		return time.Date(2026, time.March, 15, 13, 45, 0, 0, time.UTC)
	}

	if _, err := u.Usage(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}

	want := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	if !messages.lastSince.Equal(want) {
		t.Fatalf("window should start at the month boundary, got %v", messages.lastSince)
	}
}
