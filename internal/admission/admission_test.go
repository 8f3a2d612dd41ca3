package admission

import (
	"context"
	"errors"
	"testing"

	"wagate/internal/domain"
)

type stubPlans struct {
	plan domain.Plan
	err  error
}

func (s *stubPlans) PlanFor(ctx context.Context, tenantID string) (domain.Plan, error) {
	return s.plan, s.err
}

type stubUsage struct {
	usage domain.UsageSnapshot
	err   error
}

func (s *stubUsage) Usage(ctx context.Context, tenantID string) (domain.UsageSnapshot, error) {
	return s.usage, s.err
}

func freePlan() domain.Plan {
	return domain.Plan{ID: "free", MaxAccounts: 1, MaxMessagesPerMonth: 50}
}

func newController(plan domain.Plan, usage domain.UsageSnapshot) *Controller {
	return New(Config{
		Plans: &stubPlans{plan: plan},
		Usage: &stubUsage{usage: usage},
	})
}

func TestCheckAccountCreation_UnderLimit(t *testing.T) {
	c := newController(freePlan(), domain.UsageSnapshot{Accounts: 0})
	if err := c.CheckAccountCreation(context.Background(), "t1"); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestCheckAccountCreation_AtLimit(t *testing.T) {
	c := newController(freePlan(), domain.UsageSnapshot{Accounts: 1})
	err := c.CheckAccountCreation(context.Background(), "t1")

	var denied *domain.AdmissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AdmissionDeniedError, got %v", err)
	}
	if denied.Resource != "accounts" || denied.Current != 1 || denied.Max != 1 {
		t.Fatalf("unexpected denial detail: %+v", denied)
	}
}

func TestCheckMessageSend_UnderLimit(t *testing.T) {
	c := newController(freePlan(), domain.UsageSnapshot{Accounts: 1, MessagesThisMonth: 49})
	if err := c.CheckMessageSend(context.Background(), "t1"); err != nil {
		t.Fatalf("expected allow at 49/50, got %v", err)
	}
}

func TestCheckMessageSend_AtLimit(t *testing.T) {
	c := newController(freePlan(), domain.UsageSnapshot{Accounts: 1, MessagesThisMonth: 50})
	err := c.CheckMessageSend(context.Background(), "t1")

	var denied *domain.AdmissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AdmissionDeniedError, got %v", err)
	}
	if denied.Resource != "messages" || denied.Max != 50 {
		t.Fatalf("unexpected denial detail: %+v", denied)
	}
}

func TestCheckMessageSend_OverLimit(t *testing.T) {
	// Concurrent sends can overshoot the ceiling; later checks still deny.
	c := newController(freePlan(), domain.UsageSnapshot{MessagesThisMonth: 53})
	if err := c.CheckMessageSend(context.Background(), "t1"); err == nil {
		t.Fatal("expected denial above the ceiling")
	}
}

func TestCheck_PlanLookupFailure(t *testing.T) {
	c := New(Config{
		Plans: &stubPlans{err: errors.New("catalog down")},
		Usage: &stubUsage{},
	})
	err := c.CheckAccountCreation(context.Background(), "t1")
	if err == nil {
		t.Fatal("expected error")
	}
	var denied *domain.AdmissionDeniedError
	if errors.As(err, &denied) {
		t.Fatal("lookup failure must not masquerade as a quota denial")
	}
}

func TestCheck_UsageLookupFailure(t *testing.T) {
	c := New(Config{
		Plans: &stubPlans{plan: freePlan()},
		Usage: &stubUsage{err: errors.New("db down")},
	})
	if err := c.CheckMessageSend(context.Background(), "t1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFeatureFlags(t *testing.T) {
	c := newController(domain.Plan{ID: "professional", WebhookAccess: true}, domain.UsageSnapshot{})

	ok, err := c.WebhookAccess(context.Background(), "t1")
	if err != nil || !ok {
		t.Fatalf("expected webhook access, got %v %v", ok, err)
	}
	adv, err := c.AdvancedAPI(context.Background(), "t1")
	if err != nil || adv {
		t.Fatalf("expected no advanced api, got %v %v", adv, err)
	}
}
