// Package admission gates quota-consuming actions against the tenant's
// subscription plan. Every check reads a fresh usage snapshot; nothing is
// cached across decisions.
package admission

import (
	"context"
	"fmt"
	"log/slog"

	"wagate/internal/domain"
	"wagate/internal/metrics"
)

// Controller evaluates subscription-quota decisions.
type Controller struct {
	plans  domain.PlanSource
	usage  domain.UsageSource
	logger *slog.Logger
}

// Config holds controller construction options.
type Config struct {
	Plans  domain.PlanSource
	Usage  domain.UsageSource
	Logger *slog.Logger
}

func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{plans: cfg.Plans, usage: cfg.Usage, logger: cfg.Logger}
}

// CheckAccountCreation returns nil when the tenant may attach another account,
// or *domain.AdmissionDeniedError carrying the usage/limit pair.
func (c *Controller) CheckAccountCreation(ctx context.Context, tenantID string) error {
	plan, usage, err := c.Lookup(ctx, tenantID)
	if err != nil {
		return err
	}
	if usage.Accounts >= plan.MaxAccounts {
		metrics.AdmissionDenials.Inc()
		c.logger.Info("account creation denied",
			"tenant", tenantID, "plan", plan.ID, "accounts", usage.Accounts, "max", plan.MaxAccounts)
		return &domain.AdmissionDeniedError{Resource: "accounts", Current: usage.Accounts, Max: plan.MaxAccounts}
	}
	return nil
}

// CheckMessageSend returns nil when the tenant may send another message this
// calendar month, or *domain.AdmissionDeniedError.
func (c *Controller) CheckMessageSend(ctx context.Context, tenantID string) error {
	plan, usage, err := c.Lookup(ctx, tenantID)
	if err != nil {
		return err
	}
	if usage.MessagesThisMonth >= plan.MaxMessagesPerMonth {
		metrics.AdmissionDenials.Inc()
		c.logger.Info("message send denied",
			"tenant", tenantID, "plan", plan.ID, "messages", usage.MessagesThisMonth, "max", plan.MaxMessagesPerMonth)
		return &domain.AdmissionDeniedError{Resource: "messages", Current: usage.MessagesThisMonth, Max: plan.MaxMessagesPerMonth}
	}
	return nil
}

// WebhookAccess reports whether the tenant's plan includes outbound webhooks.
func (c *Controller) WebhookAccess(ctx context.Context, tenantID string) (bool, error) {
	plan, err := c.plans.PlanFor(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("resolve plan: %w", err)
	}
	return plan.WebhookAccess, nil
}

// AdvancedAPI reports whether the tenant's plan includes the advanced API.
func (c *Controller) AdvancedAPI(ctx context.Context, tenantID string) (bool, error) {
	plan, err := c.plans.PlanFor(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("resolve plan: %w", err)
	}
	return plan.AdvancedAPI, nil
}

// Lookup resolves the tenant's plan together with a fresh usage snapshot.
func (c *Controller) Lookup(ctx context.Context, tenantID string) (domain.Plan, domain.UsageSnapshot, error) {
	plan, err := c.plans.PlanFor(ctx, tenantID)
	if err != nil {
		return domain.Plan{}, domain.UsageSnapshot{}, fmt.Errorf("resolve plan: %w", err)
	}
	usage, err := c.usage.Usage(ctx, tenantID)
	if err != nil {
		return domain.Plan{}, domain.UsageSnapshot{}, fmt.Errorf("read usage: %w", err)
	}
	return plan, usage, nil
}
