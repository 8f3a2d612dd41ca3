package domain

import "context"

// Plan is a subscription tier defining quota ceilings and feature flags.
// Read-only from the gateway's perspective.
type Plan struct {
	ID                  string `json:"id" yaml:"id"`
	MaxAccounts         int    `json:"maxAccounts" yaml:"maxAccounts"`
	MaxMessagesPerMonth int    `json:"maxMessages" yaml:"maxMessages"`
	WebhookAccess       bool   `json:"hasWebhook" yaml:"hasWebhook"`
	AdvancedAPI         bool   `json:"hasAdvancedApi" yaml:"hasAdvancedApi"`
}

// UsageSnapshot is a tenant's current consumption, computed on demand at
// admission-check time and never cached across decisions.
type UsageSnapshot struct {
	Accounts          int
	MessagesThisMonth int
}

// PlanSource resolves the plan a tenant is subscribed to.
type PlanSource interface {
	PlanFor(ctx context.Context, tenantID string) (Plan, error)
}

// UsageSource computes a fresh usage snapshot for a tenant.
type UsageSource interface {
	Usage(ctx context.Context, tenantID string) (UsageSnapshot, error)
}
