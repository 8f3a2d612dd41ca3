package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinTiers(t *testing.T) {
	c, err := NewCatalog(CatalogConfig{})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	free, err := c.PlanFor(context.Background(), "unassigned-tenant")
	if err != nil {
		t.Fatal(err)
	}
	if free.ID != "free" || free.MaxAccounts != 1 || free.MaxMessagesPerMonth != 50 {
		t.Fatalf("unexpected free tier: %+v", free)
	}
	if free.WebhookAccess {
		t.Fatal("free tier must not include webhooks")
	}
}

func TestAssign(t *testing.T) {
	c, err := NewCatalog(CatalogConfig{})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Assign("t1", "enterprise"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	p, err := c.PlanFor(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "enterprise" || p.MaxAccounts != 100 || !p.AdvancedAPI {
		t.Fatalf("unexpected plan: %+v", p)
	}

	if err := c.Assign("t1", "nonexistent"); err == nil {
		t.Fatal("assigning an unknown plan should fail")
	}
}

func TestCatalogFile_OverridesAndAssigns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	content := `
plans:
  - id: startup
    maxAccounts: 3
    maxMessages: 1000
    hasWebhook: true
tenants:
  acme: startup
  globex: professional
defaultPlan: startup
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := NewCatalog(CatalogConfig{Path: path})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	p, err := c.PlanFor(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "startup" || p.MaxAccounts != 3 || !p.WebhookAccess {
		t.Fatalf("unexpected plan: %+v", p)
	}

	p, err = c.PlanFor(context.Background(), "globex")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "professional" || p.MaxAccounts != 5 {
		t.Fatalf("builtin tier should still resolve: %+v", p)
	}

	// Unassigned tenants get the file's default plan.
	p, err = c.PlanFor(context.Background(), "stranger")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "startup" {
		t.Fatalf("expected default 'startup', got %q", p.ID)
	}
}

func TestCatalogFile_MissingIsNotAnError(t *testing.T) {
	c, err := NewCatalog(CatalogConfig{Path: filepath.Join(t.TempDir(), "nope.yaml")})
	if err != nil {
		t.Fatalf("missing file should fall back to builtins: %v", err)
	}
	if len(c.Plans()) != 3 {
		t.Fatalf("expected 3 builtin plans, got %d", len(c.Plans()))
	}
}

func TestCatalogFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")

	os.WriteFile(path, []byte("plans: [{maxAccounts: 5}]"), 0o644)
	if _, err := NewCatalog(CatalogConfig{Path: path}); err == nil {
		t.Fatal("plan without id should fail")
	}

	os.WriteFile(path, []byte("tenants: {acme: ghost-plan}"), 0o644)
	if _, err := NewCatalog(CatalogConfig{Path: path}); err == nil {
		t.Fatal("assignment to unknown plan should fail")
	}

	os.WriteFile(path, []byte(":\nnot yaml"), 0o644)
	if _, err := NewCatalog(CatalogConfig{Path: path}); err == nil {
		t.Fatal("malformed yaml should fail")
	}
}

func TestUnknownDefaultPlan(t *testing.T) {
	if _, err := NewCatalog(CatalogConfig{DefaultPlan: "platinum"}); err == nil {
		t.Fatal("unknown default plan should fail")
	}
}
