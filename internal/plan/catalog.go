// Package plan resolves subscription tiers and computes tenant usage. The
// builtin catalog ships the standard tiers; a YAML file can add or override
// tiers and assign tenants to them.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"wagate/internal/domain"
)

// DefaultPlanID is assigned to tenants with no explicit assignment.
const DefaultPlanID = "free"

func builtinPlans() map[string]domain.Plan {
	return map[string]domain.Plan{
		"free": {
			ID:                  "free",
			MaxAccounts:         1,
			MaxMessagesPerMonth: 50,
			WebhookAccess:       false,
			AdvancedAPI:         false,
		},
		"professional": {
			ID:                  "professional",
			MaxAccounts:         5,
			MaxMessagesPerMonth: 10000,
			WebhookAccess:       true,
			AdvancedAPI:         false,
		},
		"enterprise": {
			ID:                  "enterprise",
			MaxAccounts:         100,
			MaxMessagesPerMonth: 1000000,
			WebhookAccess:       true,
			AdvancedAPI:         true,
		},
	}
}

// Catalog implements domain.PlanSource. Plans and tenant assignments are
// loaded once at construction; Assign allows runtime changes.
type Catalog struct {
	mu          sync.RWMutex
	plans       map[string]domain.Plan
	assignments map[string]string // tenant id -> plan id
	defaultPlan string
	logger      *slog.Logger
}

// catalogFile is the YAML schema of a plan catalog override file.
type catalogFile struct {
	Plans       []domain.Plan     `yaml:"plans"`
	Tenants     map[string]string `yaml:"tenants"`
	DefaultPlan string            `yaml:"defaultPlan"`
}

// CatalogConfig holds catalog construction options.
type CatalogConfig struct {
	Path        string // optional YAML override file
	DefaultPlan string // plan for unassigned tenants (default "free")
	Logger      *slog.Logger
}

// NewCatalog builds the catalog from the builtin tiers plus the optional
// override file. A missing file is not an error; a malformed one is.
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.DefaultPlan == "" {
		cfg.DefaultPlan = DefaultPlanID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Catalog{
		plans:       builtinPlans(),
		assignments: make(map[string]string),
		defaultPlan: cfg.DefaultPlan,
		logger:      cfg.Logger,
	}

	if cfg.Path != "" {
		if err := c.loadFile(cfg.Path); err != nil {
			return nil, err
		}
	}

	if _, ok := c.plans[c.defaultPlan]; !ok {
		return nil, fmt.Errorf("default plan %q is not in the catalog", c.defaultPlan)
	}
	return c, nil
}

func (c *Catalog) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c.logger.Debug("plan catalog file does not exist, using builtins", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read plan catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse plan catalog %s: %w", path, err)
	}

	for _, p := range file.Plans {
		if p.ID == "" {
			return fmt.Errorf("plan catalog %s: plan with empty id", path)
		}
		if p.MaxAccounts < 0 || p.MaxMessagesPerMonth < 0 {
			return fmt.Errorf("plan catalog %s: plan %q has negative limits", path, p.ID)
		}
		c.plans[p.ID] = p
		c.logger.Info("loaded plan", "plan", p.ID, "path", path)
	}
	for tenant, planID := range file.Tenants {
		if _, ok := c.plans[planID]; !ok {
			return fmt.Errorf("plan catalog %s: tenant %q assigned to unknown plan %q", path, tenant, planID)
		}
		c.assignments[tenant] = planID
	}
	if file.DefaultPlan != "" {
		c.defaultPlan = file.DefaultPlan
	}
	return nil
}

// PlanFor resolves the tenant's plan, falling back to the default plan for
// unassigned tenants.
func (c *Catalog) PlanFor(_ context.Context, tenantID string) (domain.Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	planID, ok := c.assignments[tenantID]
	if !ok {
		planID = c.defaultPlan
	}
	plan, ok := c.plans[planID]
	if !ok {
		return domain.Plan{}, fmt.Errorf("plan %q not in catalog", planID)
	}
	return plan, nil
}

// Assign binds a tenant to a plan at runtime.
func (c *Catalog) Assign(tenantID, planID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.plans[planID]; !ok {
		return fmt.Errorf("plan %q not in catalog", planID)
	}
	c.assignments[tenantID] = planID
	return nil
}

// Plans returns a copy of the catalog's plans.
func (c *Catalog) Plans() []domain.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	return out
}
