package policy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Provider resolves the rules for a tenant. A non-empty timezone overrides the configured zone.
// The resolved Rules.Timezone is the zone every hour comparison and wall-clock parse uses.
type Provider interface {
	Rules(ctx context.Context, tenantID, timezone string) (Rules, error)
}

type staticProvider struct {
	rules Rules
}

func NewStaticProvider(rules Rules) Provider {
	return &staticProvider{rules: rules}
}

func (p *staticProvider) Rules(_ context.Context, _ string, timezone string) (Rules, error) {
	return withTimezone(p.rules, timezone), nil
}

// ErrNoRules is returned by a RulesStore when the tenant has no stored row.
var ErrNoRules = errors.New("no business rules stored")

type RulesStore interface {
	GetBusinessRules(ctx context.Context, tenantID string) (Rules, error)
	// TenantTimezone returns the tenant's own zone, or "" when it has none.
	TenantTimezone(ctx context.Context, tenantID string) (string, error)
}

type storeProvider struct {
	store  RulesStore
	logger *slog.Logger
}

// NewStoreProvider reads per-tenant rules and falls back to Default when none are stored.
// Zone precedence: the requested zone, the stored rules zone, the tenant's zone, then UTC.
func NewStoreProvider(store RulesStore, logger *slog.Logger) Provider {
	return &storeProvider{store: store, logger: logger}
}

func (p *storeProvider) Rules(ctx context.Context, tenantID, timezone string) (Rules, error) {
	rules, err := p.store.GetBusinessRules(ctx, tenantID)
	if err != nil && !errors.Is(err, ErrNoRules) {
		return Rules{}, err
	}
	if err == nil {
		if cerr := rules.Check(); cerr != nil {
			p.logger.Warn("stored business rules invalid, using defaults", "tenant_id", tenantID, "err", cerr)
			err = ErrNoRules
		}
	}
	if err != nil {
		rules = Default("")
		rules.Timezone = ""
	}
	if strings.TrimSpace(timezone) == "" && strings.TrimSpace(rules.Timezone) == "" {
		tz, err := p.store.TenantTimezone(ctx, tenantID)
		if err != nil {
			return Rules{}, err
		}
		rules.Timezone = tz
	}
	return withTimezone(rules, timezone), nil
}

func withTimezone(r Rules, timezone string) Rules {
	if tz := strings.TrimSpace(timezone); tz != "" {
		r.Timezone = tz
	}
	if r.Timezone == "" {
		r.Timezone = DefaultTimezone
	}
	return r
}
