package application

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

var tenantIDRE = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ScopeFunc returns a view of the shared store in which every key carries prefix.
type ScopeFunc func(prefix string) domain.Store

type tenantCtxKey struct{}

// WithTenant returns a context carrying the current tenant id.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenantID)
}

// TenantFromContext returns the tenant id carried by ctx, if any.
func TenantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantCtxKey{}).(string)
	return id, ok && id != ""
}

// TenantManager manages isolated tenant namespaces sharing one store and one broker.
type TenantManager struct {
	store    domain.Store
	scope    ScopeFunc
	defaults map[string]string
	now      domain.Clock
}

// NewTenantManager creates a tenant manager. defaults is the config every tenant config is
// merged over.
func NewTenantManager(store domain.Store, scope ScopeFunc, defaults map[string]string) *TenantManager {
	return &TenantManager{store: store, scope: scope, defaults: copyLabels(defaults), now: time.Now}
}

func (m *TenantManager) validate(id string) error {
	if !tenantIDRE.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
	}
	return nil
}

// CreateTenant registers a new tenant with its own config overrides.
func (m *TenantManager) CreateTenant(ctx context.Context, id string, cfg map[string]string) (domain.Tenant, error) {
	if err := m.validate(id); err != nil {
		return domain.Tenant{}, err
	}
	tenant := domain.Tenant{ID: id, Config: copyLabels(cfg), CreatedAt: m.now().UTC()}
	raw, err := json.Marshal(tenant)
	if err != nil {
		return domain.Tenant{}, err
	}
	created, err := m.store.SetNX(ctx, tenantKey(id), string(raw), 0)
	if err != nil {
		utils.Logger.Error("create tenant failed", "tenant", id, "err", err)
		return domain.Tenant{}, err
	}
	if !created {
		utils.Logger.Warn("tenant already exists", "tenant", id)
		return domain.Tenant{}, ErrTenantExists
	}
	if err := m.store.SetAdd(ctx, tenantsSetKey, id); err != nil {
		utils.Logger.Error("index tenant failed", "tenant", id, "err", err)
		return domain.Tenant{}, err
	}
	utils.Logger.Info("tenant created", "tenant", id)
	return tenant, nil
}

// DeleteTenant removes a tenant record. Data under the tenant's scope is left in place.
func (m *TenantManager) DeleteTenant(ctx context.Context, id string) error {
	if _, err := m.Tenant(ctx, id); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, tenantKey(id)); err != nil {
		utils.Logger.Error("delete tenant failed", "tenant", id, "err", err)
		return err
	}
	if err := m.store.SetRemove(ctx, tenantsSetKey, id); err != nil {
		return err
	}
	utils.Logger.Info("tenant deleted", "tenant", id)
	return nil
}

// Tenant loads one tenant.
func (m *TenantManager) Tenant(ctx context.Context, id string) (domain.Tenant, error) {
	if err := m.validate(id); err != nil {
		return domain.Tenant{}, err
	}
	raw, ok, err := m.store.Get(ctx, tenantKey(id))
	if err != nil {
		return domain.Tenant{}, err
	}
	if !ok {
		return domain.Tenant{}, ErrTenantNotFound
	}
	var t domain.Tenant
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return domain.Tenant{}, fmt.Errorf("decode tenant %s: %w", id, err)
	}
	return t, nil
}

// ListTenants returns every tenant id, sorted.
func (m *TenantManager) ListTenants(ctx context.Context) ([]string, error) {
	ids, err := m.store.SetMembers(ctx, tenantsSetKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// TenantSpecificTopic namespaces topic under the tenant id.
func (m *TenantManager) TenantSpecificTopic(tenantID, topic string) string {
	return tenantID + "." + topic
}

// TenantConfig returns the tenant overrides merged over the defaults.
func (m *TenantManager) TenantConfig(ctx context.Context, id string) (map[string]string, error) {
	t, err := m.Tenant(ctx, id)
	if err != nil {
		return nil, err
	}
	out := copyLabels(m.defaults)
	for k, v := range t.Config {
		out[k] = v
	}
	return out, nil
}

// SetTenantConfig merges cfg into the stored tenant overrides.
func (m *TenantManager) SetTenantConfig(ctx context.Context, id string, cfg map[string]string) error {
	t, err := m.Tenant(ctx, id)
	if err != nil {
		return err
	}
	if t.Config == nil {
		t.Config = map[string]string{}
	}
	for k, v := range cfg {
		t.Config[k] = v
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, tenantKey(id), string(raw), 0); err != nil {
		utils.Logger.Error("update tenant config failed", "tenant", id, "err", err)
		return err
	}
	utils.Logger.Info("tenant config updated", "tenant", id, "keys", len(cfg))
	return nil
}

// Scope returns the store namespace of a tenant. Keys written through it never collide
// with another tenant's.
func (m *TenantManager) Scope(id string) domain.Store {
	return m.scope(tenantPrefix(id))
}

// ScopeFromContext returns the scope of the tenant carried by ctx, or the shared store.
func (m *TenantManager) ScopeFromContext(ctx context.Context) domain.Store {
	if id, ok := TenantFromContext(ctx); ok {
		return m.Scope(id)
	}
	return m.store
}
