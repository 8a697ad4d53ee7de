package admin

import (
	"context"
	"fmt"

	"github.com/docsift/docsift/core"
	"github.com/docsift/docsift/provider"
)

// ProviderAdmin is the control surface over the external provider pool. Every
// mutation is logged with its actor.
type ProviderAdmin struct {
	pool *provider.Pool
	log  core.Logger
}

func NewProviderAdmin(pool *provider.Pool, logger core.Logger) *ProviderAdmin {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ProviderAdmin{pool: pool, log: logger}
}

// List returns provider records in priority order.
func (a *ProviderAdmin) List() []provider.Record {
	return a.pool.Records()
}

// Stats returns per-provider runtime health.
func (a *ProviderAdmin) Stats() []provider.Stats {
	return a.pool.ProviderStats()
}

// Register adds or replaces a provider.
func (a *ProviderAdmin) Register(prov provider.Provider, rec provider.Record, actor string) error {
	if prov == nil {
		return fmt.Errorf("%w: nil provider", core.ErrInvalidConfig)
	}
	a.pool.Register(prov, rec)
	a.log.Info("Provider registered", map[string]interface{}{
		"operation": "provider_admin",
		"provider":  prov.ID(),
		"actor":     actor,
	})
	return nil
}

// Remove deletes a provider from the pool.
func (a *ProviderAdmin) Remove(id, actor string) error {
	if err := a.pool.Unregister(id); err != nil {
		return err
	}
	a.log.Info("Provider removed", map[string]interface{}{
		"operation": "provider_admin",
		"provider":  id,
		"actor":     actor,
	})
	return nil
}

// SetEnabled flips a provider on or off.
func (a *ProviderAdmin) SetEnabled(id string, enabled bool, actor string) error {
	if err := a.pool.SetEnabled(id, enabled); err != nil {
		return err
	}
	a.log.Info("Provider toggled", map[string]interface{}{
		"operation": "provider_admin",
		"provider":  id,
		"enabled":   enabled,
		"actor":     actor,
	})
	return nil
}

// Reorder applies a new dispatch priority order.
func (a *ProviderAdmin) Reorder(order []string, actor string) {
	a.pool.SetPriorities(order)
	a.log.Info("Provider priorities updated", map[string]interface{}{
		"operation": "provider_admin",
		"order":     order,
		"actor":     actor,
	})
}

// TestConnection probes one provider with a canary query.
func (a *ProviderAdmin) TestConnection(ctx context.Context, id string) error {
	return a.pool.TestConnection(ctx, id)
}
