package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/hugr-lab/go-mssql-core/internal/config"
	"github.com/hugr-lab/go-mssql-core/internal/pool/coordinator"
)

// Manager is the process-wide registry of attached Catalogs, one per
// configured context, plus the shared cross-process capacity coordinator
// (SPEC_FULL §4.6 addition) every Catalog's pool was built against.
// Grounded on the teacher's internal/pool.Manager: a map keyed by context
// name, the same role its "bucket ID" registry plays.
type Manager struct {
	mu       sync.RWMutex
	catalogs map[string]*Catalog

	coordinator *coordinator.RedisCoordinator
	heartbeat   *coordinator.Heartbeat
}

// Attach builds a Manager from cfg: an optional shared RedisCoordinator
// registered with every catalog's connection budget, then one Catalog per
// configured target.
func Attach(ctx context.Context, cfg *config.Config) (*Manager, error) {
	m := &Manager{catalogs: make(map[string]*Catalog, len(cfg.Catalogs))}

	if cfg.Distributed.RedisAddr != "" {
		budgets := make([]coordinator.ContextBudget, len(cfg.Catalogs))
		for i, t := range cfg.Catalogs {
			budgets[i] = coordinator.ContextBudget{ContextName: t.Context, MaxConnections: t.MaxConnections}
		}
		coord, err := coordinator.New(ctx, coordinator.Options{
			Addr:         cfg.Distributed.RedisAddr,
			Password:     cfg.Distributed.RedisPassword,
			DB:           cfg.Distributed.RedisDB,
			InstanceID:   cfg.InstanceID,
			Budgets:      budgets,
			LocalDivisor: cfg.Distributed.LocalLimitDivisor,
		})
		if err != nil {
			return nil, fmt.Errorf("catalog: initializing distributed coordinator: %w", err)
		}
		m.coordinator = coord
		m.heartbeat = coordinator.NewHeartbeat(coord, cfg.Distributed.HeartbeatInterval, cfg.Distributed.HeartbeatTTL)
		m.heartbeat.Start(ctx)
	}

	for _, t := range cfg.Catalogs {
		cat, err := attach(ctx, t, m.coordinator)
		if err != nil {
			m.Close(ctx)
			return nil, err
		}
		m.catalogs[t.Context] = cat
	}

	return m, nil
}

// Catalog returns the attached Catalog for context, or false if no such
// context was attached.
func (m *Manager) Catalog(context string) (*Catalog, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cat, ok := m.catalogs[context]
	return cat, ok
}

// Stats returns a point-in-time snapshot of every attached Catalog's pool.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]interface{}, len(m.catalogs))
	for name, cat := range m.catalogs {
		out[name] = cat.Stats()
	}
	return out
}

// Close shuts down every attached Catalog and the shared coordinator, if
// any.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, cat := range m.catalogs {
		if err := cat.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.heartbeat != nil {
		m.heartbeat.Stop()
	}
	if m.coordinator != nil {
		if err := m.coordinator.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
