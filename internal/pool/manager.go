package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Manager is the process-wide registry of Pools, one per catalog context
// (spec §9: "global singletons ... retain as process-wide state with
// explicit init on first use and explicit teardown on detach; keyed by
// context name"). catalog.Attach does not go through it: catalog.Manager
// keeps its own per-context map and builds each Pool with New.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewManager creates an empty registry; pools are created lazily via
// GetOrCreate as catalog contexts are attached.
func NewManager() *Manager {
	return &Manager{pools: make(map[string]*Pool)}
}

// GetOrCreate returns the existing pool for cfg.ContextName, or creates one.
// Existing pools are never replaced (spec §4.6: "one pool per context name;
// existing pools are never replaced").
func (m *Manager) GetOrCreate(ctx context.Context, cfg Config) (*Pool, error) {
	m.mu.RLock()
	p, ok := m.pools[cfg.ContextName]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[cfg.ContextName]; ok {
		return p, nil
	}

	p, err := New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing pool for context %s: %w", cfg.ContextName, err)
	}
	m.pools[cfg.ContextName] = p
	log.Printf("[pool] Manager registered context %s", cfg.ContextName)
	return p, nil
}

// Pool returns the Pool registered for contextName, if any.
func (m *Manager) Pool(contextName string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[contextName]
	return p, ok
}

// Detach closes and unregisters the pool for contextName.
func (m *Manager) Detach(contextName string) error {
	m.mu.Lock()
	p, ok := m.pools[contextName]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.pools, contextName)
	m.mu.Unlock()

	log.Printf("[pool] Manager detached context %s", contextName)
	return p.Close()
}

// Stats returns a Stats snapshot for every registered context.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// Close tears down every registered pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, p := range m.pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing pool %s: %w", name, err)
		}
	}
	m.pools = nil
	log.Println("[pool] Manager closed")
	return firstErr
}
