package pool

import (
	"context"
	"log"
	"time"
)

// HealthCheck pings every idle connection in the pool and discards any that
// fail, matching the teacher's periodic health-check sweep over the idle
// stack.
func (p *Pool) HealthCheck() {
	p.mu.Lock()
	conns := make([]*PooledConn, len(p.idle))
	copy(conns, p.idle)
	p.mu.Unlock()

	healthy := make([]*PooledConn, 0, len(conns))
	removed := 0

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.conn.Ping(ctx)
		cancel()

		if err != nil {
			log.Printf("[pool] context %s — health check failed for conn %d: %v",
				p.cfg.ContextName, conn.id, err)
			conn.Close()
			removed++
			continue
		}

		healthy = append(healthy, conn)
	}

	if removed > 0 {
		p.mu.Lock()
		newIdle := make([]*PooledConn, 0, len(p.idle))
		healthySet := make(map[uint64]bool, len(healthy))
		for _, c := range healthy {
			healthySet[c.id] = true
		}
		for _, c := range p.idle {
			if healthySet[c.id] {
				newIdle = append(newIdle, c)
			}
		}
		p.idle = newIdle
		p.updateMetrics()
		p.mu.Unlock()

		log.Printf("[pool] context %s — health check: removed %d unhealthy connections",
			p.cfg.ContextName, removed)
	}
}
