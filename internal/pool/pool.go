package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/hugr-lab/go-mssql-core/internal/connection"
	"github.com/hugr-lab/go-mssql-core/internal/metrics"
	"github.com/hugr-lab/go-mssql-core/internal/pool/coordinator"
)

// Pool manages a bounded set of authenticated connections for a single
// attached catalog context (spec §4.6: "named, bounded LIFO pool, one pool
// per attached database").
type Pool struct {
	mu sync.Mutex

	cfg Config

	// idle holds available connections, most recently used last (popped
	// from the end for LIFO reuse — hot connections first).
	idle []*PooledConn

	// active tracks connections currently on loan, keyed by connection ID.
	active map[uint64]*PooledConn

	nextID atomic.Uint64

	closed bool

	// waiters is the acquire queue: each waiter hands in a channel that
	// receives the connection allocated to it once one is released.
	waiters []chan *PooledConn

	// semaphore is non-nil when cfg.Coordinator is set, gating acquire on the
	// cross-process budget before the local pool logic runs.
	semaphore *coordinator.Semaphore

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Pool for cfg and eagerly opens min_warm_connections
// connections (spec §4.6: "factory captures host, port, credentials ...
// returns a fully authenticated Connection in Idle state").
func New(ctx context.Context, cfg Config) (*Pool, error) {
	p := &Pool{
		cfg:    cfg,
		idle:   make([]*PooledConn, 0, cfg.MaxConnections),
		active: make(map[uint64]*PooledConn),
		stopCh: make(chan struct{}),
	}
	if cfg.Coordinator != nil {
		p.semaphore = coordinator.NewSemaphore(cfg.Coordinator)
	}

	for i := 0; i < cfg.MinWarmConnections; i++ {
		conn, err := p.createConn(ctx)
		if err != nil {
			log.Printf("[pool] context %s — failed to create warm connection %d/%d: %v",
				cfg.ContextName, i+1, cfg.MinWarmConnections, err)
			continue
		}
		p.idle = append(p.idle, conn)
	}

	p.updateMetrics()
	log.Printf("[pool] context %s — pool initialized: %d idle, max=%d",
		cfg.ContextName, len(p.idle), cfg.MaxConnections)

	p.wg.Add(1)
	go p.maintenanceLoop()

	return p, nil
}

// Acquire returns an idle connection, opens a new one if the pool has
// headroom, or queues the caller until one is released, ctx is cancelled,
// or acquire_timeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	start := time.Now()

	if p.semaphore != nil {
		acquireTimeout := p.cfg.AcquireTimeout
		if acquireTimeout == 0 {
			acquireTimeout = 30 * time.Second
		}
		if err := p.semaphore.Wait(ctx, p.cfg.ContextName, acquireTimeout); err != nil {
			return nil, fmt.Errorf("distributed capacity wait for context %s: %w", p.cfg.ContextName, err)
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool closed for context %s", p.cfg.ContextName)
	}

	if conn := p.popIdle(); conn != nil {
		p.active[conn.id] = conn
		conn.markAcquired()
		p.updateMetrics()
		p.mu.Unlock()
		metrics.ConnectionsTotal.WithLabelValues(p.cfg.ContextName, "acquired").Inc()
		return conn, nil
	}

	total := len(p.idle) + len(p.active)
	if total < p.cfg.MaxConnections {
		p.mu.Unlock()
		conn, err := p.createConn(ctx)
		if err != nil {
			metrics.ConnectionErrors.WithLabelValues(p.cfg.ContextName, "create_failed").Inc()
			return nil, fmt.Errorf("creating connection for context %s: %w", p.cfg.ContextName, err)
		}
		conn.markAcquired()
		p.mu.Lock()
		p.active[conn.id] = conn
		p.updateMetrics()
		p.mu.Unlock()
		metrics.ConnectionsTotal.WithLabelValues(p.cfg.ContextName, "acquired").Inc()
		return conn, nil
	}

	waiterCh := make(chan *PooledConn, 1)
	p.waiters = append(p.waiters, waiterCh)
	metrics.QueueLength.WithLabelValues(p.cfg.ContextName).Set(float64(len(p.waiters)))
	p.mu.Unlock()

	acquireTimeout := p.cfg.AcquireTimeout
	if acquireTimeout == 0 {
		acquireTimeout = 30 * time.Second
	}
	timer := time.NewTimer(acquireTimeout)
	defer timer.Stop()

	select {
	case conn := <-waiterCh:
		if conn == nil {
			metrics.ConnectionsTotal.WithLabelValues(p.cfg.ContextName, "queue_error").Inc()
			return nil, fmt.Errorf("pool closed while waiting for context %s", p.cfg.ContextName)
		}
		metrics.QueueWaitDuration.WithLabelValues(p.cfg.ContextName).Observe(time.Since(start).Seconds())
		metrics.ConnectionsTotal.WithLabelValues(p.cfg.ContextName, "acquired").Inc()
		return conn, nil

	case <-timer.C:
		p.removeWaiter(waiterCh)
		metrics.ConnectionsTotal.WithLabelValues(p.cfg.ContextName, "timeout").Inc()
		metrics.QueueWaitDuration.WithLabelValues(p.cfg.ContextName).Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("acquire timeout (%v) for context %s", acquireTimeout, p.cfg.ContextName)

	case <-ctx.Done():
		p.removeWaiter(waiterCh)
		metrics.ConnectionsTotal.WithLabelValues(p.cfg.ContextName, "cancelled").Inc()
		return nil, ctx.Err()
	}
}

// Release returns conn to the pool if it is Idle, healthy and not past
// idle_timeout (spec §4.6). A pinned connection is left alone — only
// Unpin then Release returns it to the pool (spec §4.7).
func (p *Pool) Release(conn *PooledConn) {
	if conn == nil {
		return
	}
	if conn.IsPinned() {
		return
	}
	p.releaseDistributedSlot()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return
	}
	delete(p.active, conn.id)
	p.mu.Unlock()

	if conn.conn.State() != connection.StateIdle {
		log.Printf("[pool] context %s — conn %d not idle on release (state=%s), closing",
			p.cfg.ContextName, conn.id, conn.conn.State())
		conn.Close()
		metrics.ConnectionErrors.WithLabelValues(p.cfg.ContextName, "unhealthy_on_release").Inc()
		p.mu.Lock()
		p.updateMetrics()
		p.mu.Unlock()
		return
	}

	if p.cfg.IdleTimeout > 0 && conn.idleDuration() >= p.cfg.IdleTimeout {
		conn.Close()
		p.mu.Lock()
		p.updateMetrics()
		p.mu.Unlock()
		return
	}

	conn.markIdle()

	p.mu.Lock()
	if len(p.waiters) > 0 {
		waiterCh := p.waiters[0]
		p.waiters = p.waiters[1:]
		metrics.QueueLength.WithLabelValues(p.cfg.ContextName).Set(float64(len(p.waiters)))
		conn.markAcquired()
		p.active[conn.id] = conn
		p.updateMetrics()
		p.mu.Unlock()
		waiterCh <- conn
		metrics.ConnectionsTotal.WithLabelValues(p.cfg.ContextName, "released").Inc()
		return
	}

	p.idle = append(p.idle, conn)
	p.updateMetrics()
	p.mu.Unlock()
	metrics.ConnectionsTotal.WithLabelValues(p.cfg.ContextName, "released").Inc()
}

// Discard removes conn from the pool permanently (used after a fatal
// server error or a failed cancellation drain).
func (p *Pool) Discard(conn *PooledConn) {
	if conn == nil {
		return
	}
	p.releaseDistributedSlot()
	p.mu.Lock()
	delete(p.active, conn.id)
	p.updateMetrics()
	p.mu.Unlock()
	conn.Close()
	metrics.ConnectionErrors.WithLabelValues(p.cfg.ContextName, "discarded").Inc()
}

// releaseDistributedSlot frees this pool's cross-process budget claim, if a
// Coordinator is configured.
func (p *Pool) releaseDistributedSlot() {
	if p.cfg.Coordinator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	p.cfg.Coordinator.Release(ctx, p.cfg.ContextName)
}

// Close shuts the pool down, closing every idle and active connection and
// unblocking any waiters with a nil (failure) value.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)

	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil

	for _, c := range p.idle {
		c.Close()
	}
	p.idle = nil

	for _, c := range p.active {
		c.Close()
	}
	p.active = nil
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("[pool] context %s — pool closed", p.cfg.ContextName)
	return nil
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		ContextName: p.cfg.ContextName,
		Active:      len(p.active),
		Idle:        len(p.idle),
		Max:         p.cfg.MaxConnections,
		WaitQueue:   len(p.waiters),
	}
}

// Stats is a point-in-time snapshot of a Pool's occupancy.
type Stats struct {
	ContextName string
	Active      int
	Idle        int
	Max         int
	WaitQueue   int
}

// ── internal helpers ────────────────────────────────────────────────────

// createConn dials and authenticates a new connection, retrying network
// timeouts (other failures, authentication included, are not retried) per
// the factory contract (spec §4.6: "a failed
// factory call produces no pool entry; the error is surfaced to the
// acquirer").
func (p *Pool) createConn(ctx context.Context) (*PooledConn, error) {
	id := p.nextID.Add(1)

	var conn *connection.Conn
	err := retry.Do(
		func() error {
			c, err := connection.Connect(ctx, connection.Config{
				Host:            p.cfg.Host,
				Port:            p.cfg.Port,
				Database:        p.cfg.Database,
				AppName:         p.cfg.AppName,
				User:            p.cfg.User,
				Password:        p.cfg.Password,
				FedAuthToken:    p.cfg.FedAuthToken,
				Encrypt:         p.cfg.Encrypt,
				TrustServerCert: p.cfg.TrustServerCert,
				PacketSize:      p.cfg.PacketSize,
				DialTimeout:     p.cfg.ConnectionTimeout,
			})
			if err != nil {
				var netErr net.Error
				if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
					return err // transient, retry
				}
				return retry.Unrecoverable(err)
			}
			conn = c
			return nil
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return newPooledConn(id, p.cfg.ContextName, conn), nil
}

func asNetError(err error, target *net.Error) bool {
	return errors.As(err, target)
}

func (p *Pool) popIdle() *PooledConn {
	for len(p.idle) > 0 {
		n := len(p.idle) - 1
		conn := p.idle[n]
		p.idle = p.idle[:n]

		if p.cfg.IdleTimeout > 0 && conn.idleDuration() > p.cfg.IdleTimeout {
			conn.Close()
			continue
		}
		return conn
	}
	return nil
}

func (p *Pool) removeWaiter(ch chan *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			metrics.QueueLength.WithLabelValues(p.cfg.ContextName).Set(float64(len(p.waiters)))
			break
		}
	}
}

func (p *Pool) updateMetrics() {
	metrics.ConnectionsActive.WithLabelValues(p.cfg.ContextName).Set(float64(len(p.active)))
	metrics.ConnectionsIdle.WithLabelValues(p.cfg.ContextName).Set(float64(len(p.idle)))
	metrics.ConnectionsMax.WithLabelValues(p.cfg.ContextName).Set(float64(p.cfg.MaxConnections))
}

// maintenanceLoop runs periodic idle eviction and warm-pool replenishment
// (spec §4.6: "idle eviction: periodic or lazy ... check removes entries
// whose last-used timestamp exceeds idle_timeout").
func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.evictStale()
			p.HealthCheck()
			p.ensureMinWarm()
		}
	}
}

func (p *Pool) evictStale() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.IdleTimeout == 0 {
		return
	}

	remaining := make([]*PooledConn, 0, len(p.idle))
	evicted := 0
	for _, conn := range p.idle {
		if conn.idleDuration() > p.cfg.IdleTimeout {
			conn.Close()
			evicted++
		} else {
			remaining = append(remaining, conn)
		}
	}
	p.idle = remaining

	if evicted > 0 {
		log.Printf("[pool] context %s — evicted %d stale connections", p.cfg.ContextName, evicted)
		p.updateMetrics()
	}
}

func (p *Pool) ensureMinWarm() {
	p.mu.Lock()
	deficit := p.cfg.MinWarmConnections - len(p.idle)
	total := len(p.idle) + len(p.active)
	headroom := p.cfg.MaxConnections - total
	if deficit > headroom {
		deficit = headroom
	}
	p.mu.Unlock()

	if deficit <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created := 0
	for i := 0; i < deficit; i++ {
		conn, err := p.createConn(ctx)
		if err != nil {
			log.Printf("[pool] context %s — failed to create warm connection: %v", p.cfg.ContextName, err)
			break
		}
		p.mu.Lock()
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
		created++
	}

	if created > 0 {
		p.mu.Lock()
		p.updateMetrics()
		p.mu.Unlock()
		log.Printf("[pool] context %s — replenished %d idle connections", p.cfg.ContextName, created)
	}
}
