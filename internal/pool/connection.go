// Package pool provides the bounded, named connection pool described in
// SPEC_FULL §4.6: one pool per attached catalog context, warm-started to
// min_warm_connections, growing lazily to max_connections, with idle
// eviction, LIFO reuse and channel-based acquisition queueing.
package pool

import (
	"sync"
	"time"

	"github.com/hugr-lab/go-mssql-core/internal/connection"
	"github.com/hugr-lab/go-mssql-core/internal/pool/coordinator"
)

// PinReason describes why a PooledConn is not currently returnable to its
// pool's idle stack.
type PinReason string

const (
	PinNone        PinReason = ""
	PinTransaction PinReason = "transaction"
	PinBulkLoad    PinReason = "bulk_load"
)

// ConnState is a PooledConn's lifecycle state within the pool (distinct
// from the underlying connection.Conn's own TDS session state).
type ConnState int

const (
	ConnStateIdle ConnState = iota
	ConnStateActive
	ConnStateClosed
)

// Config carries everything a Pool needs to dial and authenticate new
// connections, plus the pool's own sizing and timeout knobs (spec §4.6:
// max_connections, min_warm_connections, connection_timeout, idle_timeout,
// acquire_timeout, connection_cache).
type Config struct {
	ContextName string

	Host     string
	Port     int
	Database string
	AppName  string

	User         string
	Password     string
	FedAuthToken []byte

	Encrypt         byte
	TrustServerCert bool
	PacketSize      uint32

	MaxConnections     int
	MinWarmConnections int
	ConnectionTimeout  time.Duration
	IdleTimeout        time.Duration
	AcquireTimeout     time.Duration
	ConnectionCache    bool

	// Coordinator is optional; when set, Acquire/Release additionally claim
	// and free a slot in the cross-process budget it tracks (SPEC_FULL §4.6).
	Coordinator *coordinator.RedisCoordinator
}

// PooledConn wraps a connection.Conn with the bookkeeping a Pool needs to
// manage it: identity, pin state, and idle/use timestamps. It is the unit
// the Pool's idle stack and active map track.
type PooledConn struct {
	mu sync.Mutex

	conn *connection.Conn

	id          uint64
	contextName string

	state ConnState

	pinReason PinReason
	pinnedAt  time.Time

	createdAt  time.Time
	lastUsedAt time.Time

	useCount uint64
}

func newPooledConn(id uint64, contextName string, conn *connection.Conn) *PooledConn {
	now := time.Now()
	return &PooledConn{
		conn:        conn,
		id:          id,
		contextName: contextName,
		state:       ConnStateIdle,
		createdAt:   now,
		lastUsedAt:  now,
	}
}

// Conn returns the underlying authenticated TDS connection.
func (c *PooledConn) Conn() *connection.Conn { return c.conn }

// ID returns this connection's pool-local identifier.
func (c *PooledConn) ID() uint64 { return c.id }

// ContextName returns the catalog context this connection belongs to.
func (c *PooledConn) ContextName() string { return c.contextName }

// State returns the connection's current pool lifecycle state.
func (c *PooledConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsPinned reports whether the connection is currently bound to a
// transaction or bulk load and is therefore not returnable to the idle
// stack by a plain release.
func (c *PooledConn) IsPinned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinReason != PinNone
}

// PinReason returns the current pin reason, or PinNone.
func (c *PooledConn) PinReason() PinReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinReason
}

// Pin marks the connection as pinned for reason. Release on a pinned
// connection is a no-op (spec §4.7): only Unpin followed by Release
// returns it to the pool.
func (c *PooledConn) Pin(reason PinReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinReason == PinNone {
		c.pinnedAt = time.Now()
	}
	c.pinReason = reason
}

// Unpin clears the pin reason and returns how long the connection was
// pinned.
func (c *PooledConn) Unpin() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var dur time.Duration
	if c.pinReason != PinNone {
		dur = time.Since(c.pinnedAt)
	}
	c.pinReason = PinNone
	c.pinnedAt = time.Time{}
	return dur
}

func (c *PooledConn) markAcquired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnStateActive
	c.lastUsedAt = time.Now()
	c.useCount++
}

func (c *PooledConn) markIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnStateIdle
	c.lastUsedAt = time.Now()
}

func (c *PooledConn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnStateClosed
}

func (c *PooledConn) idleDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsedAt)
}

// Close closes the underlying TDS connection.
func (c *PooledConn) Close() error {
	c.markClosed()
	return c.conn.Close()
}
