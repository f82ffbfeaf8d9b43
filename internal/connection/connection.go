package connection

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hugr-lab/go-mssql-core/internal/resultstream"
	"github.com/hugr-lab/go-mssql-core/internal/tds"
)

// Config carries everything Connect needs to originate a session.
type Config struct {
	Host       string
	Port       int
	Database   string
	AppName    string

	// Exactly one authentication mode is used: SQL auth (User/Password) or
	// FedAuth (FedAuthToken, a caller-supplied bearer token — token
	// acquisition itself is out of scope, per spec Non-goals).
	User         string
	Password     string
	FedAuthToken []byte

	Encrypt            byte // tds.EncryptOff/On/Req
	TrustServerCert     bool
	PacketSize          uint32
	DialTimeout        time.Duration
}

// Conn is one client-originated TDS session: socket, negotiated packet
// size, state machine and the currently bound transaction descriptor.
type Conn struct {
	cfg    Config
	socket *tds.Socket
	state  stateBox

	mu             sync.Mutex // serializes request/response — one in-flight op per connection
	packetSize     int
	database       string
	serverName     string
	tranDescriptor [8]byte
	inTransaction  bool
	pendingStream  *resultstream.Stream

	createdAt    time.Time
	lastActiveAt time.Time
}

// Connect dials, negotiates PRELOGIN/TLS and authenticates via LOGIN7,
// returning a Conn in StateIdle.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	socket, err := tds.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		cfg:        cfg,
		socket:     socket,
		packetSize: int(orDefault(cfg.PacketSize, tds.DefaultPacketSize)),
		database:   cfg.Database,
		createdAt:  time.Now(),
	}
	c.state.Store(StateDisconnected)

	if !c.state.CASAllowed(StateDisconnected, StateAuthenticating) {
		return nil, fmt.Errorf("connection: unexpected initial state")
	}

	if err := c.authenticate(ctx); err != nil {
		socket.Close()
		c.state.Store(StateDisconnected)
		return nil, err
	}

	if !c.state.CASAllowed(StateAuthenticating, StateIdle) {
		socket.Close()
		return nil, fmt.Errorf("connection: state changed during authentication")
	}

	c.lastActiveAt = time.Now()
	return c, nil
}

func orDefault(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

// authenticate runs PRELOGIN, optional TLS upgrade, and LOGIN7.
func (c *Conn) authenticate(ctx context.Context) error {
	fedAuth := len(c.cfg.FedAuthToken) > 0
	preloginReq := tds.BuildPreLoginRequest(c.cfg.Encrypt, fedAuth)
	if err := tds.SendMessage(c.socket.Conn(), tds.PacketPreLogin, preloginReq.Marshal(), c.packetSize); err != nil {
		return tds.NewProtocolError("sending prelogin", err)
	}

	pktType, payload, err := tds.ReadMessage(c.socket.Conn())
	if err != nil {
		return tds.NewProtocolError("reading prelogin response", err)
	}
	if pktType != tds.PacketReply {
		return tds.NewProtocolError("prelogin response", fmt.Errorf("unexpected packet type %s", pktType))
	}
	serverPreLogin, err := tds.ParsePreLogin(payload)
	if err != nil {
		return tds.NewProtocolError("parsing prelogin response", err)
	}

	if serverPreLogin.Encryption() != tds.EncryptOff && serverPreLogin.Encryption() != tds.EncryptNotSup {
		if err := c.socket.UpgradeTLS(ctx, c.cfg.Host, c.cfg.TrustServerCert, c.packetSize); err != nil {
			return &tds.Error{Kind: tds.KindAuth, Message: "tls upgrade failed", Err: err}
		}
	}

	login7 := tds.BuildLogin7(tds.Login7Options{
		HostName:            hostnameOrDefault(),
		UserName:            c.cfg.User,
		Password:            c.cfg.Password,
		AppName:             c.cfg.AppName,
		ServerName:          c.cfg.Host,
		Database:            c.cfg.Database,
		ClientInterfaceName: "go-mssql-core",
		PacketSize:          uint32(c.packetSize),
		FedAuthToken:        c.cfg.FedAuthToken,
	})
	if err := tds.SendMessage(c.socket.Conn(), tds.PacketLogin7, login7, c.packetSize); err != nil {
		return tds.NewProtocolError("sending login7", err)
	}

	return c.readLoginResponse(ctx)
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "go-mssql-core"
	}
	return h
}

// readLoginResponse consumes the LOGINACK/ENVCHANGE/FEATUREEXTACK/DONE
// stream following LOGIN7, failing on any ERROR token (authentication
// failure is always fatal — there is no partial-success case).
func (c *Conn) readLoginResponse(ctx context.Context) error {
	mr := tds.NewMessageReader(c.socket.Conn())
	dec := tds.NewDecoder(bufio.NewReader(mr))

	var loggedIn bool
	for {
		ev, err := dec.Next()
		if err != nil {
			if loggedIn {
				break
			}
			return tds.NewProtocolError("reading login response", err)
		}
		switch ev.Kind {
		case tds.EventError:
			return tds.NewServerError(ev.Error)
		case tds.EventEnvChange:
			c.applyEnvChange(ev.EnvChange)
		case tds.EventLoginAck:
			loggedIn = true
		case tds.EventDone, tds.EventDoneProc, tds.EventDoneInProc:
			if ev.Done.HasError {
				return &tds.Error{Kind: tds.KindAuth, Message: "login failed"}
			}
			if !ev.Done.More {
				return nil
			}
		}
	}
	return nil
}

// applyEnvChange updates connection-local state from an ENVCHANGE token:
// database name, negotiated packet size and the bound transaction
// descriptor (SPEC_FULL §4.7).
func (c *Conn) applyEnvChange(ec *tds.EnvChange) {
	switch ec.Type {
	case 1: // database
		c.database = ec.NewValue
	case 4: // packet size
		var sz int
		fmt.Sscanf(ec.NewValue, "%d", &sz)
		if sz > 0 {
			c.packetSize = sz
		}
	case 8, 9, 10: // begin/commit/rollback tran
		if ec.Type == 8 && len(ec.TranDescriptor) == 8 {
			copy(c.tranDescriptor[:], ec.TranDescriptor)
			c.inTransaction = true
		} else {
			c.tranDescriptor = [8]byte{}
			c.inTransaction = false
		}
	}
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State { return c.state.Load() }

// Database returns the currently active database (after any USE/ENVCHANGE).
func (c *Conn) Database() string { return c.database }

// InTransaction reports whether a server transaction descriptor is bound.
func (c *Conn) InTransaction() bool { return c.inTransaction }

// TranDescriptor returns the 8-byte descriptor currently bound to this
// connection (zero value when running autocommit).
func (c *Conn) TranDescriptor() [8]byte { return c.tranDescriptor }

// Execute sends sqlText as a SQL_BATCH and returns a Stream over the
// response. The caller must fully drain the Stream (Next until false)
// before issuing another Execute or Release will have to do it instead.
func (c *Conn) Execute(ctx context.Context, sqlText string) (*resultstream.Stream, error) {
	c.mu.Lock()
	if !c.state.CASAllowed(StateIdle, StateExecuting) {
		c.mu.Unlock()
		return nil, &tds.Error{Kind: tds.KindConnClosed, Message: fmt.Sprintf("connection not idle (state=%s)", c.state.Load())}
	}

	payload := tds.PrependAllHeaders(c.tranDescriptor, tds.EncodeBatchText(sqlText))
	if err := tds.SendMessage(c.socket.Conn(), tds.PacketSQLBatch, payload, c.packetSize); err != nil {
		c.state.Store(StateIdle)
		c.mu.Unlock()
		return nil, tds.NewProtocolError("sending sql batch", err)
	}

	mr := tds.NewMessageReader(c.socket.Conn())
	dec := tds.NewDecoder(bufio.NewReader(mr))
	stream := resultstream.New(dec, c.applyEnvChange)

	c.lastActiveAt = time.Now()
	// The mutex only guards the send and this bookkeeping; the connection
	// stays in StateExecuting with the stream tracked in pendingStream until
	// the caller hands it back through Release (one request in flight at a time).
	c.pendingStream = stream
	c.mu.Unlock()
	return stream, nil
}

// Release returns the connection to Idle once a Stream returned by Execute
// is done with. Callers are expected to have already drained s to false,
// but Release drains it anyway before flipping state: Idle means the
// connection holds no unread server data (spec.md §3.2), and a caller that
// stopped calling Next before the stream reached a terminal state would
// otherwise leave the rest of the response on the wire for the next
// Execute to desync on. Draining an already-finished Stream is a cheap
// no-op since Next returns false immediately in a terminal state.
func (c *Conn) Release(s *resultstream.Stream) {
	if s != nil {
		_ = s.Drain()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingStream == s {
		c.pendingStream = nil
	}
	c.state.CASAllowed(StateExecuting, StateIdle)
	c.state.CASAllowed(StateCancelling, StateIdle)
}

// Cancel sends ATTENTION to interrupt the in-flight request and drains the
// response up to DONE_ATTN, matching SPEC_FULL §4.4's cancellation path.
func (c *Conn) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.CASAllowed(StateExecuting, StateCancelling) {
		c.mu.Unlock()
		return nil
	}
	pending := c.pendingStream
	c.mu.Unlock()

	if _, err := c.socket.Conn().Write(tds.BuildAttention()); err != nil {
		return tds.NewProtocolError("sending attention", err)
	}
	if pending != nil {
		_ = pending.Drain()
	}
	return nil
}

// Close closes the underlying socket. It is safe to call on a connection
// in any state.
func (c *Conn) Close() error {
	c.state.Store(StateDisconnected)
	return c.socket.Close()
}

// CreatedAt and LastActiveAt support pool eviction policy (min idle / max idle
// duration, SPEC_FULL §4.6).
func (c *Conn) CreatedAt() time.Time     { return c.createdAt }
func (c *Conn) LastActiveAt() time.Time { return c.lastActiveAt }

// BulkLoadWriter transitions the connection to StateExecuting and hands back
// a streaming tds.MessageWriter over a BULK_LOAD (0x07) message, used by the
// BCP writer to push INSERT BULK's COLMETADATA/ROW/DONE body without ever
// buffering the whole batch in memory (spec §4.9). The caller must send the
// "INSERT BULK ..." SQL_BATCH and drain its acknowledging DONE before calling
// this, then write the bulk-load body and call AwaitBulkLoadResponse.
func (c *Conn) BulkLoadWriter(ctx context.Context) (*tds.MessageWriter, error) {
	c.mu.Lock()
	if !c.state.CASAllowed(StateIdle, StateExecuting) {
		c.mu.Unlock()
		return nil, &tds.Error{Kind: tds.KindConnClosed, Message: fmt.Sprintf("connection not idle (state=%s)", c.state.Load())}
	}
	c.mu.Unlock()
	return tds.NewMessageWriter(c.socket.Conn(), tds.PacketBulkLoad, c.packetSize), nil
}

// AwaitBulkLoadResponse closes mw (forcing the final EOM packet) and reads
// the server's confirming token stream, exactly as Execute does for a
// SQL_BATCH. The caller drains the returned Stream and calls Release, same
// as any other Execute-derived Stream.
func (c *Conn) AwaitBulkLoadResponse(mw *tds.MessageWriter) (*resultstream.Stream, error) {
	if err := mw.Close(); err != nil {
		c.mu.Lock()
		c.state.Store(StateIdle)
		c.mu.Unlock()
		return nil, tds.NewProtocolError("closing bulk load message", err)
	}

	mr := tds.NewMessageReader(c.socket.Conn())
	dec := tds.NewDecoder(bufio.NewReader(mr))
	stream := resultstream.New(dec, c.applyEnvChange)

	c.mu.Lock()
	c.lastActiveAt = time.Now()
	c.pendingStream = stream
	c.mu.Unlock()
	return stream, nil
}

// Ping sends an empty SQL_BATCH and drains the response, expecting a clean
// DONE. Used by the pool's health check (spec §4.4: "from Idle, send an
// empty SQL_BATCH and expect a DONE").
func (c *Conn) Ping(ctx context.Context) error {
	stream, err := c.Execute(ctx, "")
	if err != nil {
		return err
	}
	defer c.Release(stream)
	for stream.Next() {
	}
	return stream.Err()
}
