package tds

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Socket owns the raw TCP connection and, once negotiated, the TLS layer
// wrapped around it. It is the lowest layer of the client: everything above
// it (the Framer functions in packet.go) only sees an io.ReadWriter.
//
// crypto/tls is the standard library's TLS stack; no third-party TLS
// implementation appears anywhere in the retrieval pack, so this is the
// grounded choice (see DESIGN.md).
type Socket struct {
	raw  net.Conn
	conn net.Conn // raw during PRELOGIN, tls.Conn once encryption is negotiated
}

// DialContext opens the underlying TCP connection. The caller drives
// PRELOGIN negotiation and optionally calls UpgradeTLS afterward.
func DialContext(ctx context.Context, network, address string) (*Socket, error) {
	d := net.Dialer{}
	raw, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tds: dial %s: %w", address, err)
	}
	return &Socket{raw: raw, conn: raw}, nil
}

// Conn returns the current read/write transport (raw or TLS).
func (s *Socket) Conn() net.Conn { return s.conn }

// SetDeadline forwards to the active connection.
func (s *Socket) SetDeadline(t time.Time) error { return s.conn.SetDeadline(t) }

// Close closes the underlying connection (and the TLS layer, if any).
func (s *Socket) Close() error { return s.raw.Close() }

// handshakeConn tunnels TLS handshake bytes inside PRELOGIN (0x12) TDS
// packets, the way the server expects them during the encryption
// negotiation phase of PRELOGIN (MS-TDS 2.2.6.5, 2.2.6.6), and degrades to
// a plain passthrough once the handshake is done — from that point the
// resulting TLS records travel as the payload of ordinary TDS packets
// built by the Framer one layer up.
type handshakeConn struct {
	raw         net.Conn
	packetSize  int
	handshaking bool
	readBuf     bytes.Buffer
}

func newHandshakeConn(raw net.Conn, packetSize int) *handshakeConn {
	if packetSize <= HeaderSize {
		packetSize = DefaultPacketSize
	}
	return &handshakeConn{raw: raw, packetSize: packetSize, handshaking: true}
}

func (c *handshakeConn) Read(p []byte) (int, error) {
	if !c.handshaking {
		return c.raw.Read(p)
	}
	if c.readBuf.Len() == 0 {
		_, payload, err := ReadMessage(c.raw)
		if err != nil {
			return 0, err
		}
		c.readBuf.Write(payload)
	}
	return c.readBuf.Read(p)
}

func (c *handshakeConn) Write(p []byte) (int, error) {
	if !c.handshaking {
		return c.raw.Write(p)
	}
	if err := SendMessage(c.raw, PacketPreLogin, p, c.packetSize); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *handshakeConn) Close() error                       { return c.raw.Close() }
func (c *handshakeConn) LocalAddr() net.Addr                { return c.raw.LocalAddr() }
func (c *handshakeConn) RemoteAddr() net.Addr               { return c.raw.RemoteAddr() }
func (c *handshakeConn) SetDeadline(t time.Time) error      { return c.raw.SetDeadline(t) }
func (c *handshakeConn) SetReadDeadline(t time.Time) error  { return c.raw.SetReadDeadline(t) }
func (c *handshakeConn) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }

// UpgradeTLS performs the TLS handshake tunnelled through PRELOGIN packets
// and, on success, switches the Socket to use the resulting *tls.Conn for
// all further traffic. serverName drives certificate verification;
// insecureSkipVerify matches the ENCRYPT_LOGIN-only deployments some
// on-prem SQL Server installs still run (self-signed certs).
func (s *Socket) UpgradeTLS(ctx context.Context, serverName string, insecureSkipVerify bool, packetSize int) error {
	hc := newHandshakeConn(s.raw, packetSize)
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	tlsConn := tls.Client(hc, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("tds: tls handshake: %w", err)
	}
	hc.handshaking = false
	s.conn = tlsConn
	return nil
}
