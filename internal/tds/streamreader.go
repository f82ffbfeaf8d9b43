package tds

import (
	"fmt"
	"io"
)

// MessageReader turns a sequence of TDS packets belonging to one logical
// message into a plain io.Reader, stripping headers packet by packet and
// stopping at EOM. Unlike ReadMessage, it never buffers the whole message —
// callers (the result stream's token decoder) pull bytes incrementally,
// which is what keeps a large result set's memory bounded (SPEC_FULL §5).
type MessageReader struct {
	r       io.Reader
	cur     []byte
	eom     bool
	pktType PacketType
	started bool
}

// NewMessageReader wraps r (the connection's socket) for pull-based decoding
// of the next TDS message.
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{r: r}
}

// Type returns the packet type of the message, valid after the first Read.
func (m *MessageReader) Type() PacketType { return m.pktType }

func (m *MessageReader) Read(p []byte) (int, error) {
	for len(m.cur) == 0 {
		if m.eom && m.started {
			return 0, io.EOF
		}
		hdr, pkt, err := ReadPacket(m.r)
		if err != nil {
			return 0, fmt.Errorf("tds: reading message packet: %w", err)
		}
		m.started = true
		if m.pktType == 0 {
			m.pktType = hdr.Type
		}
		m.cur = pkt[HeaderSize:]
		m.eom = hdr.IsEOM()
	}
	n := copy(p, m.cur)
	m.cur = m.cur[n:]
	return n, nil
}
