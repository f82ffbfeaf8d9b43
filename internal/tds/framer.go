package tds

import (
	"fmt"
	"io"
)

// MessageWriter streams one TDS message as a sequence of packets without
// ever holding the whole message body in memory — only up to one packet's
// worth of payload at a time. BuildPackets/SendMessage build the full
// payload up front, which is fine for LOGIN7/SQL_BATCH/ATTENTION (small,
// bounded payloads); the BCP writer's BULK_LOAD messages can run to
// millions of rows, so it drives this type instead (spec §4.9's "the BCP
// writer never buffers the whole input").
type MessageWriter struct {
	w          io.Writer
	pktType    PacketType
	maxPayload int
	buf        []byte
	packetID   byte
	closed     bool
}

// NewMessageWriter returns a MessageWriter that frames pktType packets no
// larger than packetSize (including the 8-byte header) onto w.
func NewMessageWriter(w io.Writer, pktType PacketType, packetSize int) *MessageWriter {
	if packetSize <= HeaderSize {
		packetSize = DefaultPacketSize
	}
	return &MessageWriter{
		w:          w,
		pktType:    pktType,
		maxPayload: packetSize - HeaderSize,
		packetID:   1,
	}
}

// Write appends p to the pending packet, flushing full packets to the
// underlying writer as the buffer fills.
func (mw *MessageWriter) Write(p []byte) (int, error) {
	if mw.closed {
		return 0, fmt.Errorf("tds: write to closed MessageWriter")
	}
	total := len(p)
	for len(p) > 0 {
		room := mw.maxPayload - len(mw.buf)
		if room <= 0 {
			if err := mw.flush(StatusNormal); err != nil {
				return total - len(p), err
			}
			room = mw.maxPayload
		}
		n := room
		if n > len(p) {
			n = len(p)
		}
		mw.buf = append(mw.buf, p[:n]...)
		p = p[n:]
	}
	return total, nil
}

// flush writes the current buffer as one packet with the given status bit
// added to StatusEOM when closing.
func (mw *MessageWriter) flush(status byte) error {
	hdr := Header{
		Type:     mw.pktType,
		Status:   status,
		Length:   uint16(HeaderSize + len(mw.buf)),
		PacketID: mw.packetID,
	}
	pkt := make([]byte, HeaderSize+len(mw.buf))
	copy(pkt[:HeaderSize], hdr.Marshal())
	copy(pkt[HeaderSize:], mw.buf)
	if _, err := mw.w.Write(pkt); err != nil {
		return fmt.Errorf("tds: writing %s packet: %w", mw.pktType, err)
	}
	mw.buf = mw.buf[:0]
	mw.packetID++
	return nil
}

// Close flushes any buffered payload as the final, EOM-tagged packet,
// closing the message (spec §4.9: "force the Framer to close the current
// BULK_LOAD message with EOM").
func (mw *MessageWriter) Close() error {
	if mw.closed {
		return nil
	}
	mw.closed = true
	return mw.flush(StatusEOM)
}
