// Package tds implements the client side of the TDS (Tabular Data Stream)
// wire protocol used by Microsoft SQL Server.
//
// Reference: https://learn.microsoft.com/en-us/openspecs/windows_protocols/ms-tds/
//
// The package frames and decodes the subset of the protocol a client
// originates: PRELOGIN, LOGIN7, SQL_BATCH, BULK_LOAD, ATTENTION and
// TRANS_MGR requests, and the COLMETADATA/ROW/DONE/ERROR/ENVCHANGE token
// stream a server sends back.
package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ── TDS packet types (MS-TDS 2.2.3.1) ───────────────────────────────────

// PacketType is the first byte of a TDS packet header.
type PacketType byte

const (
	PacketSQLBatch   PacketType = 0x01
	PacketRPCRequest PacketType = 0x03
	PacketReply      PacketType = 0x04
	PacketAttention  PacketType = 0x06
	PacketBulkLoad   PacketType = 0x07
	PacketTransMgr   PacketType = 0x0E
	PacketLogin7     PacketType = 0x10
	PacketSSPI       PacketType = 0x11
	PacketPreLogin   PacketType = 0x12
)

// String returns a readable name for the packet type.
func (t PacketType) String() string {
	switch t {
	case PacketSQLBatch:
		return "SQL_BATCH"
	case PacketRPCRequest:
		return "RPC"
	case PacketReply:
		return "REPLY"
	case PacketAttention:
		return "ATTENTION"
	case PacketBulkLoad:
		return "BULK_LOAD"
	case PacketTransMgr:
		return "TRANS_MGR"
	case PacketLogin7:
		return "LOGIN7"
	case PacketSSPI:
		return "SSPI"
	case PacketPreLogin:
		return "PRELOGIN"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
	}
}

// ── TDS packet status (MS-TDS 2.2.3.1.2) ────────────────────────────────

const (
	StatusNormal        byte = 0x00
	StatusEOM           byte = 0x01
	StatusIgnore        byte = 0x02
	StatusResetConn     byte = 0x08
	StatusResetConnSkip byte = 0x10
)

// ── 8-byte TDS header ────────────────────────────────────────────────────

// HeaderSize is the fixed size of a TDS packet header.
const HeaderSize = 8

// MinPacketSize, DefaultPacketSize and MaxPacketSize bound the packet size
// negotiated during PRELOGIN.
const (
	MinPacketSize     = 512
	DefaultPacketSize = 4096
	MaxPacketSize     = 32767
)

// Header is the 8-byte header in front of every TDS packet.
//
//	Byte 0:   Type
//	Byte 1:   Status
//	Byte 2-3: Length (including header, big-endian)
//	Byte 4-5: SPID (big-endian)
//	Byte 6:   PacketID (sequence counter)
//	Byte 7:   Window (unused, always 0)
type Header struct {
	Type     PacketType
	Status   byte
	Length   uint16
	SPID     uint16
	PacketID byte
	Window   byte
}

// IsEOM reports whether this packet is the last one in its message.
func (h *Header) IsEOM() bool {
	return h.Status&StatusEOM != 0
}

// PayloadLength returns the number of payload bytes (Length - HeaderSize).
func (h *Header) PayloadLength() int {
	if int(h.Length) <= HeaderSize {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// Marshal serializes the header into an 8-byte slice.
func (h *Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	buf[1] = h.Status
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint16(buf[4:6], h.SPID)
	buf[6] = h.PacketID
	buf[7] = h.Window
	return buf
}

// ReadHeader reads an 8-byte TDS header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return ParseHeader(buf)
}

// ParseHeader parses an 8-byte buffer into a Header.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("tds: header too short: %d bytes", len(buf))
	}
	h := &Header{
		Type:     PacketType(buf[0]),
		Status:   buf[1],
		Length:   binary.BigEndian.Uint16(buf[2:4]),
		SPID:     binary.BigEndian.Uint16(buf[4:6]),
		PacketID: buf[6],
		Window:   buf[7],
	}
	if h.Length < HeaderSize {
		return nil, fmt.Errorf("tds: packet length %d is less than header size", h.Length)
	}
	if h.Length > MaxPacketSize {
		return nil, fmt.Errorf("tds: packet length %d exceeds max %d", h.Length, MaxPacketSize)
	}
	return h, nil
}

// ReadPacket reads one complete TDS packet (header + payload) from r. It
// returns the header and the full packet bytes including the header.
func ReadPacket(r io.Reader) (*Header, []byte, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}

	packet := make([]byte, hdr.Length)
	copy(packet[:HeaderSize], hdr.Marshal())

	payloadLen := hdr.PayloadLength()
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, packet[HeaderSize:]); err != nil {
			return nil, nil, fmt.Errorf("tds: reading payload (%d bytes): %w", payloadLen, err)
		}
	}

	return hdr, packet, nil
}

// ReadMessage reads one full TDS message (one or more packets up to EOM)
// from r, returning the packet type and the payload with headers stripped.
func ReadMessage(r io.Reader) (PacketType, []byte, error) {
	var (
		pktType PacketType
		payload []byte
	)

	for {
		hdr, pkt, err := ReadPacket(r)
		if err != nil {
			return 0, nil, err
		}

		if pktType == 0 {
			pktType = hdr.Type
		}

		if hdr.PayloadLength() > 0 {
			payload = append(payload, pkt[HeaderSize:]...)
		}

		if hdr.IsEOM() {
			break
		}
	}

	return pktType, payload, nil
}

// WritePackets writes raw packet bytes to w in order.
func WritePackets(w io.Writer, packets [][]byte) error {
	for _, pkt := range packets {
		if _, err := w.Write(pkt); err != nil {
			return fmt.Errorf("tds: writing packet: %w", err)
		}
	}
	return nil
}

// BuildPackets splits payload into one or more TDS packets no larger than
// packetSize (including header), tagging the last with EOM. An empty
// payload still yields a single zero-length EOM packet.
func BuildPackets(pktType PacketType, payload []byte, packetSize int) [][]byte {
	if packetSize <= HeaderSize {
		packetSize = DefaultPacketSize
	}

	maxPayload := packetSize - HeaderSize
	var packets [][]byte
	var packetID byte = 1

	for {
		chunkSize := maxPayload
		if chunkSize > len(payload) {
			chunkSize = len(payload)
		}

		status := StatusNormal
		if chunkSize >= len(payload) {
			status = StatusEOM
		}

		hdr := Header{
			Type:     pktType,
			Status:   status,
			Length:   uint16(HeaderSize + chunkSize),
			PacketID: packetID,
		}

		pkt := make([]byte, HeaderSize+chunkSize)
		copy(pkt[:HeaderSize], hdr.Marshal())
		copy(pkt[HeaderSize:], payload[:chunkSize])

		packets = append(packets, pkt)
		payload = payload[chunkSize:]
		packetID++

		if status == StatusEOM {
			break
		}
	}

	return packets
}

// SendMessage frames payload as pktType and writes it to w in packetSize chunks.
func SendMessage(w io.Writer, pktType PacketType, payload []byte, packetSize int) error {
	return WritePackets(w, BuildPackets(pktType, payload, packetSize))
}
