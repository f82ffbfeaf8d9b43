package tds

import (
	"encoding/binary"
	"fmt"
)

// PreLoginOptionToken identifies a field in a PRELOGIN packet (MS-TDS 2.2.6.5).
type PreLoginOptionToken byte

const (
	PreLoginVersion    PreLoginOptionToken = 0x00
	PreLoginEncryption PreLoginOptionToken = 0x01
	PreLoginInstOpt    PreLoginOptionToken = 0x02
	PreLoginThreadID   PreLoginOptionToken = 0x03
	PreLoginMARS       PreLoginOptionToken = 0x04
	PreLoginTraceID    PreLoginOptionToken = 0x05
	PreLoginFedAuth    PreLoginOptionToken = 0x06
	PreLoginNonce      PreLoginOptionToken = 0x07
	PreLoginTerminator PreLoginOptionToken = 0xFF
)

// Encryption option values (MS-TDS 2.2.6.5).
const (
	EncryptOff    byte = 0x00
	EncryptOn     byte = 0x01
	EncryptNotSup byte = 0x02
	EncryptReq    byte = 0x03
)

// PreLoginOption is a single (token, data) pair inside a PRELOGIN message.
type PreLoginOption struct {
	Token PreLoginOptionToken
	Data  []byte
}

// PreLoginMsg holds a PRELOGIN message's options, client- or server-authored.
type PreLoginMsg struct {
	Options []PreLoginOption
}

// Encryption returns the encryption byte, or EncryptNotSup if absent.
func (m *PreLoginMsg) Encryption() byte {
	for _, opt := range m.Options {
		if opt.Token == PreLoginEncryption && len(opt.Data) > 0 {
			return opt.Data[0]
		}
	}
	return EncryptNotSup
}

// FedAuthRequired reports whether the server advertised FEDAUTHREQUIRED.
func (m *PreLoginMsg) FedAuthRequired() bool {
	for _, opt := range m.Options {
		if opt.Token == PreLoginFedAuth && len(opt.Data) > 0 {
			return opt.Data[0] != 0
		}
	}
	return false
}

// Marshal serializes the message to bytes: an offset/length header table
// followed by the concatenated option data, terminated by 0xFF.
func (m *PreLoginMsg) Marshal() []byte {
	headerSize := len(m.Options)*5 + 1
	totalSize := headerSize
	for _, opt := range m.Options {
		totalSize += len(opt.Data)
	}

	buf := make([]byte, totalSize)
	dataOffset := headerSize
	pos := 0
	for _, opt := range m.Options {
		buf[pos] = byte(opt.Token)
		binary.BigEndian.PutUint16(buf[pos+1:pos+3], uint16(dataOffset))
		binary.BigEndian.PutUint16(buf[pos+3:pos+5], uint16(len(opt.Data)))
		copy(buf[dataOffset:], opt.Data)
		dataOffset += len(opt.Data)
		pos += 5
	}
	buf[pos] = byte(PreLoginTerminator)

	return buf
}

// ParsePreLogin parses a PRELOGIN payload (header+options, no TDS header).
func ParsePreLogin(payload []byte) (*PreLoginMsg, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("tds: prelogin payload is empty")
	}

	msg := &PreLoginMsg{}

	type optHeader struct {
		token  PreLoginOptionToken
		offset uint16
		length uint16
	}
	var headers []optHeader

	pos := 0
	for pos < len(payload) {
		token := PreLoginOptionToken(payload[pos])
		if token == PreLoginTerminator {
			break
		}
		if pos+5 > len(payload) {
			return nil, fmt.Errorf("tds: prelogin truncated option header at %d", pos)
		}
		offset := binary.BigEndian.Uint16(payload[pos+1 : pos+3])
		length := binary.BigEndian.Uint16(payload[pos+3 : pos+5])
		headers = append(headers, optHeader{token, offset, length})
		pos += 5
	}

	for _, h := range headers {
		end := int(h.offset) + int(h.length)
		if end > len(payload) {
			return nil, fmt.Errorf("tds: prelogin option 0x%02X out of bounds (offset=%d, len=%d, payload=%d)",
				h.token, h.offset, h.length, len(payload))
		}
		data := make([]byte, h.length)
		copy(data, payload[h.offset:end])
		msg.Options = append(msg.Options, PreLoginOption{Token: h.token, Data: data})
	}

	return msg, nil
}

// BuildPreLoginRequest constructs the client's PRELOGIN message: version,
// desired encryption mode, and an optional FedAuth advertisement (MS-TDS
// 2.2.6.5). The client always disables MARS — spec Non-goals exclude it.
func BuildPreLoginRequest(encrypt byte, fedAuth bool) *PreLoginMsg {
	msg := &PreLoginMsg{}
	msg.Options = append(msg.Options, PreLoginOption{
		Token: PreLoginVersion,
		Data:  []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	})
	msg.Options = append(msg.Options, PreLoginOption{
		Token: PreLoginEncryption,
		Data:  []byte{encrypt},
	})
	msg.Options = append(msg.Options, PreLoginOption{
		Token: PreLoginInstOpt,
		Data:  []byte{0x00},
	})
	msg.Options = append(msg.Options, PreLoginOption{
		Token: PreLoginThreadID,
		Data:  []byte{0x00, 0x00, 0x00, 0x00},
	})
	msg.Options = append(msg.Options, PreLoginOption{
		Token: PreLoginMARS,
		Data:  []byte{0x00},
	})
	if fedAuth {
		msg.Options = append(msg.Options, PreLoginOption{
			Token: PreLoginFedAuth,
			Data:  []byte{0x01},
		})
	}
	return msg
}
