package tds

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Token type bytes (MS-TDS 2.2.7). Grounded on the real driver's constant
// table (go-mssqldb's token.go) rather than the teacher's partial subset,
// since the client needs the full response vocabulary, not just ERROR/DONE.
const (
	tokenReturnStatus  byte = 0x79
	tokenColMetadata   byte = 0x81
	tokenOrder         byte = 0xA9
	tokenError         byte = 0xAA
	tokenInfo          byte = 0xAB
	tokenReturnValue   byte = 0xAC
	tokenLoginAck      byte = 0xAD
	tokenFeatureExtAck byte = 0xAE
	tokenRow           byte = 0xD1
	tokenNbcRow        byte = 0xD2
	tokenEnvChange     byte = 0xE3
	tokenSSPI          byte = 0xED
	tokenFedAuthInfo   byte = 0xEE
	tokenDone          byte = 0xFD
	tokenDoneProc      byte = 0xFE
	tokenDoneInProc    byte = 0xFF
)

// DONE status bits (MS-TDS 2.2.7.5).
const (
	doneFinal    uint16 = 0x0000
	doneMore     uint16 = 0x0001
	doneError    uint16 = 0x0002
	doneInxact   uint16 = 0x0004
	doneCount    uint16 = 0x0010
	doneAttn     uint16 = 0x0020
	doneSrvError uint16 = 0x0100
)

// Exported DONE constants for client-authored tokens (the BCP writer's row
// accumulator, spec §4.9 step 4) and for tests assembling a DONE_MORE
// intermediate-statement token.
const (
	DoneStatusCount uint16 = doneCount
	DoneStatusMore  uint16 = doneMore
	CurCmdInsert    uint16 = 0x0003
)

// ENVCHANGE types (MS-TDS 2.2.7.8) the client cares about.
const (
	envTypDatabase     byte = 1
	envTypLanguage     byte = 2
	envTypCharset      byte = 3
	envTypPacketSize   byte = 4
	envTypBeginTran    byte = 8
	envTypCommitTran   byte = 9
	envTypRollbackTran byte = 10
	envTypRouting      byte = 20
)

// DoneStatus decodes the status bits of a DONE/DONEPROC/DONEINPROC token.
type DoneStatus struct {
	More      bool
	HasError  bool
	InTxn     bool
	RowCount  uint64
	HasCount  bool
	Attn      bool
	SrvError  bool
	CurCmd    uint16
}

func parseDoneStatus(status uint16, rowCount uint64) DoneStatus {
	return DoneStatus{
		More:     status&doneMore != 0,
		HasError: status&doneError != 0,
		InTxn:    status&doneInxact != 0,
		HasCount: status&doneCount != 0,
		Attn:     status&doneAttn != 0,
		SrvError: status&doneSrvError != 0,
		RowCount: rowCount,
	}
}

// EnvChange is a single ENVCHANGE token's decoded payload. Only Type,
// NewValue and OldValue are populated for the simple string-pair types; the
// transaction-descriptor types populate TranDescriptor instead.
type EnvChange struct {
	Type           byte
	NewValue       string
	OldValue       string
	TranDescriptor []byte // 8-byte transaction descriptor (begin/commit/rollback)
	RoutingServer  string
	RoutingPort    uint16
}

// ErrorMsg is a decoded ERROR or INFO token (MS-TDS 2.2.7.9 / 2.2.7.12).
type ErrorMsg struct {
	IsError    bool
	Number     int32
	State      uint8
	Class      uint8
	Message    string
	ServerName string
	ProcName   string
	LineNumber uint32
}

func (e *ErrorMsg) String() string {
	return fmt.Sprintf("Msg %d, Level %d, State %d, Server %s, Line %d: %s",
		e.Number, e.Class, e.State, e.ServerName, e.LineNumber, e.Message)
}

// LoginAck is the decoded LOGINACK token (MS-TDS 2.2.7.13).
type LoginAck struct {
	Interface  byte
	TDSVersion uint32
	ProgName   string
	ProgVer    uint32
}

// FeatureExtAck holds the raw per-feature acknowledgement blocks from the
// FEATUREEXTACK token (MS-TDS 2.2.7.11). FedAuth support is surfaced via
// FedAuthAck; unrecognized feature IDs are kept for inspection.
type FeatureExtAck struct {
	FedAuthAck []byte
	Raw        map[byte][]byte
}

func readUint16LE(r *bufio.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readUint32LE(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readUint64LE(r *bufio.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// readBVarChar reads a byte-length-prefixed UTF-16LE string (B_VARCHAR).
func readBVarChar(r *bufio.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, int(n)*2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return decodeUTF16LE(buf)
}

// readUSVarChar reads a ushort-length-prefixed UTF-16LE string (US_VARCHAR).
func readUSVarChar(r *bufio.Reader) (string, error) {
	n, err := readUint16LE(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, int(n)*2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return decodeUTF16LE(buf)
}

// readBVarByte reads a byte-length-prefixed opaque byte blob (B_VARBYTE).
func readBVarByte(r *bufio.Reader) ([]byte, error) {
	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readUSVarByte reads a ushort-length-prefixed opaque byte blob (US_VARBYTE).
func readUSVarByte(r *bufio.Reader) ([]byte, error) {
	n, err := readUint16LE(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readEnvChange decodes one ENVCHANGE token body (length already consumed
// by the caller via io.LimitedReader so trailing unknown sub-fields are
// simply drained). Grounded on go-mssqldb's processEnvChg.
func readEnvChange(body []byte) (*EnvChange, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("tds: empty envchange body")
	}
	r := bufio.NewReader(bytes.NewReader(body[1:]))
	ec := &EnvChange{Type: body[0]}

	switch ec.Type {
	case envTypBeginTran, envTypCommitTran, envTypRollbackTran:
		desc, err := readBVarByte(r)
		if err != nil {
			return nil, fmt.Errorf("tds: envchange tran descriptor: %w", err)
		}
		ec.TranDescriptor = desc
		_, _ = readBVarByte(r) // old value, unused
		return ec, nil
	case envTypRouting:
		// US_VARBYTE wrapping: protocol(1) + port(2) + altserver(US_VARCHAR)
		blob, err := readUSVarByte(r)
		if err != nil {
			return nil, fmt.Errorf("tds: envchange routing: %w", err)
		}
		if len(blob) >= 3 {
			ec.RoutingPort = binary.LittleEndian.Uint16(blob[1:3])
			nameLen := binary.LittleEndian.Uint16(blob[3:5])
			nameBytes := blob[5 : 5+int(nameLen)*2]
			name, _ := decodeUTF16LE(nameBytes)
			ec.RoutingServer = name
		}
		return ec, nil
	default:
		newV, err := readBVarChar(r)
		if err != nil {
			return nil, fmt.Errorf("tds: envchange new value: %w", err)
		}
		oldV, _ := readBVarChar(r)
		ec.NewValue = newV
		ec.OldValue = oldV
		return ec, nil
	}
}
