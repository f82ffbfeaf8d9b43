package tds

import (
	"bufio"
	"fmt"
)

// Severity thresholds mirrored from the server's ERROR/INFO Class byte
// (MS-TDS 2.2.7.9/2.2.7.12); anything >= SeverityError aborts the batch.
const (
	SeverityInfo    uint8 = 10
	SeverityWarning uint8 = 11
	SeverityError   uint8 = 16
	SeverityFatal   uint8 = 20
)

// ReadErrorOrInfo parses an ERROR (0xAA) or INFO (0xAB) token body. The
// caller has already consumed the one-byte token type and knows which it
// was (isError); the wire layout is identical for both (MS-TDS 2.2.7.9).
func ReadErrorOrInfo(r *bufio.Reader, isError bool) (*ErrorMsg, error) {
	// token length (uint16), consumed by caller via LimitedReader framing
	// in practice; here we read it so callers can pass the raw reader directly.
	if _, err := readUint16LE(r); err != nil {
		return nil, fmt.Errorf("tds: error token length: %w", err)
	}
	number, err := readUint32LE(r)
	if err != nil {
		return nil, fmt.Errorf("tds: error number: %w", err)
	}
	state, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("tds: error state: %w", err)
	}
	class, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("tds: error class: %w", err)
	}
	msg, err := readUSVarChar(r)
	if err != nil {
		return nil, fmt.Errorf("tds: error message: %w", err)
	}
	server, err := readBVarChar(r)
	if err != nil {
		return nil, fmt.Errorf("tds: error server name: %w", err)
	}
	proc, err := readBVarChar(r)
	if err != nil {
		return nil, fmt.Errorf("tds: error proc name: %w", err)
	}
	line, err := readUint32LE(r)
	if err != nil {
		return nil, fmt.Errorf("tds: error line number: %w", err)
	}

	return &ErrorMsg{
		IsError:    isError,
		Number:     int32(number),
		State:      state,
		Class:      class,
		Message:    msg,
		ServerName: server,
		ProcName:   proc,
		LineNumber: line,
	}, nil
}

// BuildDoneToken serializes a client-authored DONE token, used by the BCP
// writer to close out each flushed batch (spec §4.9 step 4: "status=
// DONE_COUNT, curcmd=INSERT, rowcount=rows_in_batch").
func BuildDoneToken(status uint16, curCmd uint16, rowCount uint64) []byte {
	buf := []byte{tokenDone}
	buf = appendUint16LE(buf, status)
	buf = appendUint16LE(buf, curCmd)
	return appendUint64LE(buf, rowCount)
}

// ReadDone parses a DONE/DONEPROC/DONEINPROC token body (MS-TDS 2.2.7.5/6/7).
// The caller has already consumed the one-byte token type.
func ReadDone(r *bufio.Reader) (DoneStatus, error) {
	status, err := readUint16LE(r)
	if err != nil {
		return DoneStatus{}, fmt.Errorf("tds: done status: %w", err)
	}
	curCmd, err := readUint16LE(r)
	if err != nil {
		return DoneStatus{}, fmt.Errorf("tds: done curcmd: %w", err)
	}
	rowCount, err := readUint64LE(r)
	if err != nil {
		return DoneStatus{}, fmt.Errorf("tds: done rowcount: %w", err)
	}
	ds := parseDoneStatus(status, rowCount)
	ds.CurCmd = curCmd
	return ds, nil
}

// Kind classifies a client-visible error independent of the raw TDS wire
// error, matching the ERROR HANDLING DESIGN taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindProtocol
	KindAuth
	KindServer
	KindTimeout
	KindCancelled
	KindConnClosed
	KindPool
	KindInvariant
)

// Error is the module's concrete error type: it carries a Kind for
// programmatic branching and wraps whatever caused it.
type Error struct {
	Kind    Kind
	Message string
	Server  *ErrorMsg
	Err     error
}

func (e *Error) Error() string {
	if e.Server != nil {
		return e.Server.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewServerError wraps a decoded ERROR token as a KindServer *Error.
func NewServerError(msg *ErrorMsg) *Error {
	return &Error{Kind: KindServer, Message: "server error", Server: msg}
}

// NewProtocolError wraps a framing/decoding failure as a KindProtocol *Error.
func NewProtocolError(context string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: context, Err: err}
}

// NewInvariantError reports a client-side invariant violation (e.g. a
// second COLMETADATA within one result stream) as a KindInvariant *Error.
func NewInvariantError(message string) *Error {
	return &Error{Kind: KindInvariant, Message: message}
}
