package tds

import (
	"bufio"
	"fmt"
	"io"
)

// EventKind discriminates the Event union Decoder.Next produces.
type EventKind int

const (
	EventColMetadata EventKind = iota
	EventRow
	EventDone
	EventDoneProc
	EventDoneInProc
	EventError
	EventInfo
	EventEnvChange
	EventLoginAck
	EventFeatureExtAck
)

// Event is one decoded token from a response stream. Only the field(s)
// matching Kind are populated.
type Event struct {
	Kind          EventKind
	ColMetadata   *ColMetadata
	Row           []any
	Done          DoneStatus
	Error         *ErrorMsg
	EnvChange     *EnvChange
	LoginAck      *LoginAck
	FeatureExtAck *FeatureExtAck
}

// Decoder decodes a server response token stream (MS-TDS 2.2.7) one token
// at a time, pulling bytes lazily from r. It tracks the most recent
// COLMETADATA so ROW/NBCROW tokens can be decoded against it, and silently
// skips token types the client has no use for (ORDER, RETURNSTATUS,
// RETURNVALUE, SSPI, FEDAUTHINFO) rather than surfacing them as events.
type Decoder struct {
	r  *bufio.Reader
	md *ColMetadata
}

// NewDecoder wraps r (typically bufio.NewReader(NewMessageReader(socket)))
// for token-by-token decoding of one response message.
func NewDecoder(r *bufio.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next decodes and returns the next event, or io.EOF when the message ends.
func (d *Decoder) Next() (*Event, error) {
	for {
		tokType, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("tds: reading token type: %w", err)
		}

		switch tokType {
		case tokenColMetadata:
			md, err := ReadColMetadata(d.r)
			if err != nil {
				return nil, err
			}
			d.md = md
			return &Event{Kind: EventColMetadata, ColMetadata: md}, nil

		case tokenRow:
			if d.md == nil {
				return nil, fmt.Errorf("tds: ROW token before COLMETADATA")
			}
			row, err := ReadRow(d.r, d.md)
			if err != nil {
				return nil, err
			}
			return &Event{Kind: EventRow, Row: row}, nil

		case tokenNbcRow:
			if d.md == nil {
				return nil, fmt.Errorf("tds: NBCROW token before COLMETADATA")
			}
			row, err := ReadNbcRow(d.r, d.md)
			if err != nil {
				return nil, err
			}
			return &Event{Kind: EventRow, Row: row}, nil

		case tokenDone, tokenDoneProc, tokenDoneInProc:
			ds, err := ReadDone(d.r)
			if err != nil {
				return nil, err
			}
			kind := EventDone
			if tokType == tokenDoneProc {
				kind = EventDoneProc
			} else if tokType == tokenDoneInProc {
				kind = EventDoneInProc
			}
			return &Event{Kind: kind, Done: ds}, nil

		case tokenError:
			em, err := ReadErrorOrInfo(d.r, true)
			if err != nil {
				return nil, err
			}
			return &Event{Kind: EventError, Error: em}, nil

		case tokenInfo:
			em, err := ReadErrorOrInfo(d.r, false)
			if err != nil {
				return nil, err
			}
			return &Event{Kind: EventInfo, Error: em}, nil

		case tokenEnvChange:
			length, err := readUint16LE(d.r)
			if err != nil {
				return nil, err
			}
			body := make([]byte, length)
			if _, err := io.ReadFull(d.r, body); err != nil {
				return nil, err
			}
			ec, err := readEnvChange(body)
			if err != nil {
				return nil, err
			}
			return &Event{Kind: EventEnvChange, EnvChange: ec}, nil

		case tokenLoginAck:
			la, err := ReadLoginAck(d.r)
			if err != nil {
				return nil, err
			}
			return &Event{Kind: EventLoginAck, LoginAck: la}, nil

		case tokenFeatureExtAck:
			fa, err := ReadFeatureExtAck(d.r)
			if err != nil {
				return nil, err
			}
			return &Event{Kind: EventFeatureExtAck, FeatureExtAck: fa}, nil

		case tokenOrder:
			if err := skipOrder(d.r); err != nil {
				return nil, err
			}
			continue

		case tokenReturnStatus:
			if _, err := readUint32LE(d.r); err != nil {
				return nil, err
			}
			continue

		case tokenReturnValue, tokenSSPI, tokenFedAuthInfo:
			if err := skipUSVarByteToken(d.r); err != nil {
				return nil, err
			}
			continue

		default:
			return nil, fmt.Errorf("tds: unrecognized token type 0x%02X", tokType)
		}
	}
}

func skipOrder(r *bufio.Reader) error {
	length, err := readUint16LE(r)
	if err != nil {
		return err
	}
	_, err = io.CopyN(io.Discard, r, int64(length))
	return err
}

// skipUSVarByteToken skips a token whose body is a single US_VARBYTE
// (2-byte length prefix + opaque bytes) — good enough for token types this
// client doesn't act on (RETURNVALUE is only relevant to RPC calls, which
// are out of scope; SSPI/FEDAUTHINFO belong to auth modes this client
// doesn't negotiate on the token-stream side).
func skipUSVarByteToken(r *bufio.Reader) error {
	length, err := readUint16LE(r)
	if err != nil {
		return err
	}
	_, err = io.CopyN(io.Discard, r, int64(length))
	return err
}
