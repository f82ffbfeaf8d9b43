// Package resultstream implements the pull-based result stream state
// machine described in SPEC_FULL §4.5: Initializing, Streaming, Draining,
// Failed and Complete, layered over the token Decoder in internal/tds.
package resultstream

import (
	"errors"
	"io"

	"github.com/hugr-lab/go-mssql-core/internal/tds"
)

// State is one node of the result stream's lifecycle.
type State int

const (
	StateInitializing State = iota
	StateStreaming
	StateDraining
	StateComplete
	StateFailed
)

// EnvChangeFunc lets the stream report ENVCHANGE tokens (database switch,
// packet size resize, transaction descriptor updates) back to the owning
// Connection as they arrive, instead of buffering them.
type EnvChangeFunc func(*tds.EnvChange)

// Stream pulls rows out of one response message. A batch may contain
// several statements, but only one of them may produce a result set: a
// DDL/DML statement's DONE_MORE is skipped internally so the stream lands
// on the one SELECT's COLMETADATA; a second COLMETADATA (a second SELECT)
// violates that rule and fails the stream instead of silently re-binding
// to the new result set.
type Stream struct {
	dec            *tds.Decoder
	onEnv          EnvChangeFunc
	state          State
	columns        []tds.ColumnMeta
	sawColMetadata bool
	row            []any
	err            error
	rowCount       uint64
	infoMsgs       []*tds.ErrorMsg
}

// New creates a Stream reading tokens from dec.
func New(dec *tds.Decoder, onEnv EnvChangeFunc) *Stream {
	return &Stream{dec: dec, onEnv: onEnv, state: StateInitializing}
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() State { return s.state }

// Columns returns the most recently seen COLMETADATA, valid once Next has
// returned true at least once or the first COLMETADATA token has been
// consumed.
func (s *Stream) Columns() []tds.ColumnMeta { return s.columns }

// Row returns the row decoded by the most recent successful Next call.
func (s *Stream) Row() []any { return s.row }

// Err returns the error that ended the stream, if any (io.EOF is not
// surfaced here — a clean end of stream leaves Err nil).
func (s *Stream) Err() error { return s.err }

// RowsAffected returns the row count reported by the terminating DONE token
// of the current result set (meaningful for DML statements).
func (s *Stream) RowsAffected() uint64 { return s.rowCount }

// InfoMessages returns server INFO tokens (PRINT output, non-fatal notices)
// observed so far.
func (s *Stream) InfoMessages() []*tds.ErrorMsg { return s.infoMsgs }

// Next advances to the next row, returning false at the end of the current
// result set (check Err to distinguish a clean end from a failure) or when
// the whole stream has completed.
func (s *Stream) Next() bool {
	if s.state == StateComplete || s.state == StateFailed {
		return false
	}
	s.state = StateStreaming

	for {
		ev, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.state = StateComplete
				return false
			}
			s.err = err
			s.state = StateFailed
			return false
		}

		switch ev.Kind {
		case tds.EventColMetadata:
			if s.sawColMetadata {
				s.err = tds.NewInvariantError("batch produced more than one result set; split the statements into separate batches")
				s.state = StateDraining
				s.drainAfterInvariantViolation()
				return false
			}
			s.sawColMetadata = true
			s.columns = ev.ColMetadata.Columns
			continue

		case tds.EventRow:
			s.row = ev.Row
			return true

		case tds.EventEnvChange:
			if s.onEnv != nil {
				s.onEnv(ev.EnvChange)
			}
			continue

		case tds.EventInfo:
			s.infoMsgs = append(s.infoMsgs, ev.Error)
			continue

		case tds.EventError:
			s.err = tds.NewServerError(ev.Error)
			s.drainAfterInvariantViolation()
			return false

		case tds.EventDone, tds.EventDoneProc, tds.EventDoneInProc:
			if ev.Done.HasCount {
				s.rowCount = ev.Done.RowCount
			}
			if ev.Done.HasError {
				// DONE_ERROR without a preceding ERROR token is unusual but
				// not impossible; surface it generically.
				if s.err == nil {
					s.err = &tds.Error{Kind: tds.KindServer, Message: "batch completed with DONE_ERROR"}
				}
				s.state = StateFailed
				if ev.Done.More {
					s.drainAfterInvariantViolation()
				}
				return false
			}
			if ev.Done.More {
				// Non-final DONE from an intermediate DDL/DML statement
				// (spec: "skip it and keep waiting"); keep reading toward
				// the result set, or the batch's final DONE.
				continue
			}
			s.state = StateComplete
			return false

		case tds.EventLoginAck, tds.EventFeatureExtAck:
			// Not expected mid-stream; ignore defensively rather than fail.
			continue
		}
	}
}

// drainAfterInvariantViolation consumes and discards tokens through the
// message's final DONE (or EOF) once a second COLMETADATA or a server error
// has failed the stream, so the decoder is always left at a message boundary ("Drain to
// idle" on the Error state) no matter what the caller does next.
func (s *Stream) drainAfterInvariantViolation() {
	for {
		ev, err := s.dec.Next()
		if err != nil {
			s.state = StateFailed
			return
		}
		switch ev.Kind {
		case tds.EventDone, tds.EventDoneProc, tds.EventDoneInProc:
			if !ev.Done.More {
				s.state = StateFailed
				return
			}
		}
	}
}

// Drain reads and discards all remaining tokens, used when a caller
// abandons a Stream early (e.g. after Cancel) so the connection can return
// to Idle once the DONE_ATTN token has been consumed.
func (s *Stream) Drain() error {
	for s.Next() {
	}
	return s.err
}
