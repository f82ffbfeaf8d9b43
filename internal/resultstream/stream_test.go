package resultstream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/hugr-lab/go-mssql-core/internal/tds"
)

func testColumns() []tds.ColumnMeta {
	return []tds.ColumnMeta{
		{Flags: 0x0001, Type: &tds.TypeInfo{Type: tds.TypeIntN, Size: 4}, Name: "id"},
		{Flags: 0x0001, Type: &tds.TypeInfo{Type: tds.TypeBigVarChar, Size: 50}, Name: "name"},
	}
}

func buildMessage(t *testing.T, cols []tds.ColumnMeta, rows [][]any, doneStatus uint16, rowCount uint64) *tds.Decoder {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(tds.BuildColMetadata(cols))
	for _, row := range rows {
		rowBytes, err := tds.BuildRow(cols, row)
		if err != nil {
			t.Fatalf("BuildRow: %v", err)
		}
		buf.Write(rowBytes)
	}
	buf.Write(tds.BuildDoneToken(doneStatus, tds.CurCmdInsert, rowCount))
	return tds.NewDecoder(bufio.NewReader(&buf))
}

func TestStreamBasicIteration(t *testing.T) {
	cols := testColumns()
	rows := [][]any{{int64(1), "alice"}, {int64(2), "bob"}}
	dec := buildMessage(t, cols, rows, tds.DoneStatusCount, uint64(len(rows)))

	s := New(dec, nil)
	if s.State() != StateInitializing {
		t.Fatalf("got initial state %v, want StateInitializing", s.State())
	}

	var got [][]any
	for s.Next() {
		row := append([]any(nil), s.Row()...)
		got = append(got, row)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if s.State() != StateComplete {
		t.Errorf("got final state %v, want StateComplete", s.State())
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0][1] != "alice" || got[1][1] != "bob" {
		t.Errorf("got rows %+v", got)
	}
	if s.RowsAffected() != 2 {
		t.Errorf("got RowsAffected %d, want 2", s.RowsAffected())
	}
	if len(s.Columns()) != 2 {
		t.Errorf("got %d columns, want 2", len(s.Columns()))
	}
}

func TestStreamEnvChangeCallback(t *testing.T) {
	cols := testColumns()
	var buf bytes.Buffer
	buf.Write(tds.BuildColMetadata(cols))
	buf.Write(tds.BuildDoneToken(tds.DoneStatusCount, tds.CurCmdInsert, 0))
	dec := tds.NewDecoder(bufio.NewReader(&buf))

	var seen []*tds.EnvChange
	s := New(dec, func(ec *tds.EnvChange) { seen = append(seen, ec) })
	for s.Next() {
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	// No ENVCHANGE token was injected in this particular message; this
	// confirms the callback plumbing doesn't fire spuriously.
	if len(seen) != 0 {
		t.Errorf("got %d envchange callbacks, want 0", len(seen))
	}
}

func TestStreamEmptyResultSet(t *testing.T) {
	cols := testColumns()
	dec := buildMessage(t, cols, nil, tds.DoneStatusCount, 0)

	s := New(dec, nil)
	if s.Next() {
		t.Fatal("expected Next to return false for an empty result set")
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if s.State() != StateComplete {
		t.Errorf("got state %v, want StateComplete", s.State())
	}
}

// TestStreamSkipsIntermediateDoneMore exercises the DDL-then-SELECT shape
// (CREATE TABLE #t; INSERT INTO #t VALUES (1); SELECT * FROM #t): the DDL
// and INSERT each close with a non-final DONE_MORE and produce no
// COLMETADATA of their own, and Next must read through both of them to
// reach the SELECT's single result set rather than stopping dead at the
// first one.
func TestStreamSkipsIntermediateDoneMore(t *testing.T) {
	cols := testColumns()
	var buf bytes.Buffer
	// CREATE TABLE: DONE_MORE, no rows, no count.
	buf.Write(tds.BuildDoneToken(tds.DoneStatusMore, 0, 0))
	// INSERT INTO: DONE_MORE with a row count.
	buf.Write(tds.BuildDoneToken(tds.DoneStatusMore|tds.DoneStatusCount, 0, 1))
	// SELECT: COLMETADATA + one row + final DONE.
	buf.Write(tds.BuildColMetadata(cols))
	rowBytes, err := tds.BuildRow(cols, []any{int64(1), "x"})
	if err != nil {
		t.Fatalf("BuildRow: %v", err)
	}
	buf.Write(rowBytes)
	buf.Write(tds.BuildDoneToken(tds.DoneStatusCount, 0, 1))
	dec := tds.NewDecoder(bufio.NewReader(&buf))

	s := New(dec, nil)
	if !s.Next() {
		t.Fatalf("expected a row from the trailing SELECT, got none (err=%v)", s.Err())
	}
	if s.Row()[0] != int64(1) {
		t.Errorf("got row %+v, want [1 x]", s.Row())
	}
	if s.Next() {
		t.Fatal("expected exactly one row")
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if s.State() != StateComplete {
		t.Errorf("got state %v, want StateComplete", s.State())
	}
}

// TestStreamSecondColMetadataIsInvariantError exercises "SELECT 1; SELECT 2":
// the second COLMETADATA must fail the stream with KindInvariant rather
// than silently re-binding Columns to the new result set.
func TestStreamSecondColMetadataIsInvariantError(t *testing.T) {
	cols := testColumns()
	var buf bytes.Buffer
	buf.Write(tds.BuildColMetadata(cols))
	row1, err := tds.BuildRow(cols, []any{int64(1), "a"})
	if err != nil {
		t.Fatalf("BuildRow: %v", err)
	}
	buf.Write(row1)
	buf.Write(tds.BuildDoneToken(tds.DoneStatusMore|tds.DoneStatusCount, 0, 1))
	buf.Write(tds.BuildColMetadata(cols))
	row2, err := tds.BuildRow(cols, []any{int64(2), "b"})
	if err != nil {
		t.Fatalf("BuildRow: %v", err)
	}
	buf.Write(row2)
	buf.Write(tds.BuildDoneToken(tds.DoneStatusCount, 0, 1))
	dec := tds.NewDecoder(bufio.NewReader(&buf))

	s := New(dec, nil)
	if !s.Next() {
		t.Fatalf("expected the first SELECT's row, got none (err=%v)", s.Err())
	}
	if s.Row()[0] != int64(1) {
		t.Errorf("got row %+v, want [1 a]", s.Row())
	}
	if s.Next() {
		t.Fatal("expected the second COLMETADATA to fail the stream, not yield a row")
	}
	err = s.Err()
	if err == nil {
		t.Fatal("expected an error after a second COLMETADATA")
	}
	tdsErr, ok := err.(*tds.Error)
	if !ok || tdsErr.Kind != tds.KindInvariant {
		t.Errorf("got error %v (%T), want a *tds.Error with Kind=KindInvariant", err, err)
	}
	if s.State() != StateFailed {
		t.Errorf("got state %v, want StateFailed", s.State())
	}

	// The decoder must have been drained to the message boundary so a
	// caller releasing the connection doesn't leave stray tokens on the wire.
	if _, derr := dec.Next(); !errors.Is(derr, io.EOF) {
		t.Errorf("expected the decoder to be fully drained, got event/err: %v", derr)
	}
}

func TestStreamDrain(t *testing.T) {
	cols := testColumns()
	rows := [][]any{{int64(1), "alice"}, {int64(2), "bob"}, {int64(3), "carol"}}
	dec := buildMessage(t, cols, rows, tds.DoneStatusCount, uint64(len(rows)))

	s := New(dec, nil)
	if err := s.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if s.State() != StateComplete {
		t.Errorf("got state %v, want StateComplete", s.State())
	}
}
