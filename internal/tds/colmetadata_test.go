package tds

import (
	"bufio"
	"bytes"
	"testing"
)

func testColumns() []ColumnMeta {
	return []ColumnMeta{
		{UserType: 0, Flags: 0x0001, Type: &TypeInfo{Type: TypeIntN, Size: 4}, Name: "id"},
		{UserType: 0, Flags: 0x0001, Type: &TypeInfo{Type: TypeBigVarChar, Size: 100}, Name: "name"},
	}
}

func TestBuildColMetadataRoundtrip(t *testing.T) {
	cols := testColumns()
	buf := BuildColMetadata(cols)

	// Strip the leading token byte the way a caller consuming a real token
	// stream would before calling ReadColMetadata.
	r := bufio.NewReader(bytes.NewReader(buf[1:]))
	md, err := ReadColMetadata(r)
	if err != nil {
		t.Fatalf("ReadColMetadata: %v", err)
	}
	if len(md.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(md.Columns))
	}
	if md.Columns[0].Name != "id" || md.Columns[1].Name != "name" {
		t.Errorf("unexpected column names: %+v", md.Columns)
	}
	if !md.Columns[0].Nullable() {
		t.Error("expected id column to be marked nullable")
	}
}

func TestBuildRowRoundtrip(t *testing.T) {
	cols := testColumns()
	vals := []any{int64(7), "widget"}

	row, err := BuildRow(cols, vals)
	if err != nil {
		t.Fatalf("BuildRow: %v", err)
	}
	if row[0] != tokenRow {
		t.Fatalf("expected leading ROW token byte 0x%02X, got 0x%02X", tokenRow, row[0])
	}

	md := &ColMetadata{Columns: cols}
	got, err := ReadRow(bufio.NewReader(bytes.NewReader(row[1:])), md)
	if err != nil {
		t.Fatalf("ReadRow: %v", err)
	}
	if got[0] != int64(7) || got[1] != "widget" {
		t.Errorf("got %+v, want [7 widget]", got)
	}
}

func TestBuildRowColumnCountMismatch(t *testing.T) {
	cols := testColumns()
	if _, err := BuildRow(cols, []any{int64(1)}); err == nil {
		t.Error("expected error for mismatched column/value counts")
	}
}

func TestBuildDoneTokenRoundtrip(t *testing.T) {
	buf := BuildDoneToken(DoneStatusCount, CurCmdInsert, 250)
	if buf[0] != tokenDone {
		t.Fatalf("expected leading DONE token byte 0x%02X, got 0x%02X", tokenDone, buf[0])
	}
	ds, err := ReadDone(bufio.NewReader(bytes.NewReader(buf[1:])))
	if err != nil {
		t.Fatalf("ReadDone: %v", err)
	}
	if ds.RowCount != 250 {
		t.Errorf("got RowCount=%d, want 250", ds.RowCount)
	}
	if ds.CurCmd != CurCmdInsert {
		t.Errorf("got CurCmd=0x%04X, want 0x%04X", ds.CurCmd, CurCmdInsert)
	}
}
