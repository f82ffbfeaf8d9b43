package catalog

import (
	"testing"

	"github.com/hugr-lab/go-mssql-core/internal/tds"
)

func TestTargetDmlTable(t *testing.T) {
	target := Target{
		Schema: "dbo",
		Table:  "events",
		Columns: []Column{
			{Name: "id", IsPrimaryKey: true, Type: &tds.TypeInfo{Type: tds.TypeIntN, Size: 4}},
			{Name: "payload", Type: &tds.TypeInfo{Type: tds.TypeBigVarChar, Size: -1}},
		},
	}

	ref := target.dmlTable()
	if ref.Schema != "dbo" || ref.Table != "events" {
		t.Fatalf("got %+v, want schema=dbo table=events", ref)
	}
	if len(ref.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(ref.Columns))
	}
	if !ref.Columns[0].IsPrimaryKey {
		t.Error("expected id column to carry IsPrimaryKey through")
	}
	if ref.Columns[1].IsPrimaryKey {
		t.Error("expected payload column to not be a primary key")
	}
}

func TestTargetBcpTarget(t *testing.T) {
	target := Target{
		Schema: "dbo",
		Table:  "events",
		Columns: []Column{
			{Name: "id", Type: &tds.TypeInfo{Type: tds.TypeIntN, Size: 4}, Nullable: false},
			{Name: "payload", Type: &tds.TypeInfo{Type: tds.TypeBigVarChar, Size: -1}, Nullable: true},
		},
	}

	bt := target.bcpTarget()
	if bt.Schema != "dbo" || bt.Table != "events" {
		t.Fatalf("got %+v, want schema=dbo table=events", bt)
	}
	if len(bt.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(bt.Columns))
	}
	if bt.Columns[0].Nullable {
		t.Error("expected id column to not be nullable")
	}
	if !bt.Columns[1].Nullable {
		t.Error("expected payload column to be nullable")
	}
	if bt.Columns[0].Type.Type != tds.TypeIntN {
		t.Errorf("got wire type %v, want TypeIntN", bt.Columns[0].Type.Type)
	}
}

func TestEncryptByte(t *testing.T) {
	cases := map[string]byte{
		"on":       tds.EncryptOn,
		"required": tds.EncryptReq,
		"off":      tds.EncryptOff,
		"":         tds.EncryptOff,
		"bogus":    tds.EncryptOff,
	}
	for mode, want := range cases {
		if got := encryptByte(mode); got != want {
			t.Errorf("encryptByte(%q) = %v, want %v", mode, got, want)
		}
	}
}
