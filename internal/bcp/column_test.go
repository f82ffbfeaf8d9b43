package bcp

import (
	"strings"
	"testing"

	"github.com/hugr-lab/go-mssql-core/internal/tds"
)

func TestSqlTypeName(t *testing.T) {
	cases := []struct {
		name string
		ti   *tds.TypeInfo
		want string
	}{
		{"int", &tds.TypeInfo{Type: tds.TypeIntN, Size: 4}, "int"},
		{"bigint", &tds.TypeInfo{Type: tds.TypeIntN, Size: 8}, "bigint"},
		{"bit", &tds.TypeInfo{Type: tds.TypeBitN}, "bit"},
		{"decimal", &tds.TypeInfo{Type: tds.TypeDecimalN, Precision: 18, Scale: 4}, "decimal(18,4)"},
		{"varchar", &tds.TypeInfo{Type: tds.TypeBigVarChar, Size: 100}, "varchar(100)"},
		{"varchar max", &tds.TypeInfo{Type: tds.TypeBigVarChar, Size: -1}, "varchar(max)"},
		{"nvarchar", &tds.TypeInfo{Type: tds.TypeNVarChar, Size: 100}, "nvarchar(50)"},
		{"datetime2", &tds.TypeInfo{Type: tds.TypeDateTime2N, Scale: 7}, "datetime2(7)"},
		{"uniqueidentifier", &tds.TypeInfo{Type: tds.TypeGUID}, "uniqueidentifier"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sqlTypeName(tc.ti)
			if err != nil {
				t.Fatalf("sqlTypeName: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSqlTypeNameUnsupported(t *testing.T) {
	if _, err := sqlTypeName(&tds.TypeInfo{Type: tds.TypeUDT}); err == nil {
		t.Error("expected error for an unsupported wire type")
	}
}

func TestBuildInsertBulk(t *testing.T) {
	target := Target{
		Schema: "dbo",
		Table:  "events",
		Columns: []Column{
			{Name: "id", Type: &tds.TypeInfo{Type: tds.TypeIntN, Size: 4}, Nullable: false},
			{Name: "payload", Type: &tds.TypeInfo{Type: tds.TypeBigVarChar, Size: -1}, Nullable: true},
		},
	}

	sql, err := target.buildInsertBulk(Options{TABLock: true, FlushRows: 5000})
	if err != nil {
		t.Fatalf("buildInsertBulk: %v", err)
	}
	if !strings.HasPrefix(sql, "INSERT BULK [dbo].[events] (") {
		t.Errorf("unexpected prefix: %s", sql)
	}
	if !strings.Contains(sql, "[id] int NOT NULL") {
		t.Errorf("missing id column clause: %s", sql)
	}
	if !strings.Contains(sql, "[payload] varchar(max) NULL") {
		t.Errorf("missing payload column clause: %s", sql)
	}
	if !strings.Contains(sql, "WITH (TABLOCK, ROWS_PER_BATCH = 5000)") {
		t.Errorf("missing WITH clause: %s", sql)
	}
}

func TestBuildInsertBulkNoSchema(t *testing.T) {
	target := Target{
		Table:   "events",
		Columns: []Column{{Name: "id", Type: &tds.TypeInfo{Type: tds.TypeIntN, Size: 4}}},
	}
	sql, err := target.buildInsertBulk(Options{})
	if err != nil {
		t.Fatalf("buildInsertBulk: %v", err)
	}
	if !strings.HasPrefix(sql, "INSERT BULK [events] (") {
		t.Errorf("unexpected prefix for unqualified table: %s", sql)
	}
	if strings.Contains(sql, "WITH") {
		t.Errorf("expected no WITH clause when TABLock is false and FlushRows is 0: %s", sql)
	}
}
