// Package bcp implements the BCP (bulk copy) writer: the BULK_LOAD session
// that builds INSERT BULK, streams COLMETADATA/ROW/DONE tokens, and tracks
// confirmed row counts, described in spec §4.9. It sits beside
// internal/dml as the second consumer of the scalar encoders in
// internal/tds, the same way the teacher's internal/proxy and
// internal/coordinator both sit on top of internal/pool.
package bcp

import (
	"fmt"

	"github.com/hugr-lab/go-mssql-core/internal/tds"
)

// Column describes one target-table column for a bulk load: its wire type
// and whether the server should accept NULL.
type Column struct {
	Name     string
	Type     *tds.TypeInfo
	Nullable bool
}

// Target names the destination table and its column shape, in the order
// rows must supply values.
type Target struct {
	Schema  string
	Table   string
	Columns []Column
}

func (t Target) qualifiedName() string {
	if t.Schema == "" {
		return fmt.Sprintf("[%s]", t.Table)
	}
	return fmt.Sprintf("[%s].[%s]", t.Schema, t.Table)
}

// colMetadata renders the Target's columns as the COLMETADATA column
// descriptors used both to build INSERT BULK's column list and to emit the
// wire COLMETADATA token at the top of every batch.
func (t Target) colMetadata() []tds.ColumnMeta {
	cols := make([]tds.ColumnMeta, len(t.Columns))
	for i, c := range t.Columns {
		var flags uint16
		if c.Nullable {
			flags |= 0x0001
		}
		cols[i] = tds.ColumnMeta{Type: c.Type, Name: c.Name, Flags: flags}
	}
	return cols
}

// sqlTypeName renders ti as the T-SQL type syntax INSERT BULK's column
// list expects (e.g. "varchar(100)", "decimal(18,4)", "datetime2(7)").
// Grounded on MS-TDS 2.2.5.4.1's TYPE_INFO token layout, the same table
// encode_scalar.go's AppendValue dispatches on.
func sqlTypeName(ti *tds.TypeInfo) (string, error) {
	switch ti.Type {
	case tds.TypeIntN, tds.TypeInt1, tds.TypeInt2, tds.TypeInt4, tds.TypeInt8:
		switch ti.Size {
		case 1:
			return "tinyint", nil
		case 2:
			return "smallint", nil
		case 4:
			return "int", nil
		case 8:
			return "bigint", nil
		}
	case tds.TypeBitN, tds.TypeBit:
		return "bit", nil
	case tds.TypeFltN, tds.TypeFlt4, tds.TypeFlt8:
		if ti.Size == 4 {
			return "real", nil
		}
		return "float", nil
	case tds.TypeMoneyN, tds.TypeMoney, tds.TypeMoney4:
		if ti.Size == 4 {
			return "smallmoney", nil
		}
		return "money", nil
	case tds.TypeDateTimeN, tds.TypeDateTime, tds.TypeDateTim4:
		if ti.Size == 4 {
			return "smalldatetime", nil
		}
		return "datetime", nil
	case tds.TypeGUID:
		return "uniqueidentifier", nil
	case tds.TypeDecimal, tds.TypeNumeric, tds.TypeDecimalN, tds.TypeNumericN:
		return fmt.Sprintf("decimal(%d,%d)", ti.Precision, ti.Scale), nil
	case tds.TypeDateN:
		return "date", nil
	case tds.TypeTimeN:
		return fmt.Sprintf("time(%d)", ti.Scale), nil
	case tds.TypeDateTime2N:
		return fmt.Sprintf("datetime2(%d)", ti.Scale), nil
	case tds.TypeDateTimeOffsetN:
		return fmt.Sprintf("datetimeoffset(%d)", ti.Scale), nil
	case tds.TypeBigVarChar:
		if ti.Size < 0 {
			return "varchar(max)", nil
		}
		return fmt.Sprintf("varchar(%d)", ti.Size), nil
	case tds.TypeBigChar:
		return fmt.Sprintf("char(%d)", ti.Size), nil
	case tds.TypeNVarChar:
		if ti.Size < 0 {
			return "nvarchar(max)", nil
		}
		return fmt.Sprintf("nvarchar(%d)", ti.Size/2), nil
	case tds.TypeNChar:
		return fmt.Sprintf("nchar(%d)", ti.Size/2), nil
	case tds.TypeBigVarBin:
		if ti.Size < 0 {
			return "varbinary(max)", nil
		}
		return fmt.Sprintf("varbinary(%d)", ti.Size), nil
	case tds.TypeBigBinary:
		return fmt.Sprintf("binary(%d)", ti.Size), nil
	case tds.TypeXML:
		return "xml", nil
	}
	return "", fmt.Errorf("bcp: no T-SQL type name for wire type 0x%02X", byte(ti.Type))
}

// buildInsertBulk renders "INSERT BULK [schema].[table] (col type, …)
// [WITH (TABLOCK[, ROWS_PER_BATCH = N])]" (spec §4.9 step 1).
func (t Target) buildInsertBulk(opts Options) (string, error) {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		typeName, err := sqlTypeName(c.Type)
		if err != nil {
			return "", fmt.Errorf("bcp: column %q: %w", c.Name, err)
		}
		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}
		cols[i] = fmt.Sprintf("[%s] %s %s", c.Name, typeName, null)
	}

	sql := fmt.Sprintf("INSERT BULK %s (%s)", t.qualifiedName(), joinComma(cols))

	var with []string
	if opts.TABLock {
		with = append(with, "TABLOCK")
	}
	if opts.FlushRows > 0 {
		with = append(with, fmt.Sprintf("ROWS_PER_BATCH = %d", opts.FlushRows))
	}
	if len(with) > 0 {
		sql += fmt.Sprintf(" WITH (%s)", joinComma(with))
	}
	return sql, nil
}

func joinComma(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
