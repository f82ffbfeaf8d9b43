// Package dml implements the INSERT/UPDATE/DELETE batchers described in
// SPEC_FULL §4.8: row accumulation up to a parameter-budget-derived batch
// size, one multi-VALUES SQL_BATCH per flush, and the T-SQL literal
// encoding the batches are built from. No pack library renders Go values
// as T-SQL literal text — go-mssqldb only works through database/sql
// placeholder parameters, which these batchers deliberately bypass — so
// literal.go is hand-rolled; see DESIGN.md.
package dml

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EncodeLiteral renders val as a T-SQL literal expression suitable for a
// VALUES(...) list, per spec §4.8 rule 4.
func EncodeLiteral(val any) (string, error) {
	switch v := val.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return encodeFloat(float64(v)), nil
	case float64:
		return encodeFloat(v), nil
	case decimal.Decimal:
		return v.String(), nil
	case string:
		return encodeStringLiteral(v), nil
	case []byte:
		return encodeBinaryLiteral(v), nil
	case civil.Date:
		return fmt.Sprintf("'%04d-%02d-%02d'", v.Year, v.Month, v.Day), nil
	case civil.Time:
		return fmt.Sprintf("'%02d:%02d:%02d.%07d'", v.Hour, v.Minute, v.Second, v.Nanosecond/100), nil
	case time.Time:
		return encodeTimeLiteral(v), nil
	case uuid.UUID:
		return fmt.Sprintf("'%s'", v.String()), nil
	default:
		return "", fmt.Errorf("dml: unsupported literal type %T", val)
	}
}

// encodeFloat handles SQL Server FLOAT's lack of a native NaN/Infinity
// literal (spec §4.8 rule 4: "special-case handling for NaN / ±Infinity").
// SQL Server rejects a bare NaN/Infinity token, so these are expressed as
// arithmetic that evaluates to the same IEEE-754 value.
func encodeFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "(0e0/0e0)"
	case math.IsInf(f, 1):
		return "(1e308*10e0)"
	case math.IsInf(f, -1):
		return "(-1e308*10e0)"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

// encodeStringLiteral applies the Unicode prefix and single-quote/backslash
// escaping spec §4.8 rule 4 requires.
func encodeStringLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return "N'" + s + "'"
}

func encodeBinaryLiteral(b []byte) string {
	var sb strings.Builder
	sb.WriteString("0x")
	const hexDigits = "0123456789ABCDEF"
	for _, c := range b {
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0F])
	}
	return sb.String()
}

// encodeTimeLiteral renders an unambiguous DATETIME2/DATETIMEOFFSET literal,
// including a UTC offset only when t carries a non-UTC zone.
func encodeTimeLiteral(t time.Time) string {
	_, offset := t.Zone()
	if offset == 0 {
		return fmt.Sprintf("'%s'", t.UTC().Format("2006-01-02T15:04:05.9999999"))
	}
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("'%s%s%02d:%02d'", t.Format("2006-01-02T15:04:05.9999999"), sign, offset/3600, (offset%3600)/60)
}
