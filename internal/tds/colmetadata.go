package tds

import (
	"bufio"
	"fmt"
)

// ColumnMeta describes one column of a COLMETADATA token (MS-TDS 2.2.7.4).
type ColumnMeta struct {
	UserType uint32
	Flags    uint16
	Type     *TypeInfo
	Name     string
}

// Nullable reports whether the column's Flags mark it nullable.
func (c *ColumnMeta) Nullable() bool {
	return c.Flags&0x0001 != 0
}

// ColMetadata is the parsed COLMETADATA token: column count plus per-column
// type/name descriptors, in server-sent order.
type ColMetadata struct {
	Columns []ColumnMeta
}

// ReadColMetadata parses a COLMETADATA token body (the token byte 0x81 has
// already been consumed by the caller).
func ReadColMetadata(r *bufio.Reader) (*ColMetadata, error) {
	count, err := readUint16LE(r)
	if err != nil {
		return nil, fmt.Errorf("tds: colmetadata count: %w", err)
	}
	if count == 0xFFFF {
		// NOMETADATA sentinel (no result set column info, e.g. DML only).
		return &ColMetadata{}, nil
	}

	md := &ColMetadata{Columns: make([]ColumnMeta, 0, count)}
	for i := uint16(0); i < count; i++ {
		userType, err := readUint32LE(r)
		if err != nil {
			return nil, fmt.Errorf("tds: colmetadata[%d] usertype: %w", i, err)
		}
		flags, err := readUint16LE(r)
		if err != nil {
			return nil, fmt.Errorf("tds: colmetadata[%d] flags: %w", i, err)
		}
		ti, err := ReadTypeInfo(r)
		if err != nil {
			return nil, fmt.Errorf("tds: colmetadata[%d] type_info: %w", i, err)
		}
		name, err := readBVarChar(r)
		if err != nil {
			return nil, fmt.Errorf("tds: colmetadata[%d] name: %w", i, err)
		}
		md.Columns = append(md.Columns, ColumnMeta{UserType: userType, Flags: flags, Type: ti, Name: name})
	}
	return md, nil
}

// ReadRow decodes a ROW token body (0xD1) given prior COLMETADATA.
func ReadRow(r *bufio.Reader, md *ColMetadata) ([]any, error) {
	vals := make([]any, len(md.Columns))
	for i, col := range md.Columns {
		v, err := ReadValue(r, col.Type)
		if err != nil {
			return nil, fmt.Errorf("tds: row column %q: %w", col.Name, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// ReadNbcRow decodes an NBCROW token body (0xD2): a leading null-bitmap
// followed by non-NULL column values only (MS-TDS 2.2.7.17).
func ReadNbcRow(r *bufio.Reader, md *ColMetadata) ([]any, error) {
	nCols := len(md.Columns)
	bitmapLen := (nCols + 7) / 8
	bitmap := make([]byte, bitmapLen)
	if bitmapLen > 0 {
		if _, err := readFull(r, bitmap); err != nil {
			return nil, fmt.Errorf("tds: nbcrow bitmap: %w", err)
		}
	}

	vals := make([]any, nCols)
	for i, col := range md.Columns {
		isNull := bitmap[i/8]&(1<<uint(i%8)) != 0
		if isNull {
			vals[i] = nil
			continue
		}
		v, err := ReadValue(r, col.Type)
		if err != nil {
			return nil, fmt.Errorf("tds: nbcrow column %q: %w", col.Name, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// BuildColMetadata serializes a client-authored COLMETADATA token, used by
// the BCP writer to describe the target table's columns to INSERT BULK.
func BuildColMetadata(cols []ColumnMeta) []byte {
	buf := []byte{tokenColMetadata}
	buf = appendUint16LE(buf, uint16(len(cols)))
	for _, c := range cols {
		buf = appendUint32LE(buf, c.UserType)
		buf = appendUint16LE(buf, c.Flags)
		buf = appendTypeInfo(buf, c.Type)
		buf = appendBVarChar(buf, c.Name)
	}
	return buf
}

// BuildRow serializes a ROW token (0xD1) for one row given its column
// metadata and values, in column order, using AppendValue for every
// type-specific encoding (spec §4.9 step 3).
func BuildRow(cols []ColumnMeta, vals []any) ([]byte, error) {
	if len(vals) != len(cols) {
		return nil, fmt.Errorf("tds: row has %d values, expected %d columns", len(vals), len(cols))
	}
	buf := []byte{tokenRow}
	var err error
	for i, c := range cols {
		buf, err = AppendValue(buf, c.Type, vals[i])
		if err != nil {
			return nil, fmt.Errorf("tds: row column %q: %w", c.Name, err)
		}
	}
	return buf, nil
}

func appendTypeInfo(buf []byte, ti *TypeInfo) []byte {
	buf = append(buf, byte(ti.Type))
	switch ti.Type {
	case TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN:
		buf = append(buf, byte(ti.Size), ti.Precision, ti.Scale)
	case TypeIntN, TypeFltN, TypeMoneyN, TypeDateTimeN, TypeBitN:
		buf = append(buf, byte(ti.Size))
	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		buf = append(buf, ti.Scale)
	case TypeBigVarBin, TypeBigBinary:
		buf = appendUint16LE(buf, uint16(ti.Size))
	case TypeBigVarChar, TypeBigChar, TypeNVarChar, TypeNChar:
		buf = appendUint16LE(buf, uint16(ti.Size))
		buf = append(buf, ti.Collation[:]...)
	case TypeXML:
		buf = append(buf, 0)
	}
	return buf
}
