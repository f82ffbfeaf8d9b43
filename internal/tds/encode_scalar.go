package tds

import (
	"fmt"
	"math"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// AppendValue serializes val as a ROW-token column value matching ti,
// appending it to buf and returning the extended slice. This is the BCP
// writer's value encoder, reached through BuildRow; the DML batchers render
// T-SQL literal text instead and do not use it (spec §4.9 step 3,
// §4.8 rule 4's binary counterpart for BulkRow); nil always encodes as
// this type's null representation.
func AppendValue(buf []byte, ti *TypeInfo, val any) ([]byte, error) {
	switch ti.Type {
	case TypeIntN, TypeInt1, TypeInt2, TypeInt4, TypeInt8:
		return appendIntN(buf, ti, val)
	case TypeBitN, TypeBit:
		return appendBitN(buf, ti, val)
	case TypeFltN, TypeFlt4, TypeFlt8:
		return appendFltN(buf, ti, val)
	case TypeMoneyN, TypeMoney, TypeMoney4:
		return appendMoneyN(buf, ti, val)
	case TypeDateTimeN, TypeDateTime, TypeDateTim4:
		return appendDateTimeN(buf, ti, val)
	case TypeGUID:
		return appendGUID(buf, val)
	case TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN:
		return appendDecimalN(buf, ti, val)
	case TypeDateN:
		return appendDateN(buf, val)
	case TypeTimeN:
		return appendTimeN(buf, ti.Scale, val)
	case TypeDateTime2N:
		return appendDateTime2N(buf, ti.Scale, val)
	case TypeDateTimeOffsetN:
		return appendDateTimeOffsetN(buf, ti.Scale, val)
	case TypeBigVarChar, TypeBigChar:
		return appendByteLenOrPLPString(buf, ti.Size, val)
	case TypeNVarChar, TypeNChar:
		return appendUnicodeValue(buf, ti.Size, val)
	case TypeBigVarBin, TypeBigBinary:
		return appendByteLenOrPLPBinary(buf, ti.Size, val)
	case TypeXML:
		return appendPLPBinary(buf, valueToBytes(val))
	default:
		return nil, fmt.Errorf("tds: unsupported value type 0x%02X for encode", byte(ti.Type))
	}
}

func asInt64(val any) (int64, bool) {
	switch v := val.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	}
	return 0, false
}

func appendIntN(buf []byte, ti *TypeInfo, val any) ([]byte, error) {
	size := ti.Size
	if ti.Type != TypeIntN {
		size = fixedTypeSize(ti.Type)
	}
	if val == nil {
		if ti.Type == TypeIntN {
			return append(buf, 0), nil
		}
		return nil, fmt.Errorf("tds: fixed INT column cannot be NULL")
	}
	n, ok := asInt64(val)
	if !ok {
		return nil, fmt.Errorf("tds: expected integer value, got %T", val)
	}
	if ti.Type == TypeIntN {
		buf = append(buf, byte(size))
	}
	switch size {
	case 1:
		return append(buf, byte(n)), nil
	case 2:
		return appendUint16LE(buf, uint16(int16(n))), nil
	case 4:
		return appendUint32LE(buf, uint32(int32(n))), nil
	case 8:
		return appendUint64LE(buf, uint64(n)), nil
	}
	return nil, fmt.Errorf("tds: bad INTN width %d", size)
}

func appendBitN(buf []byte, ti *TypeInfo, val any) ([]byte, error) {
	if val == nil {
		if ti.Type == TypeBitN {
			return append(buf, 0), nil
		}
		return nil, fmt.Errorf("tds: fixed BIT column cannot be NULL")
	}
	b, ok := val.(bool)
	if !ok {
		return nil, fmt.Errorf("tds: expected bool value, got %T", val)
	}
	if ti.Type == TypeBitN {
		buf = append(buf, 1)
	}
	if b {
		return append(buf, 1), nil
	}
	return append(buf, 0), nil
}

func appendFltN(buf []byte, ti *TypeInfo, val any) ([]byte, error) {
	size := fixedTypeSize(ti.Type)
	if ti.Type == TypeFltN {
		size = ti.Size
	}
	if val == nil {
		if ti.Type == TypeFltN {
			return append(buf, 0), nil
		}
		return nil, fmt.Errorf("tds: fixed FLOAT column cannot be NULL")
	}
	f, ok := val.(float64)
	if !ok {
		return nil, fmt.Errorf("tds: expected float64 value, got %T", val)
	}
	if ti.Type == TypeFltN {
		buf = append(buf, byte(size))
	}
	if size == 4 {
		return appendUint32LE(buf, math.Float32bits(float32(f))), nil
	}
	return appendUint64LE(buf, math.Float64bits(f)), nil
}

func appendMoneyN(buf []byte, ti *TypeInfo, val any) ([]byte, error) {
	size := fixedTypeSize(ti.Type)
	if ti.Type == TypeMoneyN {
		size = ti.Size
	}
	if val == nil {
		if ti.Type == TypeMoneyN {
			return append(buf, 0), nil
		}
		return nil, fmt.Errorf("tds: fixed MONEY column cannot be NULL")
	}
	d, ok := val.(decimal.Decimal)
	if !ok {
		return nil, fmt.Errorf("tds: expected decimal.Decimal value, got %T", val)
	}
	raw := d.Shift(4).Round(0).IntPart()
	if ti.Type == TypeMoneyN {
		buf = append(buf, byte(size))
	}
	if size == 4 {
		return appendUint32LE(buf, uint32(int32(raw))), nil
	}
	buf = appendUint32LE(buf, uint32(int32(raw>>32)))
	return appendUint32LE(buf, uint32(raw)), nil
}

func appendDateTimeN(buf []byte, ti *TypeInfo, val any) ([]byte, error) {
	size := fixedTypeSize(ti.Type)
	if ti.Type == TypeDateTimeN {
		size = ti.Size
	}
	if val == nil {
		if ti.Type == TypeDateTimeN {
			return append(buf, 0), nil
		}
		return nil, fmt.Errorf("tds: fixed DATETIME column cannot be NULL")
	}
	t, ok := val.(time.Time)
	if !ok {
		return nil, fmt.Errorf("tds: expected time.Time value, got %T", val)
	}
	epoch := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	ut := t.UTC()
	days := int(ut.Sub(epoch).Hours() / 24)
	if ti.Type == TypeDateTimeN {
		buf = append(buf, byte(size))
	}
	if size == 4 {
		mins := ut.Hour()*60 + ut.Minute()
		buf = appendUint16LE(buf, uint16(int16(days)))
		return appendUint16LE(buf, uint16(mins)), nil
	}
	secondsOfDay := ut.Hour()*3600 + ut.Minute()*60 + ut.Second()
	ticks := uint32(secondsOfDay)*300 + uint32(ut.Nanosecond())/(1000000000/300)
	buf = appendUint32LE(buf, uint32(int32(days)))
	return appendUint32LE(buf, ticks), nil
}

func appendGUID(buf []byte, val any) ([]byte, error) {
	if val == nil {
		return append(buf, 0), nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("tds: expected uuid.UUID value, got %T", val)
	}
	raw := id[:]
	mixed := []byte{raw[3], raw[2], raw[1], raw[0], raw[5], raw[4], raw[7], raw[6],
		raw[8], raw[9], raw[10], raw[11], raw[12], raw[13], raw[14], raw[15]}
	buf = append(buf, 16)
	return append(buf, mixed...), nil
}

// appendDecimalN re-derives the sign/magnitude-word representation MS-TDS
// expects from a shopspring/decimal value, at the byte width BuildColMetadata
// already picked (TypeInfo.Size) for this column's precision class.
func appendDecimalN(buf []byte, ti *TypeInfo, val any) ([]byte, error) {
	if val == nil {
		return append(buf, 0), nil
	}
	d, ok := val.(decimal.Decimal)
	if !ok {
		return nil, fmt.Errorf("tds: expected decimal.Decimal value, got %T", val)
	}
	scaled := d.Shift(int32(ti.Scale)).Round(0)
	coeff := scaled.IntPart()
	sign := byte(1)
	if coeff < 0 {
		sign = 0
		coeff = -coeff
	}
	magWords := (ti.Size - 1) / 4
	buf = append(buf, byte(ti.Size))
	buf = append(buf, sign)
	for i := 0; i < magWords; i++ {
		var word uint32
		if i == 0 {
			word = uint32(coeff)
		} else if i == 1 {
			word = uint32(coeff >> 32)
		}
		buf = appendUint32LE(buf, word)
	}
	return buf, nil
}

func appendDateN(buf []byte, val any) ([]byte, error) {
	if val == nil {
		return append(buf, 0), nil
	}
	d, ok := val.(civil.Date)
	if !ok {
		return nil, fmt.Errorf("tds: expected civil.Date value, got %T", val)
	}
	base := civil.Date{Year: 1, Month: 1, Day: 1}
	days := d.DaysSince(base) + 1
	buf = append(buf, 3)
	return append(buf, byte(days), byte(days>>8), byte(days>>16)), nil
}

// civilTimeToTicks is the inverse of ticksToCivilTime: it packs a time-of-day
// into 100ns ticks scaled down to the column's declared TIME(n) precision.
func civilTimeToTicks(t civil.Time, scale byte) uint64 {
	nanos := uint64(t.Hour)*3600e9 + uint64(t.Minute)*60e9 + uint64(t.Second)*1e9 + uint64(t.Nanosecond)
	hundredNs := nanos / 100
	div := uint64(1)
	for i := byte(0); i < 7-scale; i++ {
		div *= 10
	}
	return hundredNs / div
}

func appendTicks(buf []byte, ticks uint64, size int) []byte {
	for i := 0; i < size; i++ {
		buf = append(buf, byte(ticks>>(8*uint(i))))
	}
	return buf
}

func appendTimeN(buf []byte, scale byte, val any) ([]byte, error) {
	if val == nil {
		return append(buf, 0), nil
	}
	t, ok := val.(civil.Time)
	if !ok {
		return nil, fmt.Errorf("tds: expected civil.Time value, got %T", val)
	}
	size := timeByteSize(scale)
	buf = append(buf, byte(size))
	return appendTicks(buf, civilTimeToTicks(t, scale), size), nil
}

func appendDateTime2N(buf []byte, scale byte, val any) ([]byte, error) {
	if val == nil {
		return append(buf, 0), nil
	}
	t, ok := val.(time.Time)
	if !ok {
		return nil, fmt.Errorf("tds: expected time.Time value, got %T", val)
	}
	ut := t.UTC()
	timeSize := timeByteSize(scale)
	buf = append(buf, byte(timeSize+3))
	ct := civil.Time{Hour: ut.Hour(), Minute: ut.Minute(), Second: ut.Second(), Nanosecond: ut.Nanosecond()}
	buf = appendTicks(buf, civilTimeToTicks(ct, scale), timeSize)
	base := civil.Date{Year: 1, Month: 1, Day: 1}
	days := civil.DateOf(ut).DaysSince(base) + 1
	return append(buf, byte(days), byte(days>>8), byte(days>>16)), nil
}

func appendDateTimeOffsetN(buf []byte, scale byte, val any) ([]byte, error) {
	if val == nil {
		return append(buf, 0), nil
	}
	t, ok := val.(time.Time)
	if !ok {
		return nil, fmt.Errorf("tds: expected time.Time value, got %T", val)
	}
	_, offsetSec := t.Zone()
	utc := t.UTC()
	timeSize := timeByteSize(scale)
	buf = append(buf, byte(timeSize+5))
	ct := civil.Time{Hour: utc.Hour(), Minute: utc.Minute(), Second: utc.Second(), Nanosecond: utc.Nanosecond()}
	buf = appendTicks(buf, civilTimeToTicks(ct, scale), timeSize)
	base := civil.Date{Year: 1, Month: 1, Day: 1}
	days := civil.DateOf(utc).DaysSince(base) + 1
	buf = append(buf, byte(days), byte(days>>8), byte(days>>16))
	return appendUint16LE(buf, uint16(int16(offsetSec/60))), nil
}

func valueToBytes(val any) []byte {
	switch v := val.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

func appendByteLenOrPLPString(buf []byte, declSize int, val any) ([]byte, error) {
	if declSize == -1 {
		if val == nil {
			return appendPLPNull(buf), nil
		}
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("tds: expected string value, got %T", val)
		}
		encoded, err := encodeCharBytes(s)
		if err != nil {
			return nil, err
		}
		return appendPLPBinary(buf, encoded)
	}
	if val == nil {
		return appendByteLenNull(buf, declSize), nil
	}
	s, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("tds: expected string value, got %T", val)
	}
	encoded, err := encodeCharBytes(s)
	if err != nil {
		return nil, err
	}
	return appendByteLenPayload(buf, declSize, encoded), nil
}

// encodeCharBytes is the write-side counterpart of decodeCharBytes: it
// encodes a Go string to the Windows-1252 codepage CHAR/VARCHAR columns are
// assumed to carry (see decodeCharBytes for why no per-collation codepage
// table is consulted). Characters outside Windows-1252 have no valid
// encoding and are rejected rather than silently substituted.
func encodeCharBytes(s string) ([]byte, error) {
	b, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("tds: value %q cannot be represented in the column's codepage: %w", s, err)
	}
	return b, nil
}

func appendByteLenOrPLPBinary(buf []byte, declSize int, val any) ([]byte, error) {
	if declSize == -1 {
		if val == nil {
			return appendPLPNull(buf), nil
		}
		b, ok := val.([]byte)
		if !ok {
			return nil, fmt.Errorf("tds: expected []byte value, got %T", val)
		}
		return appendPLPBinary(buf, b)
	}
	if val == nil {
		return appendByteLenNull(buf, declSize), nil
	}
	b, ok := val.([]byte)
	if !ok {
		return nil, fmt.Errorf("tds: expected []byte value, got %T", val)
	}
	return appendByteLenPayload(buf, declSize, b), nil
}

func appendUnicodeValue(buf []byte, declSize int, val any) ([]byte, error) {
	if declSize == -1 {
		if val == nil {
			return appendPLPNull(buf), nil
		}
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("tds: expected string value, got %T", val)
		}
		return appendPLPBinary(buf, encodeUTF16LE(s))
	}
	if val == nil {
		return appendUint16LE(buf, 0xFFFF), nil
	}
	s, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("tds: expected string value, got %T", val)
	}
	u16 := encodeUTF16LE(s)
	buf = appendUint16LE(buf, uint16(len(u16)))
	return append(buf, u16...), nil
}

// appendByteLenNull/appendByteLenPayload implement the USHORTLEN VARLEN
// protocol (spec §4.9 step 3: "2-byte LE length; 0xFFFF denotes null").
func appendByteLenNull(buf []byte, declSize int) []byte {
	if declSize <= 0xFF {
		return append(buf, 0xFF)
	}
	return appendUint16LE(buf, 0xFFFF)
}

func appendByteLenPayload(buf []byte, declSize int, data []byte) []byte {
	if declSize <= 0xFF {
		buf = append(buf, byte(len(data)))
	} else {
		buf = appendUint16LE(buf, uint16(len(data)))
	}
	return append(buf, data...)
}

// appendPLPNull/appendPLPBinary implement the PLP protocol (MS-TDS
// 2.2.5.2.1): an unknown-length marker, one length-prefixed chunk, and a
// zero-length terminator chunk.
func appendPLPNull(buf []byte) []byte {
	return appendUint64LE(buf, plpTerminator)
}

func appendPLPBinary(buf []byte, data []byte) ([]byte, error) {
	buf = appendUint64LE(buf, plpUnknownLen)
	if len(data) > 0 {
		buf = appendUint32LE(buf, uint32(len(data)))
		buf = append(buf, data...)
	}
	return appendUint32LE(buf, 0), nil
}
