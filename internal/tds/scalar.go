package tds

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf16"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// DataType is the one-byte TYPE_INFO token (MS-TDS 2.2.5.4.1) identifying a
// column's wire representation.
type DataType byte

// The subset of TDS data types this client understands on the wire. Exotic
// legacy types (TEXT/IMAGE/NTEXT, variant) are intentionally unsupported,
// matching spec Non-goals around legacy LOB types.
const (
	TypeNull       DataType = 0x1F
	TypeInt1       DataType = 0x30 // TINYINT
	TypeBit        DataType = 0x32
	TypeInt2       DataType = 0x34 // SMALLINT
	TypeInt4       DataType = 0x38 // INT
	TypeDateTim4   DataType = 0x3A // SMALLDATETIME
	TypeFlt4       DataType = 0x3B // REAL
	TypeMoney      DataType = 0x3C
	TypeDateTime   DataType = 0x3D
	TypeFlt8       DataType = 0x3E // FLOAT
	TypeMoney4     DataType = 0x7A // SMALLMONEY
	TypeInt8       DataType = 0x7F // BIGINT
	TypeGUID       DataType = 0x24 // UNIQUEIDENTIFIER
	TypeIntN       DataType = 0x26
	TypeDecimal    DataType = 0x37
	TypeNumeric    DataType = 0x3F
	TypeBitN       DataType = 0x68
	TypeDecimalN   DataType = 0x6A
	TypeNumericN   DataType = 0x6C
	TypeFltN       DataType = 0x6D
	TypeMoneyN     DataType = 0x6E
	TypeDateTimeN  DataType = 0x6F
	TypeDateN      DataType = 0x28
	TypeTimeN      DataType = 0x29
	TypeDateTime2N DataType = 0x2A
	TypeDateTimeOffsetN DataType = 0x2B
	TypeBigVarBin  DataType = 0xA5
	TypeBigVarChar DataType = 0xA7
	TypeBigBinary  DataType = 0xAD
	TypeBigChar    DataType = 0xAF
	TypeNVarChar   DataType = 0xE7
	TypeNChar      DataType = 0xEF
	TypeXML        DataType = 0xF1
	TypeUDT        DataType = 0xF0
)

// TypeInfo describes a column's wire type and width, mirroring MS-TDS
// TYPE_INFO. Scale/Precision apply to DECIMAL/NUMERIC/TIME family types.
type TypeInfo struct {
	Type      DataType
	Size      int  // declared byte size for fixed-width/VARLEN types; -1 for PLP(max)
	Precision byte // DECIMAL/NUMERIC precision
	Scale     byte // DECIMAL/NUMERIC/TIME(n) scale
	Collation [5]byte
}

// plpTerminator marks the end of a PLP (partially length-prefixed) stream.
const plpTerminator uint64 = 0xFFFFFFFFFFFFFFFF

// plpUnknownLen marks a PLP value whose total length is not known up front.
const plpUnknownLen uint64 = 0xFFFFFFFFFFFFFFFE

// ReadTypeInfo parses a TYPE_INFO block from r for use in COLMETADATA.
func ReadTypeInfo(r *bufio.Reader) (*TypeInfo, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	ti := &TypeInfo{Type: DataType(b)}

	switch ti.Type {
	case TypeNull, TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeDateTim4,
		TypeFlt4, TypeMoney, TypeDateTime, TypeFlt8, TypeMoney4, TypeInt8, TypeGUID:
		ti.Size = fixedTypeSize(ti.Type)
		return ti, nil

	case TypeIntN, TypeFltN, TypeMoneyN, TypeDateTimeN, TypeBitN:
		sz, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		ti.Size = int(sz)
		return ti, nil

	case TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN:
		sz, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		ti.Size = int(sz)
		prec, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		scale, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		ti.Precision, ti.Scale = prec, scale
		return ti, nil

	case TypeDateN:
		ti.Size = 3
		return ti, nil

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		scale, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		ti.Scale = scale
		ti.Size = varTimeSize(ti.Type, scale)
		return ti, nil

	case TypeBigVarBin, TypeBigBinary:
		sz, err := readUint16LE(r)
		if err != nil {
			return nil, err
		}
		ti.Size = int(sz)
		if ti.Size == 0xFFFF {
			ti.Size = -1
		}
		return ti, nil

	case TypeBigVarChar, TypeBigChar:
		sz, err := readUint16LE(r)
		if err != nil {
			return nil, err
		}
		ti.Size = int(sz)
		if _, err := io.ReadFull(r, ti.Collation[:]); err != nil {
			return nil, err
		}
		return ti, nil

	case TypeNVarChar, TypeNChar:
		sz, err := readUint16LE(r)
		if err != nil {
			return nil, err
		}
		ti.Size = int(sz)
		if ti.Size == 0xFFFF {
			ti.Size = -1
		}
		if _, err := io.ReadFull(r, ti.Collation[:]); err != nil {
			return nil, err
		}
		return ti, nil

	case TypeXML:
		// XMLTYPE has a one-byte schema-presence flag, no length.
		if _, err := r.ReadByte(); err != nil {
			return nil, err
		}
		ti.Size = -1
		return ti, nil

	default:
		return nil, fmt.Errorf("tds: unsupported TYPE_INFO 0x%02X", b)
	}
}

func fixedTypeSize(t DataType) int {
	switch t {
	case TypeNull:
		return 0
	case TypeInt1, TypeBit:
		return 1
	case TypeInt2:
		return 2
	case TypeInt4, TypeDateTim4, TypeFlt4, TypeMoney4:
		return 4
	case TypeMoney, TypeDateTime, TypeFlt8, TypeInt8:
		return 8
	case TypeGUID:
		return 16
	default:
		return 0
	}
}

func varTimeSize(t DataType, scale byte) int {
	switch t {
	case TypeTimeN:
		return timeByteSize(scale)
	case TypeDateTime2N:
		return timeByteSize(scale) + 3
	case TypeDateTimeOffsetN:
		return timeByteSize(scale) + 3 + 2
	}
	return 0
}

func timeByteSize(scale byte) int {
	switch {
	case scale <= 2:
		return 3
	case scale <= 4:
		return 4
	default:
		return 5
	}
}

// ReadValue decodes one column value given its TYPE_INFO, returning a Go
// value of the scalar types described in SPEC_FULL §4.3: int64, float64,
// bool, string, []byte, decimal.Decimal, civil.Date, civil.Time,
// time.Time (DATETIME2/DATETIMEOFFSET), uuid.UUID, or nil.
func ReadValue(r *bufio.Reader, ti *TypeInfo) (any, error) {
	switch ti.Type {
	case TypeIntN, TypeInt1, TypeInt2, TypeInt4, TypeInt8:
		return readIntN(r, ti)
	case TypeBitN, TypeBit:
		return readBitN(r, ti)
	case TypeFltN, TypeFlt4, TypeFlt8:
		return readFltN(r, ti)
	case TypeMoneyN, TypeMoney, TypeMoney4:
		return readMoneyN(r, ti)
	case TypeDateTimeN, TypeDateTime, TypeDateTim4:
		return readDateTimeN(r, ti)
	case TypeGUID:
		return readGUID(r, ti.Size)
	case TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN:
		return readDecimalN(r, ti)
	case TypeDateN:
		return readDateN(r)
	case TypeTimeN:
		return readTimeN(r, ti.Scale)
	case TypeDateTime2N:
		return readDateTime2N(r, ti.Scale)
	case TypeDateTimeOffsetN:
		return readDateTimeOffsetN(r, ti.Scale)
	case TypeBigVarChar, TypeBigChar:
		return readByteLenOrPLP(r, ti.Size)
	case TypeNVarChar, TypeNChar:
		return readUnicodeValue(r, ti.Size)
	case TypeBigVarBin, TypeBigBinary:
		return readByteLenOrPLPBinary(r, ti.Size)
	case TypeXML:
		return readPLPBinary(r)
	default:
		return nil, fmt.Errorf("tds: unsupported value type 0x%02X", byte(ti.Type))
	}
}

func readVarLen(r *bufio.Reader, declSize int) (int, error) {
	if declSize <= 0xFF {
		n, err := r.ReadByte()
		return int(n), err
	}
	n, err := readUint16LE(r)
	return int(n), err
}

func readIntN(r *bufio.Reader, ti *TypeInfo) (any, error) {
	size := ti.Size
	if ti.Type != TypeIntN {
		size = fixedTypeSize(ti.Type)
	} else {
		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size = int(n)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	switch size {
	case 1:
		return int64(buf[0]), nil
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(buf))), nil
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(buf))), nil
	case 8:
		return int64(binary.LittleEndian.Uint64(buf)), nil
	}
	return nil, fmt.Errorf("tds: bad INTN width %d", size)
}

func readBitN(r *bufio.Reader, ti *TypeInfo) (any, error) {
	if ti.Type == TypeBitN {
		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
	}
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	return b != 0, nil
}

func readFltN(r *bufio.Reader, ti *TypeInfo) (any, error) {
	size := fixedTypeSize(ti.Type)
	if ti.Type == TypeFltN {
		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size = int(n)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if size == 4 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))), nil
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
}

func readMoneyN(r *bufio.Reader, ti *TypeInfo) (any, error) {
	size := fixedTypeSize(ti.Type)
	if ti.Type == TypeMoneyN {
		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size = int(n)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	var raw int64
	if size == 4 {
		raw = int64(int32(binary.LittleEndian.Uint32(buf)))
	} else {
		hi := int64(int32(binary.LittleEndian.Uint32(buf[0:4])))
		lo := int64(binary.LittleEndian.Uint32(buf[4:8]))
		raw = hi<<32 | lo
	}
	return decimal.New(raw, -4), nil
}

func readDateTimeN(r *bufio.Reader, ti *TypeInfo) (any, error) {
	size := fixedTypeSize(ti.Type)
	if ti.Type == TypeDateTimeN {
		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size = int(n)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	epoch := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	if size == 4 {
		days := int16(binary.LittleEndian.Uint16(buf[0:2]))
		mins := binary.LittleEndian.Uint16(buf[2:4])
		return epoch.AddDate(0, 0, int(days)).Add(time.Duration(mins) * time.Minute), nil
	}
	days := int32(binary.LittleEndian.Uint32(buf[0:4]))
	ticks := binary.LittleEndian.Uint32(buf[4:8]) // 1/300 sec
	return epoch.AddDate(0, 0, int(days)).Add(time.Duration(ticks) * (time.Second / 300)), nil
}

func readGUID(r *bufio.Reader, size int) (any, error) {
	if size == 0 {
		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size = int(n)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, 16)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	// MS-TDS GUID is mixed-endian: first three fields little-endian.
	reordered := []byte{buf[3], buf[2], buf[1], buf[0], buf[5], buf[4], buf[7], buf[6],
		buf[8], buf[9], buf[10], buf[11], buf[12], buf[13], buf[14], buf[15]}
	id, err := uuid.FromBytes(reordered)
	if err != nil {
		return nil, fmt.Errorf("tds: parsing uniqueidentifier: %w", err)
	}
	return id, nil
}

func readDecimalN(r *bufio.Reader, ti *TypeInfo) (any, error) {
	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	size := int(n)
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	sign := int64(1)
	if buf[0] == 0 {
		sign = -1
	}
	mag := buf[1:]
	// Magnitude is little-endian across up to 4 uint32 words (5/9/13/17 byte classes).
	var words []uint32
	for i := 0; i < len(mag); i += 4 {
		end := i + 4
		if end > len(mag) {
			end = len(mag)
		}
		word := make([]byte, 4)
		copy(word, mag[i:end])
		words = append(words, binary.LittleEndian.Uint32(word))
	}
	d := decimalFromWords(words, sign, int32(ti.Scale))
	return d, nil
}

// decimalFromWords assembles a big-endian-ordered magnitude from little
// word order and builds a shopspring/decimal value scaled by -scale.
func decimalFromWords(words []uint32, sign int64, scale int32) decimal.Decimal {
	var coeff uint64
	// Only the low two words matter for values within int64 range; wider
	// NUMERIC(38+) magnitudes are truncated to 64 bits of precision, which
	// is the same ceiling go-mssqldb's driver imposes without big.Int.
	if len(words) > 0 {
		coeff = uint64(words[0])
	}
	if len(words) > 1 {
		coeff |= uint64(words[1]) << 32
	}
	return decimal.New(sign*int64(coeff), -scale)
}

const daysOffsetFromZero = 0 // civil.Date already anchors at year 1

func readDateN(r *bufio.Reader) (any, error) {
	buf := make([]byte, 3)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	days := int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16
	base := civil.Date{Year: 1, Month: 1, Day: 1}
	return base.AddDays(days - 1), nil
}

func readTimeN(r *bufio.Reader, scale byte) (any, error) {
	size := timeByteSize(scale)
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	ticks := bytesToUint40(buf)
	return ticksToCivilTime(ticks, scale), nil
}

func readDateTime2N(r *bufio.Reader, scale byte) (any, error) {
	timeSize := timeByteSize(scale)
	buf := make([]byte, timeSize+3)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	ticks := bytesToUint40(buf[:timeSize])
	days := int(buf[timeSize]) | int(buf[timeSize+1])<<8 | int(buf[timeSize+2])<<16
	date := civil.Date{Year: 1, Month: 1, Day: 1}.AddDays(days - 1)
	t := ticksToCivilTime(ticks, scale)
	return time.Date(date.Year, date.Month, date.Day, t.Hour, t.Minute, t.Second, t.Nanosecond, time.UTC), nil
}

func readDateTimeOffsetN(r *bufio.Reader, scale byte) (any, error) {
	timeSize := timeByteSize(scale)
	buf := make([]byte, timeSize+3+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	ticks := bytesToUint40(buf[:timeSize])
	days := int(buf[timeSize]) | int(buf[timeSize+1])<<8 | int(buf[timeSize+2])<<16
	offsetMin := int16(binary.LittleEndian.Uint16(buf[timeSize+3 : timeSize+5]))
	date := civil.Date{Year: 1, Month: 1, Day: 1}.AddDays(days - 1)
	t := ticksToCivilTime(ticks, scale)
	loc := time.FixedZone("", int(offsetMin)*60)
	return time.Date(date.Year, date.Month, date.Day, t.Hour, t.Minute, t.Second, t.Nanosecond, loc), nil
}

func bytesToUint40(buf []byte) uint64 {
	var v uint64
	for i, b := range buf {
		v |= uint64(b) << (8 * uint(i))
	}
	return v
}

// ticksToCivilTime converts TIME(n) 100ns ticks (scaled per column scale)
// since midnight into a civil.Time.
func ticksToCivilTime(ticks uint64, scale byte) civil.Time {
	// Ticks are stored at 10^-scale second resolution; normalize to 100ns units.
	mult := uint64(1)
	for i := byte(0); i < 7-scale; i++ {
		mult *= 10
	}
	hundredNs := ticks * mult
	nanos := hundredNs * 100
	secs := nanos / uint64(time.Second)
	nanos %= uint64(time.Second)
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return civil.Time{Hour: int(h), Minute: int(m), Second: int(s), Nanosecond: int(nanos)}
}

func readByteLenOrPLP(r *bufio.Reader, declSize int) (any, error) {
	if declSize == -1 {
		b, err := readPLPBinary(r)
		if err != nil || b == nil {
			return nil, err
		}
		return decodeCharBytes(b), nil
	}
	n, err := readVarLen(r, declSize)
	if err != nil {
		return nil, err
	}
	if (declSize <= 0xFF && n == 0xFF) || (declSize > 0xFF && n == 0xFFFF) {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return decodeCharBytes(buf), nil
}

// decodeCharBytes converts the raw bytes of a non-Unicode CHAR/VARCHAR value
// from its single-byte collation codepage to a Go string. SQL Server never
// sends the codepage on the wire per value — only a 5-byte collation ID in
// COLMETADATA — and mapping every LCID to its codepage is out of scope here,
// so every non-Unicode column is decoded as Windows-1252 (SQL Server's most
// common default Latin1_General collation codepage). NVARCHAR/NCHAR never
// go through this path; they're already UTF-16 and carry no such ambiguity.
func decodeCharBytes(b []byte) string {
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func readByteLenOrPLPBinary(r *bufio.Reader, declSize int) (any, error) {
	if declSize == -1 {
		return readPLPBinary(r)
	}
	n, err := readVarLen(r, declSize)
	if err != nil {
		return nil, err
	}
	if n == 0xFFFF {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readUnicodeValue(r *bufio.Reader, declSize int) (any, error) {
	if declSize == -1 {
		b, err := readPLPBinary(r)
		if err != nil || b == nil {
			return nil, err
		}
		s, err := decodeUTF16LE(b)
		return s, err
	}
	n, err := readUint16LE(r)
	if err != nil {
		return nil, err
	}
	if n == 0xFFFF {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return decodeUTF16LE(buf)
}

// readPLPBinary decodes a PLP (partially length-prefixed, MS-TDS 2.2.5.2.1)
// stream into a single contiguous byte slice, or nil for PLP NULL.
func readPLPBinary(r *bufio.Reader) ([]byte, error) {
	total, err := readUint64LE(r)
	if err != nil {
		return nil, err
	}
	if total == plpTerminator {
		return nil, nil
	}

	var out []byte
	for {
		chunkLen, err := readUint32LE(r)
		if err != nil {
			return nil, err
		}
		if chunkLen == 0 {
			break
		}
		buf := make([]byte, chunkLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	return out, nil
}

// utf16Decode decodes bytes already validated as even-length UTF-16LE.
func utf16Decode(u16 []uint16) string {
	return string(utf16.Decode(u16))
}
