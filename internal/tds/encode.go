package tds

import "encoding/binary"

// Small little-endian append helpers shared by the LOGIN7/COLMETADATA/
// ALL_HEADERS/BCP builders below.

func appendUint16LE(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32LE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// appendBVarChar appends a byte-length-prefixed UTF-16LE string (B_VARCHAR).
func appendBVarChar(buf []byte, s string) []byte {
	u16 := encodeUTF16LE(s)
	buf = append(buf, byte(len([]rune(s))))
	return append(buf, u16...)
}

// appendUSVarChar appends a ushort-length-prefixed UTF-16LE string (US_VARCHAR).
func appendUSVarChar(buf []byte, s string) []byte {
	u16 := encodeUTF16LE(s)
	buf = appendUint16LE(buf, uint16(len([]rune(s))))
	return append(buf, u16...)
}

// appendBVarByte appends a byte-length-prefixed opaque blob (B_VARBYTE).
func appendBVarByte(buf []byte, b []byte) []byte {
	buf = append(buf, byte(len(b)))
	return append(buf, b...)
}
