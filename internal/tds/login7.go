package tds

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// Login7Options carries the fields the client fills into a LOGIN7 packet
// (MS-TDS 2.2.6.4) to originate a session. Exactly one of Password or
// FedAuthToken should be set; FedAuthToken triggers a FEATUREEXT block
// instead of a SQL-auth password.
type Login7Options struct {
	HostName            string
	UserName            string
	Password             string
	AppName              string
	ServerName           string
	Database             string
	ClientInterfaceName  string
	ClientPID            uint32
	PacketSize           uint32
	ClientLCID           uint32
	FedAuthToken         []byte // UTF-16LE-independent opaque bearer token bytes
}

// clientTDSVersion is the TDS 7.4 version this client negotiates.
const clientTDSVersion uint32 = 0x74000004

// featureExtFedAuth is the FEATUREEXT sub-option id for federated
// authentication (MS-TDS 2.2.6.4, FedAuthLibrary "securitytoken").
const featureExtFedAuth byte = 0x02
const featureExtTerminator byte = 0xFF

// clientProgVer identifies this client library's self-reported driver version.
const clientProgVer uint32 = 0x07000000

// BuildLogin7 constructs a complete LOGIN7 payload (length-prefixed, ready
// to frame as PacketLogin7). Password is obfuscated per MS-TDS 2.2.6.4; when
// FedAuthToken is set a FEATUREEXT block carries the bearer token instead
// and Password is ignored.
func BuildLogin7(opt Login7Options) []byte {
	const fixedHeaderSize = 36
	const offsetTableSize = 58 // offsets 36..93, i.e. 58 bytes of ib/cch pairs + ClientID + SSPI fields
	const totalFixedSize = fixedHeaderSize + offsetTableSize

	hostName := encodeUTF16LE(opt.HostName)
	userName := encodeUTF16LE(opt.UserName)
	pwd := opt.Password
	if len(opt.FedAuthToken) > 0 {
		pwd = ""
	}
	password := obfuscatePassword(pwd)
	appName := encodeUTF16LE(opt.AppName)
	serverName := encodeUTF16LE(opt.ServerName)
	cltIntName := encodeUTF16LE(opt.ClientInterfaceName)
	database := encodeUTF16LE(opt.Database)

	var featureExt []byte
	if len(opt.FedAuthToken) > 0 {
		featureExt = buildFedAuthFeatureExt(opt.FedAuthToken)
	}

	dataOffset := totalFixedSize
	ibHostName := dataOffset
	dataOffset += len(hostName)
	ibUserName := dataOffset
	dataOffset += len(userName)
	ibPassword := dataOffset
	dataOffset += len(password)
	ibAppName := dataOffset
	dataOffset += len(appName)
	ibServerName := dataOffset
	dataOffset += len(serverName)
	ibExtension := dataOffset
	cbExtension := 0
	if featureExt != nil {
		cbExtension = 4 // placeholder: the 4-byte absolute-offset pointer the FEATUREEXT block itself begins with
		dataOffset += 4
	}
	ibCltIntName := dataOffset
	dataOffset += len(cltIntName)
	ibLanguage := dataOffset
	ibDatabase := dataOffset
	dataOffset += len(database)

	var featureExtBlockOffset int
	if featureExt != nil {
		featureExtBlockOffset = dataOffset
		dataOffset += len(featureExt)
	}

	totalLen := dataOffset

	buf := make([]byte, totalLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(totalLen))
	binary.LittleEndian.PutUint32(buf[4:8], clientTDSVersion)
	binary.LittleEndian.PutUint32(buf[8:12], orDefault(opt.PacketSize, DefaultPacketSize))
	binary.LittleEndian.PutUint32(buf[12:16], clientProgVer)
	binary.LittleEndian.PutUint32(buf[16:20], orDefault(opt.ClientPID, 0))
	binary.LittleEndian.PutUint32(buf[20:24], 0) // ConnectionID

	var optionFlags1, optionFlags2, typeFlags, optionFlags3 byte
	optionFlags1 = 0x00
	optionFlags2 = 0x03 // fUserType=SQL, fODBC=1 (use ODBC defaults for behavior)
	if featureExt != nil {
		optionFlags3 |= 0x10 // fExtension
	}
	buf[24] = optionFlags1
	buf[25] = optionFlags2
	buf[26] = typeFlags
	buf[27] = optionFlags3

	binary.LittleEndian.PutUint32(buf[28:32], 0)                 // ClientTimeZone
	binary.LittleEndian.PutUint32(buf[32:36], orDefault(opt.ClientLCID, 0x00000409))

	putOffsetLen := func(pos, offset, charLen int) {
		binary.LittleEndian.PutUint16(buf[pos:pos+2], uint16(offset))
		binary.LittleEndian.PutUint16(buf[pos+2:pos+4], uint16(charLen))
	}

	putOffsetLen(36, ibHostName, len([]rune(opt.HostName)))
	putOffsetLen(40, ibUserName, len([]rune(opt.UserName)))
	putOffsetLen(44, ibPassword, len([]rune(pwd)))
	putOffsetLen(48, ibAppName, len([]rune(opt.AppName)))
	putOffsetLen(52, ibServerName, len([]rune(opt.ServerName)))
	putOffsetLen(56, ibExtension, cbExtension)
	putOffsetLen(60, ibCltIntName, len([]rune(opt.ClientInterfaceName)))
	putOffsetLen(64, ibLanguage, 0)
	putOffsetLen(68, ibDatabase, len([]rune(opt.Database)))
	// ClientID (72..77): left zero, we have no MAC address to report.
	putOffsetLen(78, dataOffset, 0) // ibSSPI/cbSSPI: unused
	putOffsetLen(82, dataOffset, 0) // ibAtchDBFile
	putOffsetLen(86, dataOffset, 0) // ibChangePassword
	binary.LittleEndian.PutUint32(buf[90:94], 0)                  // cbSSPILong

	copy(buf[ibHostName:], hostName)
	copy(buf[ibUserName:], userName)
	copy(buf[ibPassword:], password)
	copy(buf[ibAppName:], appName)
	copy(buf[ibServerName:], serverName)
	if featureExt != nil {
		binary.LittleEndian.PutUint32(buf[ibExtension:ibExtension+4], uint32(featureExtBlockOffset))
	}
	copy(buf[ibCltIntName:], cltIntName)
	copy(buf[ibDatabase:], database)
	if featureExt != nil {
		copy(buf[featureExtBlockOffset:], featureExt)
	}

	return buf
}

func orDefault(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

// buildFedAuthFeatureExt wraps a bearer token in a FEATUREEXT block
// (MS-TDS 2.2.6.4, FedAuthToken sub-option) terminated by 0xFF.
func buildFedAuthFeatureExt(token []byte) []byte {
	// FeatureId(1) + FeatureDataLen(4) + [ FedAuthLibrary(1) | Options(1) | TokenLen(4) | Token ]
	inner := make([]byte, 0, 6+len(token))
	inner = append(inner, 0x02) // FedAuthLibrary = SECURITYTOKEN
	inner = append(inner, 0x01) // fFedAuthEcho = 1
	inner = appendUint32LE(inner, uint32(len(token)))
	inner = append(inner, token...)
	inner = appendUint32LE(inner, 0) // Nonce length 0

	block := make([]byte, 0, 6+len(inner)+1)
	block = append(block, featureExtFedAuth)
	block = appendUint32LE(block, uint32(len(inner)))
	block = append(block, inner...)
	block = append(block, featureExtTerminator)
	return block
}

// obfuscatePassword applies the MS-TDS 2.2.6.4 password obfuscation: each
// byte's nibbles are swapped, then XORed with 0xA5.
func obfuscatePassword(password string) []byte {
	raw := encodeUTF16LE(password)
	out := make([]byte, len(raw))
	for i, b := range raw {
		swapped := (b<<4)&0xF0 | (b>>4)&0x0F
		out[i] = swapped ^ 0xA5
	}
	return out
}

// decodeUTF16LE decodes a UTF-16 little-endian byte slice into a Go string.
func decodeUTF16LE(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("tds: UTF-16LE data has odd length %d", len(b))
	}
	u16 := make([]uint16, len(b)/2)
	for i := 0; i < len(u16); i++ {
		u16[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	return string(utf16.Decode(u16)), nil
}

// EncodeBatchText encodes SQL text as the UTF-16LE bytes a SQL_BATCH or
// BULK_LOAD request body starts with.
func EncodeBatchText(sql string) []byte {
	return encodeUTF16LE(sql)
}

// encodeUTF16LE encodes a Go string to UTF-16 little-endian bytes.
func encodeUTF16LE(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], v)
	}
	return b
}
