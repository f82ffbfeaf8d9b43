package tds

// ALL_HEADERS (MS-TDS 2.2.5.3.1) precedes the payload of SQL_BATCH, RPC and
// BULK_LOAD requests that need to carry a transaction descriptor, which is
// how this client binds a request to a pinned pool connection's active
// transaction (SPEC_FULL §4.7).

const headerTypeTransDescriptor uint16 = 0x0002

// ZeroTransDescriptor is the 8-byte descriptor used outside a transaction
// (autocommit), per MS-TDS: all zero bytes, outstanding request count 1.
var ZeroTransDescriptor = [8]byte{}

// BuildAllHeaders wraps a transaction descriptor (captured from a prior
// ENVCHANGE, or ZeroTransDescriptor for autocommit) into an ALL_HEADERS
// block to prepend to a request payload.
func BuildAllHeaders(tranDescriptor [8]byte, outstandingRequests uint32) []byte {
	// header data = descriptor(8) + outstandingRequestCount(4)
	headerData := make([]byte, 0, 12)
	headerData = append(headerData, tranDescriptor[:]...)
	headerData = appendUint32LE(headerData, outstandingRequests)

	headerLen := uint32(4 + 2 + len(headerData)) // HeaderLength + HeaderType + data
	totalLen := uint32(4) + headerLen            // TotalLength field itself + the one header

	buf := make([]byte, 0, totalLen)
	buf = appendUint32LE(buf, totalLen)
	buf = appendUint32LE(buf, headerLen)
	buf = appendUint16LE(buf, headerTypeTransDescriptor)
	buf = append(buf, headerData...)
	return buf
}

// PrependAllHeaders returns payload prefixed with an ALL_HEADERS block for
// the given transaction descriptor.
func PrependAllHeaders(tranDescriptor [8]byte, payload []byte) []byte {
	hdr := BuildAllHeaders(tranDescriptor, 1)
	out := make([]byte, 0, len(hdr)+len(payload))
	out = append(out, hdr...)
	out = append(out, payload...)
	return out
}
