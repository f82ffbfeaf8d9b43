package tds

import "bufio"

// FEATUREEXTACK (MS-TDS 2.2.7.11) sub-feature identifiers the client
// understands in a LOGINACK-adjacent token stream.
const featureIDFedAuth byte = 0x02
const featureIDTerminator byte = 0xFF

// ReadFeatureExtAck parses a FEATUREEXTACK token body (0xAE).
func ReadFeatureExtAck(r *bufio.Reader) (*FeatureExtAck, error) {
	ack := &FeatureExtAck{Raw: make(map[byte][]byte)}
	for {
		featureID, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if featureID == featureIDTerminator {
			break
		}
		length, err := readUint32LE(r)
		if err != nil {
			return nil, err
		}
		data := make([]byte, length)
		if _, err := readFull(r, data); err != nil {
			return nil, err
		}
		ack.Raw[featureID] = data
		if featureID == featureIDFedAuth {
			ack.FedAuthAck = data
		}
	}
	return ack, nil
}

// ReadLoginAck parses a LOGINACK token body (0xAD, MS-TDS 2.2.7.13).
func ReadLoginAck(r *bufio.Reader) (*LoginAck, error) {
	if _, err := readUint16LE(r); err != nil { // token length
		return nil, err
	}
	iface, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	tdsVersion, err := readUint32LE(r)
	if err != nil {
		return nil, err
	}
	progName, err := readBVarChar(r)
	if err != nil {
		return nil, err
	}
	var verBuf [4]byte
	if _, err := readFull(r, verBuf[:]); err != nil {
		return nil, err
	}
	progVer := uint32(verBuf[0])<<24 | uint32(verBuf[1])<<16 | uint32(verBuf[2])<<8 | uint32(verBuf[3])
	return &LoginAck{Interface: iface, TDSVersion: tdsVersion, ProgName: progName, ProgVer: progVer}, nil
}
