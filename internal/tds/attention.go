package tds

// BuildAttention builds an empty ATTENTION packet (MS-TDS 2.2.1.6): a single
// zero-length PacketAttention message, used by Connection.Cancel to
// interrupt an in-flight request (SPEC_FULL §4.4).
func BuildAttention() []byte {
	packets := BuildPackets(PacketAttention, nil, DefaultPacketSize)
	var out []byte
	for _, p := range packets {
		out = append(out, p...)
	}
	return out
}

// ContainsAttentionAck scans a decoded token list for a DONE token carrying
// the DONE_ATTN bit, which marks where the server's response to a
// cancelled request ends (MS-TDS 2.2.7.5). The caller drains tokens up to
// and including this point before returning the connection to Idle.
func ContainsAttentionAck(statuses []DoneStatus) bool {
	for _, s := range statuses {
		if s.Attn {
			return true
		}
	}
	return false
}
