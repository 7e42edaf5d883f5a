package messages

// Minimal RLP encoding, enough for the route metadata hash: byte strings
// and lists of already-encoded items.

func rlpEncodeBytes(data []byte) []byte {
	if len(data) == 1 && data[0] < 0x80 {
		return data
	}
	return append(rlpLength(len(data), 0x80), data...)
}

func rlpEncodeList(items [][]byte) []byte {
	var payload []byte
	for _, item := range items {
		payload = append(payload, item...)
	}
	return append(rlpLength(len(payload), 0xc0), payload...)
}

func rlpLength(length int, offset byte) []byte {
	if length < 56 {
		return []byte{offset + byte(length)}
	}
	var size []byte
	for l := length; l > 0; l >>= 8 {
		size = append([]byte{byte(l)}, size...)
	}
	return append([]byte{offset + 55 + byte(len(size))}, size...)
}
