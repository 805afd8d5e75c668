package mcproto

import "errors"

const (
	segmentBits = 0x7F
	continueBit = 0x80

	// MaxVarIntLen is the longest encoding of a 32-bit VarInt.
	MaxVarIntLen = 5
)

var (
	// ErrIncompleteData means the buffer ended before the value did; read more bytes and retry.
	ErrIncompleteData = errors.New("mcproto: incomplete data")
	// ErrMalformedVarInt means a VarInt ran past MaxVarIntLen bytes or decoded to an invalid length.
	ErrMalformedVarInt = errors.New("mcproto: malformed varint")
)

// ReadVarInt decodes a VarInt from the front of b. It returns the value and the
// number of bytes it occupied.
func ReadVarInt(b []byte) (int32, int, error) {
	var value uint32
	for i := 0; i < MaxVarIntLen; i++ {
		if i >= len(b) {
			return 0, 0, ErrIncompleteData
		}
		c := b[i]
		value |= uint32(c&segmentBits) << (7 * i)
		if c&continueBit == 0 {
			return int32(value), i + 1, nil
		}
	}
	return 0, 0, ErrMalformedVarInt
}

// AppendVarInt appends the VarInt encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	uv := uint32(v)
	for uv >= continueBit {
		dst = append(dst, byte(uv)|continueBit)
		uv >>= 7
	}
	return append(dst, byte(uv))
}

// VarIntSize reports how many bytes AppendVarInt would emit for v.
func VarIntSize(v int32) int {
	uv := uint32(v)
	n := 1
	for uv >= continueBit {
		uv >>= 7
		n++
	}
	return n
}
