package mcproto

import (
	"fmt"
	"io"
)

// Frame is one length-prefixed packet.
type Frame struct {
	// Length is the declared payload length taken from the prefix.
	Length int
	// Payload aliases the input buffer; it is not copied.
	Payload []byte
}

// DecodeFrame decodes a single frame from the front of buf. The second return
// value is the number of bytes consumed (prefix plus payload), i.e. the bytes
// that have to be replayed if the frame is forwarded.
func DecodeFrame(buf []byte) (Frame, int, error) {
	length, n, err := ReadVarInt(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	if length < 0 {
		return Frame{}, 0, fmt.Errorf("%w: negative frame length %d", ErrMalformedVarInt, length)
	}
	total := n + int(length)
	if len(buf) < total {
		return Frame{}, 0, ErrIncompleteData
	}
	return Frame{Length: int(length), Payload: buf[n:total]}, total, nil
}

// AppendFrame appends payload to dst with its VarInt length prefix.
func AppendFrame(dst, payload []byte) []byte {
	dst = AppendVarInt(dst, int32(len(payload)))
	return append(dst, payload...)
}

// ReadFrame reads exactly one frame from r and nothing more. The length prefix
// is read a byte at a time so no byte past the frame boundary is consumed.
//
//   - raw: the verbatim bytes read (prefix + payload)
//   - payload: raw without the prefix
//
// A frame whose declared length is not in (0, maxLen] is rejected with
// ErrMalformedHandshake. Any read failure, including EOF and deadline
// expiry, is reported as ErrTruncatedHandshake.
func ReadFrame(r io.Reader, maxLen int) (raw []byte, payload []byte, err error) {
	raw = make([]byte, 0, MaxVarIntLen)
	var one [1]byte

	var length int32
	var prefixLen int
	for {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return raw, nil, fmt.Errorf("%w: reading length prefix: %w", ErrTruncatedHandshake, err)
		}
		raw = append(raw, one[0])

		length, prefixLen, err = ReadVarInt(raw)
		if err == ErrIncompleteData {
			continue
		}
		if err != nil {
			return raw, nil, err
		}
		break
	}

	if length <= 0 || int(length) > maxLen {
		return raw, nil, fmt.Errorf("%w: frame length %d outside (0, %d]", ErrMalformedHandshake, length, maxLen)
	}

	frame := make([]byte, prefixLen+int(length))
	copy(frame, raw)
	if _, err := io.ReadFull(r, frame[prefixLen:]); err != nil {
		return raw, nil, fmt.Errorf("%w: reading %d byte payload: %w", ErrTruncatedHandshake, length, err)
	}
	return frame, frame[prefixLen:], nil
}
