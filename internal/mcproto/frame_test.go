package mcproto

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 300)
	buf := AppendFrame(nil, payload)
	buf = append(buf, "next packet"...)

	frame, consumed, err := DecodeFrame(buf)
	require.NoError(t, err)
	require.Equal(t, 300, frame.Length)
	require.Equal(t, payload, frame.Payload)
	require.Equal(t, 2+300, consumed)
	require.Equal(t, "next packet", string(buf[consumed:]))
}

func TestDecodeFrameIncomplete(t *testing.T) {
	buf := AppendFrame(nil, []byte("hello"))

	for i := 0; i < len(buf); i++ {
		_, _, err := DecodeFrame(buf[:i])
		require.ErrorIs(t, err, ErrIncompleteData, "prefix of %d bytes", i)
	}
}

func TestDecodeFrameNegativeLength(t *testing.T) {
	buf := AppendVarInt(nil, -5)
	_, _, err := DecodeFrame(buf)
	require.ErrorIs(t, err, ErrMalformedVarInt)
}

func TestReadFrameStopsAtBoundary(t *testing.T) {
	frameBytes := AppendFrame(nil, []byte("payload"))
	r := bytes.NewReader(append(append([]byte{}, frameBytes...), "trailing"...))

	raw, payload, err := ReadFrame(r, 64)
	require.NoError(t, err)
	require.Equal(t, frameBytes, raw)
	require.Equal(t, "payload", string(payload))

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "trailing", string(rest))
}

func TestReadFrameLimits(t *testing.T) {
	t.Run("zero length", func(t *testing.T) {
		_, _, err := ReadFrame(bytes.NewReader([]byte{0x00}), 64)
		require.ErrorIs(t, err, ErrMalformedHandshake)
	})

	t.Run("longer than max", func(t *testing.T) {
		buf := AppendFrame(nil, make([]byte, 65))
		_, _, err := ReadFrame(bytes.NewReader(buf), 64)
		require.ErrorIs(t, err, ErrMalformedHandshake)
	})

	t.Run("prefix over five bytes", func(t *testing.T) {
		_, _, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}), 64)
		require.ErrorIs(t, err, ErrMalformedVarInt)
	})

	t.Run("eof inside payload", func(t *testing.T) {
		buf := AppendFrame(nil, []byte("abcdef"))
		_, _, err := ReadFrame(bytes.NewReader(buf[:4]), 64)
		require.ErrorIs(t, err, ErrTruncatedHandshake)
	})

	t.Run("eof inside prefix", func(t *testing.T) {
		_, _, err := ReadFrame(bytes.NewReader([]byte{0x80}), 64)
		require.ErrorIs(t, err, ErrTruncatedHandshake)
	})
}
