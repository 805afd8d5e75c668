package mcproto

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
)

const (
	// PacketIDHandshake is the id of the first serverbound packet of every connection.
	PacketIDHandshake = 0x00

	// MaxServerAddressLen is the byte limit for the server address field:
	// 255 UTF-16 code units, up to 4 bytes each.
	MaxServerAddressLen = 255 * 4

	// DefaultMaxPacketSize bounds how much a client may send before its handshake is complete.
	DefaultMaxPacketSize = 4096
)

var (
	ErrTruncatedHandshake = errors.New("mcproto: truncated handshake")
	ErrMalformedHandshake = errors.New("mcproto: malformed handshake")
	// ErrUnsupportedNextState is a MalformedHandshake: errors.Is matches both.
	ErrUnsupportedNextState = fmt.Errorf("%w: unsupported next state", ErrMalformedHandshake)
)

// NextState is the connection state the client asks to switch to.
type NextState int32

const (
	NextStateStatus   NextState = 1
	NextStateLogin    NextState = 2
	NextStateTransfer NextState = 3
)

func (s NextState) Valid() bool {
	return s == NextStateStatus || s == NextStateLogin || s == NextStateTransfer
}

func (s NextState) String() string {
	switch s {
	case NextStateStatus:
		return "status"
	case NextStateLogin:
		return "login"
	case NextStateTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Handshake is the decoded first packet of a connection together with the
// exact bytes it was decoded from.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       NextState

	// Raw is the verbatim frame as read from the client, length prefix
	// included. It is what gets replayed to the backend.
	Raw []byte
}

// HandshakeReader reads the handshake off a freshly accepted connection.
type HandshakeReader struct {
	MaxPacketSize int           // e.g., 4096
	Timeout       time.Duration // e.g., 5 * time.Second
}

// ReadHandshake reads exactly one frame from conn and decodes it as a
// handshake. When Timeout is positive a read deadline is armed first; the
// caller is responsible for clearing it once the handshake is in hand.
func (h *HandshakeReader) ReadHandshake(conn net.Conn) (*Handshake, error) {
	if h.Timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.Timeout))
	}
	return DecodeHandshake(conn, h.maxPacketSize())
}

func (h *HandshakeReader) maxPacketSize() int {
	if h.MaxPacketSize <= 0 {
		return DefaultMaxPacketSize
	}
	return h.MaxPacketSize
}

// DecodeHandshake reads one frame from r and parses it. It never reads past
// the end of the frame.
func DecodeHandshake(r io.Reader, maxPacketSize int) (*Handshake, error) {
	raw, payload, err := ReadFrame(r, maxPacketSize)
	if err != nil {
		if errors.Is(err, ErrMalformedVarInt) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedHandshake, err)
		}
		return nil, err
	}

	hs, err := ParseHandshake(payload)
	if err != nil {
		return nil, err
	}
	hs.Raw = raw
	return hs, nil
}

// ParseHandshake parses a handshake packet payload (packet id onwards).
// Raw is left empty; bytes after the next state field are ignored.
func ParseHandshake(payload []byte) (*Handshake, error) {
	s := cryptobyte.String(payload)

	packetID, err := readVarInt(&s)
	if err != nil {
		return nil, fmt.Errorf("%w: packet id: %w", ErrMalformedHandshake, err)
	}
	if packetID != PacketIDHandshake {
		return nil, fmt.Errorf("%w: unexpected packet id 0x%02x", ErrMalformedHandshake, packetID)
	}

	protocol, err := readVarInt(&s)
	if err != nil {
		return nil, fmt.Errorf("%w: protocol version: %w", ErrMalformedHandshake, err)
	}

	addrLen, err := readVarInt(&s)
	if err != nil {
		return nil, fmt.Errorf("%w: server address length: %w", ErrMalformedHandshake, err)
	}
	if addrLen <= 0 || addrLen > MaxServerAddressLen {
		return nil, fmt.Errorf("%w: server address length %d", ErrMalformedHandshake, addrLen)
	}
	var addr []byte
	if !s.ReadBytes(&addr, int(addrLen)) {
		return nil, fmt.Errorf("%w: server address shorter than declared %d bytes", ErrMalformedHandshake, addrLen)
	}
	if !utf8.Valid(addr) {
		return nil, fmt.Errorf("%w: server address is not valid UTF-8", ErrMalformedHandshake)
	}

	var port uint16
	if !s.ReadUint16(&port) {
		return nil, fmt.Errorf("%w: missing server port", ErrMalformedHandshake)
	}

	next, err := readVarInt(&s)
	if err != nil {
		return nil, fmt.Errorf("%w: next state: %w", ErrMalformedHandshake, err)
	}
	if !NextState(next).Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedNextState, next)
	}

	return &Handshake{
		ProtocolVersion: protocol,
		ServerAddress:   string(addr),
		ServerPort:      port,
		NextState:       NextState(next),
	}, nil
}

func readVarInt(s *cryptobyte.String) (int32, error) {
	v, n, err := ReadVarInt(*s)
	if err != nil {
		return 0, err
	}
	s.Skip(n)
	return v, nil
}

// AppendHandshake encodes hs as a complete frame. Forwarding always uses Raw;
// this exists for clients and tests that need to produce a handshake.
func AppendHandshake(dst []byte, hs Handshake) []byte {
	var b cryptobyte.Builder
	b.AddBytes(AppendVarInt(nil, PacketIDHandshake))
	b.AddBytes(AppendVarInt(nil, hs.ProtocolVersion))
	b.AddBytes(AppendVarInt(nil, int32(len(hs.ServerAddress))))
	b.AddBytes([]byte(hs.ServerAddress))
	b.AddUint16(hs.ServerPort)
	b.AddBytes(AppendVarInt(nil, int32(hs.NextState)))
	return AppendFrame(dst, b.BytesOrPanic())
}
