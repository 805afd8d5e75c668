package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/Suhaibinator/CraftRouter/internal/mcproto"
	"github.com/Suhaibinator/CraftRouter/internal/relay"
)

// State is where a connection is in its lifecycle:
//
//	Accepted -> Decoding -> RouteFound -> Relaying -> Closed
//	                     -> RouteMissing -> Closed
//	                     -> DecodeFailed -> Closed
type State int

const (
	StateAccepted State = iota
	StateDecoding
	StateRouteFound
	StateRouteMissing
	StateDecodeFailed
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateDecoding:
		return "decoding"
	case StateRouteFound:
		return "route_found"
	case StateRouteMissing:
		return "route_missing"
	case StateDecodeFailed:
		return "decode_failed"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session is the per-connection state. The backend connection itself lives
// inside the relay for as long as the session is Relaying.
type session struct {
	client net.Conn
	state  State

	handshake *mcproto.Handshake
	hostname  string
	backend   netip.AddrPort

	stats relay.Stats
	err   error
}

func newSession(conn net.Conn) *session {
	return &session{client: conn, state: StateAccepted}
}

// log reports how the session ended. Per-connection failures stop here.
func (s *session) log() {
	remote := addrString(s.client.RemoteAddr())
	switch {
	case s.err == nil:
		zap.S().Debugf("Session %s -> %q closed (%d bytes up, %d bytes down)",
			remote, s.hostname, s.stats.ClientToBackend, s.stats.BackendToClient)
	case errors.Is(s.err, ErrRouteMissing):
		zap.S().Warnf("No route for %q from %s; closing connection.", s.hostname, remote)
	case errors.Is(s.err, mcproto.ErrTruncatedHandshake), errors.Is(s.err, mcproto.ErrMalformedHandshake):
		zap.S().Infof("Dropping %s: %v", remote, s.err)
	case errors.Is(s.err, relay.ErrBackendUnreachable):
		zap.S().Errorf("Backend for %q unreachable: %v", s.hostname, s.err)
	default:
		zap.S().Infof("Session %s -> %q ended: %v", remote, s.hostname, s.err)
	}
}
