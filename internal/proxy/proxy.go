// Package proxy accepts client connections, reads their handshake, looks the
// requested hostname up and hands routed connections to the relay.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"go.uber.org/zap"

	"github.com/Suhaibinator/CraftRouter/internal/mcproto"
	"github.com/Suhaibinator/CraftRouter/internal/metrics"
	"github.com/Suhaibinator/CraftRouter/internal/relay"
	"github.com/Suhaibinator/CraftRouter/internal/routing"
	"github.com/Suhaibinator/CraftRouter/sdk/hooks"
)

var ErrRouteMissing = errors.New("proxy: no route for hostname")

// HandshakeReader is implemented by *mcproto.HandshakeReader.
type HandshakeReader interface {
	ReadHandshake(conn net.Conn) (*mcproto.Handshake, error)
}

// Forwarder is implemented by *relay.Relay.
type Forwarder interface {
	Forward(ctx context.Context, client net.Conn, handshake []byte, backend netip.AddrPort) (relay.Stats, error)
}

// Proxy is stateless apart from the shared routing table: every connection
// gets its own session.
type Proxy struct {
	table     *routing.Table
	reader    HandshakeReader
	forwarder Forwarder

	connHooks []hooks.ResolvedHook
	bucket    *ratelimit.Bucket

	sessions sync.WaitGroup
}

type Option func(*Proxy)

// WithConnectionHooks sets the hooks fired when a connection finds its route.
func WithConnectionHooks(h []hooks.ResolvedHook) Option {
	return func(p *Proxy) { p.connHooks = h }
}

// WithAcceptRateLimit caps accepted connections per second, with a burst of
// twice the rate. Zero or less disables the limit.
func WithAcceptRateLimit(perSecond int) Option {
	return func(p *Proxy) {
		if perSecond > 0 {
			p.bucket = ratelimit.NewBucketWithRate(float64(perSecond), int64(perSecond*2))
		}
	}
}

func New(table *routing.Table, reader HandshakeReader, forwarder Forwarder, opts ...Option) *Proxy {
	p := &Proxy{
		table:     table,
		reader:    reader,
		forwarder: forwarder,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Serve accepts connections from ln until ctx is cancelled or ln fails for
// good. Cancelling ctx only stops acceptance; sessions already relaying run
// until one of their peers hangs up (see Wait).
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	var backoff time.Duration
	for {
		if p.bucket != nil {
			p.bucket.Wait(1)
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Same backoff shape as net/http for EMFILE and friends.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			zap.S().Errorf("Accept error: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		p.sessions.Add(1)
		go func() {
			defer p.sessions.Done()
			p.HandleConnection(ctx, conn)
		}()
	}
}

// Wait blocks until every session started by Serve has closed or ctx is done.
func (p *Proxy) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleConnection drives one connection from Accepted to Closed. The
// connection is always closed when it returns.
func (p *Proxy) HandleConnection(ctx context.Context, conn net.Conn) {
	s := newSession(conn)
	defer conn.Close()

	for s.state != StateClosed {
		s.state = p.step(ctx, s)
	}
	s.log()
}

// step performs the single transition out of s.state and returns the next state.
func (p *Proxy) step(ctx context.Context, s *session) State {
	switch s.state {
	case StateAccepted:
		return StateDecoding

	case StateDecoding:
		hs, err := p.reader.ReadHandshake(s.client)
		if err != nil {
			s.err = err
			return StateDecodeFailed
		}
		s.handshake = hs
		s.hostname = routing.NormalizeHostname(hs.ServerAddress)

		backend, ok := p.table.Lookup(s.hostname)
		if !ok {
			s.err = fmt.Errorf("%w: %q", ErrRouteMissing, s.hostname)
			return StateRouteMissing
		}
		s.backend = backend
		return StateRouteFound

	case StateRouteFound:
		// The handshake deadline must not cut an established session.
		_ = s.client.SetReadDeadline(time.Time{})
		metrics.ConnectionsTotal.WithLabelValues(metrics.ResultRouted).Inc()
		zap.S().Infof("Connection from %s to %q (protocol %d, %s) -> %s",
			s.client.RemoteAddr(), s.hostname, s.handshake.ProtocolVersion, s.handshake.NextState, s.backend)

		if len(p.connHooks) > 0 {
			ev := hooks.ConnectionEvent{
				Hostname:        s.hostname,
				ServerAddress:   s.handshake.ServerAddress,
				ClientAddr:      addrString(s.client.RemoteAddr()),
				Backend:         s.backend,
				ProtocolVersion: s.handshake.ProtocolVersion,
				NextState:       s.handshake.NextState.String(),
			}
			if err := hooks.RunConnectionHooks(ctx, p.connHooks, ev); err != nil {
				zap.S().Warnf("Connection hooks for %q: %v", s.hostname, err)
			}
		}
		return StateRelaying

	case StateRelaying:
		// Shutdown stops new connections, not the ones already relaying.
		stats, err := p.forwarder.Forward(context.WithoutCancel(ctx), s.client, s.handshake.Raw, s.backend)
		s.stats = stats
		s.err = err
		if errors.Is(err, relay.ErrBackendUnreachable) {
			metrics.ConnectionsTotal.WithLabelValues(metrics.ResultBackendUnreachable).Inc()
		}
		return StateClosed

	case StateRouteMissing:
		metrics.ConnectionsTotal.WithLabelValues(metrics.ResultRouteMissing).Inc()
		return StateClosed

	case StateDecodeFailed:
		metrics.ConnectionsTotal.WithLabelValues(metrics.ResultDecodeFailed).Inc()
		return StateClosed

	default:
		return StateClosed
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
