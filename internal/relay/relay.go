// Package relay connects a client to its backend and copies bytes both ways
// until either side is done.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pires/go-proxyproto"
	"go.uber.org/zap"

	"github.com/Suhaibinator/CraftRouter/internal/metrics"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultBufferSize     = 1536
)

var (
	ErrBackendUnreachable = errors.New("relay: backend unreachable")
	ErrRelayIO            = errors.New("relay: i/o error")
)

// Dialer is satisfied by *net.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Stats counts the bytes copied in each direction, handshake excluded.
type Stats struct {
	ClientToBackend int64
	BackendToClient int64
}

type Relay struct {
	Dialer         Dialer
	ConnectTimeout time.Duration
	// BufferSize is the per-direction copy buffer; at most one chunk per
	// direction is in flight.
	BufferSize int
	// SendProxyProtocol prefixes the backend stream with a PROXY v2 header
	// carrying the client's address.
	SendProxyProtocol bool
}

// Forward dials backend, writes handshake to it unmodified and then pumps
// until the session ends. Once pumping starts both connections are closed
// by Forward; if it fails earlier the caller still owns client.
func (r *Relay) Forward(ctx context.Context, client net.Conn, handshake []byte, backend netip.AddrPort) (Stats, error) {
	server, err := r.Connect(ctx, client, backend)
	if err != nil {
		return Stats{}, err
	}

	if _, err := server.Write(handshake); err != nil {
		_ = server.Close()
		return Stats{}, fmt.Errorf("%w: forwarding handshake to %s: %w", ErrRelayIO, backend, err)
	}
	zap.S().Debugf("Relayed %d handshake bytes to %s", len(handshake), backend)

	return r.Pump(client, server)
}

// Connect opens the backend connection, bounded by ConnectTimeout.
func (r *Relay) Connect(ctx context.Context, client net.Conn, backend netip.AddrPort) (net.Conn, error) {
	dialer := r.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	timeout := r.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	server, err := dialer.DialContext(dialCtx, "tcp", backend.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnreachable, backend, err)
	}
	setNoDelay(client)
	setNoDelay(server)

	if r.SendProxyProtocol {
		header := proxyproto.HeaderProxyFromAddrs(2, client.RemoteAddr(), client.LocalAddr())
		if _, err := header.WriteTo(server); err != nil {
			_ = server.Close()
			return nil, fmt.Errorf("%w: writing PROXY header to %s: %w", ErrBackendUnreachable, backend, err)
		}
	}
	return server, nil
}

type pumpResult struct {
	toBackend bool
	n         int64
	err       error
}

// Pump copies client->backend and backend->client concurrently. Whichever
// direction stops first closes both connections, which unblocks the other
// one; Pump returns after both have stopped. A direction that ends on
// anything other than EOF makes Pump return ErrRelayIO.
func (r *Relay) Pump(client, backend net.Conn) (Stats, error) {
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()
	start := time.Now()
	defer func() { metrics.SessionDuration.Observe(time.Since(start).Seconds()) }()

	size := r.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			_ = client.Close()
			_ = backend.Close()
		})
	}

	results := make(chan pumpResult, 2)
	go func() {
		n, err := pipe(backend, client, size)
		results <- pumpResult{toBackend: true, n: n, err: err}
	}()
	go func() {
		n, err := pipe(client, backend, size)
		results <- pumpResult{toBackend: false, n: n, err: err}
	}()

	first := <-results
	closeBoth()
	second := <-results

	var stats Stats
	for _, res := range []pumpResult{first, second} {
		if res.toBackend {
			stats.ClientToBackend = res.n
		} else {
			stats.BackendToClient = res.n
		}
	}
	metrics.BytesRelayedTotal.WithLabelValues("client_to_backend").Add(float64(stats.ClientToBackend))
	metrics.BytesRelayedTotal.WithLabelValues("backend_to_client").Add(float64(stats.BackendToClient))

	// The second direction only failed because we closed its connections.
	if first.err != nil {
		metrics.RelayErrorsTotal.Inc()
		return stats, fmt.Errorf("%w: %s: %w", ErrRelayIO, direction(first.toBackend), first.err)
	}
	return stats, nil
}

func direction(toBackend bool) string {
	if toBackend {
		return "client->backend"
	}
	return "backend->client"
}

// pipe copies src to dst through a single buffer of the given size. Each
// chunk is fully written before the next read. EOF on src is a clean stop.
func pipe(dst io.Writer, src io.Reader, size int) (int64, error) {
	buf := make([]byte, size)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
			if w != n {
				return total, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return total, nil
			}
			return total, rerr
		}
	}
}

// setNoDelay keeps small game packets from being held back by Nagle.
func setNoDelay(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
