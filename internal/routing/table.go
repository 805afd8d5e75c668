// Package routing holds the hostname to backend table shared by the proxy
// listener, the registration API and the persistence step.
package routing

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

var ErrInvalidRoute = errors.New("routing: invalid route")

// Table maps normalized hostnames to backend addresses. Lookups take a read
// lock only; writers replace one map entry at a time, so a reader sees either
// the old address or the new one.
type Table struct {
	mu     sync.RWMutex
	routes map[string]netip.AddrPort
}

// New builds a table seeded with initial. Keys are normalized; entries that
// are not routable are skipped, so callers that need to report them should
// validate first (see UpsertAll).
func New(initial map[string]netip.AddrPort) *Table {
	t := &Table{routes: make(map[string]netip.AddrPort, len(initial))}
	for host, addr := range initial {
		_ = t.Upsert(host, addr)
	}
	return t
}

// Lookup returns the backend registered for hostname.
func (t *Table) Lookup(hostname string) (netip.AddrPort, bool) {
	key := NormalizeHostname(hostname)
	t.mu.RLock()
	addr, ok := t.routes[key]
	t.mu.RUnlock()
	return addr, ok
}

// Upsert inserts or replaces the route for hostname. The new address is
// visible to every Lookup that starts after Upsert returns.
func (t *Table) Upsert(hostname string, backend netip.AddrPort) error {
	key := NormalizeHostname(hostname)
	if key == "" {
		return fmt.Errorf("%w: empty hostname %q", ErrInvalidRoute, hostname)
	}
	if !backend.IsValid() {
		return fmt.Errorf("%w: invalid backend address for %q", ErrInvalidRoute, key)
	}

	t.mu.Lock()
	t.routes[key] = backend
	t.mu.Unlock()
	return nil
}

// UpsertAll applies every route in routes and returns how many were written.
// Invalid entries are reported together; valid ones are still applied.
func (t *Table) UpsertAll(routes map[string]netip.AddrPort) (int, error) {
	var err error
	n := 0
	for host, addr := range routes {
		if uerr := t.Upsert(host, addr); uerr != nil {
			err = multierr.Append(err, uerr)
			continue
		}
		n++
	}
	return n, err
}

// Snapshot copies the table under the read lock.
func (t *Table) Snapshot() map[string]netip.AddrPort {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]netip.AddrPort, len(t.routes))
	for k, v := range t.routes {
		out[k] = v
	}
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// NormalizeHostname turns a handshake server address or a registration path
// segment into a table key:
//
//   - anything from the first NUL byte on is dropped (Forge appends "\x00FML\x00" markers)
//   - surrounding whitespace is trimmed
//   - a trailing ":port" is dropped
//   - one trailing "." is dropped
//   - the result is lower-cased
func NormalizeHostname(hostname string) string {
	if i := strings.IndexByte(hostname, 0); i >= 0 {
		hostname = hostname[:i]
	}
	hostname = strings.TrimSpace(hostname)
	if host, _, err := net.SplitHostPort(hostname); err == nil {
		hostname = host
	}
	hostname = strings.TrimSuffix(hostname, ".")
	return strings.ToLower(hostname)
}
