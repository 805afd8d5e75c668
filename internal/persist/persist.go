// Package persist writes the routing table out when the process shuts down.
package persist

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrPersistenceWrite = errors.New("persist: writing routes failed")

// Writer stores a route snapshot somewhere durable.
type Writer interface {
	WriteRoutes(ctx context.Context, routes map[string]netip.AddrPort) error
}

// Snapshotter is implemented by *routing.Table.
type Snapshotter interface {
	Snapshot() map[string]netip.AddrPort
}

type Manager struct {
	table   Snapshotter
	writers []Writer

	once sync.Once
	err  error
}

func NewManager(table Snapshotter, writers ...Writer) *Manager {
	return &Manager{table: table, writers: writers}
}

// Persist takes one snapshot and hands it to every writer. A failing writer
// does not stop the others; all failures come back wrapped in
// ErrPersistenceWrite.
func (m *Manager) Persist(ctx context.Context) error {
	routes := m.table.Snapshot()

	var err error
	for _, w := range m.writers {
		if werr := w.WriteRoutes(ctx, routes); werr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", describe(w), werr))
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceWrite, err)
	}
	zap.S().Infof("Persisted %d routes to %d writer(s)", len(routes), len(m.writers))
	return nil
}

// Shutdown persists exactly once, however many times it is called, and logs
// a failure instead of acting on it: persistence is best effort and must not
// hold up exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.err = m.Persist(ctx)
		if m.err != nil {
			zap.S().Errorf("Failed to persist routes on shutdown: %v", m.err)
		}
	})
	return m.err
}

func describe(w Writer) string {
	if s, ok := w.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", w)
}
