package hooks

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

type Kind string

const (
	OnRouteRegistered  Kind = "on_route_registered"
	OnConnectionRouted Kind = "on_connection_routed"
)

// RouteEvent describes a route written through the registration API.
type RouteEvent struct {
	Hostname   string
	Backend    netip.AddrPort
	RemoteAddr string
}

// ConnectionEvent describes a client connection that found a route and is
// about to be relayed.
type ConnectionEvent struct {
	Hostname        string
	ServerAddress   string
	ClientAddr      string
	Backend         netip.AddrPort
	ProtocolVersion int32
	NextState       string
}

type RouteHook func(ctx context.Context, ev RouteEvent) error

type ConnectionHook func(ctx context.Context, ev ConnectionEvent) error

type Registration struct {
	Name     string
	Kind     Kind
	Handler  any
	Priority int
}

// Matcher limits a hook to one hostname. An empty Host matches every event.
type Matcher struct {
	Host string
}

func (m Matcher) Matches(hostname string) bool {
	return m.Host == "" || strings.EqualFold(m.Host, hostname)
}

type ResolvedHook struct {
	Registration Registration
	Matcher      Matcher
	Timeout      time.Duration
}

func SortByPriority(hooks []ResolvedHook) {
	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].Registration.Priority < hooks[j].Registration.Priority
	})
}

// RunRouteHooks calls every matching route hook in order. Hook failures do
// not stop later hooks; they are returned together.
func RunRouteHooks(ctx context.Context, hooks []ResolvedHook, ev RouteEvent) error {
	var err error
	for _, h := range hooks {
		fn, ok := h.Registration.Handler.(RouteHook)
		if !ok || !h.Matcher.Matches(ev.Hostname) {
			continue
		}
		hctx, cancel := withTimeout(ctx, h.Timeout)
		if herr := fn(hctx, ev); herr != nil {
			err = multierr.Append(err, fmt.Errorf("hook %s: %w", h.Registration.Name, herr))
		}
		cancel()
	}
	return err
}

// RunConnectionHooks is RunRouteHooks for ConnectionEvent.
func RunConnectionHooks(ctx context.Context, hooks []ResolvedHook, ev ConnectionEvent) error {
	var err error
	for _, h := range hooks {
		fn, ok := h.Registration.Handler.(ConnectionHook)
		if !ok || !h.Matcher.Matches(ev.Hostname) {
			continue
		}
		hctx, cancel := withTimeout(ctx, h.Timeout)
		if herr := fn(hctx, ev); herr != nil {
			err = multierr.Append(err, fmt.Errorf("hook %s: %w", h.Registration.Name, herr))
		}
		cancel()
	}
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

var (
	regMu     sync.RWMutex
	registry  = make(map[string]Registration)
	errNoName = errors.New("hook name is required")
)

func Register(reg Registration) error {
	if reg.Name == "" {
		return errNoName
	}

	switch reg.Kind {
	case OnRouteRegistered:
		if _, ok := reg.Handler.(RouteHook); !ok {
			return errors.New("handler must be RouteHook for on_route_registered")
		}
	case OnConnectionRouted:
		if _, ok := reg.Handler.(ConnectionHook); !ok {
			return errors.New("handler must be ConnectionHook for on_connection_routed")
		}
	default:
		return errors.New("unknown hook kind")
	}

	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := registry[reg.Name]; exists {
		return errors.New("hook already registered")
	}
	registry[reg.Name] = reg
	return nil
}

func Lookup(name string) (Registration, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	reg, ok := registry[name]
	return reg, ok
}

func resetRegistryForTesting() {
	regMu.Lock()
	defer regMu.Unlock()
	registry = make(map[string]Registration)
}

// ResetRegistryForTesting clears the registry; meant for use in tests.
func ResetRegistryForTesting() {
	resetRegistryForTesting()
}

func Registered() []Registration {
	regMu.RLock()
	defer regMu.RUnlock()
	res := make([]Registration, 0, len(registry))
	for _, r := range registry {
		res = append(res, r)
	}
	return res
}
