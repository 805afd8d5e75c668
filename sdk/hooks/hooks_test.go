package hooks

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"
)

func noopRouteHook() RouteHook {
	return RouteHook(func(context.Context, RouteEvent) error { return nil })
}

func TestSortByPriority(t *testing.T) {
	defer resetRegistryForTesting()

	low := Registration{Name: "low", Kind: OnRouteRegistered, Handler: noopRouteHook(), Priority: 10}
	high := Registration{Name: "high", Kind: OnRouteRegistered, Handler: noopRouteHook(), Priority: 1}

	hooks := []ResolvedHook{{Registration: low}, {Registration: high}}
	SortByPriority(hooks)

	if hooks[0].Registration.Name != "high" {
		t.Fatalf("expected high priority hook first, got %s", hooks[0].Registration.Name)
	}
}

func TestRegisterMissingName(t *testing.T) {
	defer resetRegistryForTesting()

	err := Register(Registration{Kind: OnRouteRegistered, Handler: noopRouteHook()})
	if err == nil {
		t.Fatalf("expected error for missing name")
	}
}

func TestRegisterKindMismatch(t *testing.T) {
	defer resetRegistryForTesting()

	err := Register(Registration{Name: "wrong", Kind: OnConnectionRouted, Handler: noopRouteHook()})
	if err == nil {
		t.Fatalf("expected error when a RouteHook is registered as a connection hook")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	defer resetRegistryForTesting()

	reg := Registration{Name: "audit", Kind: OnRouteRegistered, Handler: noopRouteHook()}
	if err := Register(reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Register(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if got := len(Registered()); got != 1 {
		t.Fatalf("expected 1 registration, got %d", got)
	}
}

func TestLookupFailsForUnknown(t *testing.T) {
	defer resetRegistryForTesting()

	if _, ok := Lookup("does-not-exist"); ok {
		t.Fatalf("expected Lookup to fail for unknown hook")
	}
}

func TestRunRouteHooksMatchesAndCollectsErrors(t *testing.T) {
	var called []string
	record := func(name string, err error) RouteHook {
		return func(_ context.Context, _ RouteEvent) error {
			called = append(called, name)
			return err
		}
	}

	resolved := []ResolvedHook{
		{Registration: Registration{Name: "all", Handler: record("all", nil)}},
		{Registration: Registration{Name: "other", Handler: record("other", nil)}, Matcher: Matcher{Host: "other.example.com"}},
		{Registration: Registration{Name: "failing", Handler: record("failing", errors.New("boom"))}, Matcher: Matcher{Host: "PLAY.example.com"}},
		{Registration: Registration{Name: "after", Handler: record("after", nil)}},
	}

	err := RunRouteHooks(context.Background(), resolved, RouteEvent{
		Hostname: "play.example.com",
		Backend:  netip.MustParseAddrPort("10.0.0.5:25565"),
	})
	if err == nil {
		t.Fatalf("expected the failing hook's error")
	}
	want := []string{"all", "failing", "after"}
	if len(called) != len(want) {
		t.Fatalf("expected %v, got %v", want, called)
	}
	for i := range want {
		if called[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, called)
		}
	}
}

func TestRunConnectionHooksTimeout(t *testing.T) {
	slow := ConnectionHook(func(ctx context.Context, _ ConnectionEvent) error {
		<-ctx.Done()
		return ctx.Err()
	})
	resolved := []ResolvedHook{{Registration: Registration{Name: "slow", Handler: slow}, Timeout: 20 * time.Millisecond}}

	start := time.Now()
	err := RunConnectionHooks(context.Background(), resolved, ConnectionEvent{Hostname: "a"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("hook timeout was not applied")
	}
}
