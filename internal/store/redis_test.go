package store

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoutesSkipsGarbage(t *testing.T) {
	routes, err := decodeRoutes(map[string]string{
		"play.example.com": "10.0.0.5:25577",
		"broken":           "10.0.0.5",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
	require.Equal(t, map[string]netip.AddrPort{
		"play.example.com": netip.MustParseAddrPort("10.0.0.5:25577"),
	}, routes)
}

func TestEncodeRoutes(t *testing.T) {
	got := encodeRoutes(map[string]netip.AddrPort{
		"v6.example.com": netip.MustParseAddrPort("[2001:db8::1]:25565"),
	})
	require.Equal(t, map[string]any{"v6.example.com": "[2001:db8::1]:25565"}, got)
}

// TestRedisStoreRoundTrip needs a live server; set CRAFTROUTER_TEST_REDIS_ADDR to run it.
func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("CRAFTROUTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRAFTROUTER_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	key := fmt.Sprintf("craftrouter:test:%d", time.Now().UnixNano())
	s, err := NewRedisStore(ctx, &redis.Options{Addr: addr}, key)
	require.NoError(t, err)
	defer s.Close()
	defer s.client.Del(ctx, key)

	first := map[string]netip.AddrPort{"a.example.com": netip.MustParseAddrPort("10.0.0.1:25565")}
	second := map[string]netip.AddrPort{"b.example.com": netip.MustParseAddrPort("10.0.0.2:25565")}
	require.NoError(t, s.WriteRoutes(ctx, first))
	require.NoError(t, s.WriteRoutes(ctx, second))

	loaded, err := s.LoadRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2, "writes merge into the hash")
	require.Equal(t, first["a.example.com"], loaded["a.example.com"])
}
