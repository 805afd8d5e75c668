package routing

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHostname(t *testing.T) {
	cases := map[string]string{
		"play.example.com":             "play.example.com",
		"Play.Example.COM":             "play.example.com",
		"play.example.com.":            "play.example.com",
		"  play.example.com ":          "play.example.com",
		"play.example.com:25565":       "play.example.com",
		"mods.example.com\x00FML3\x00": "mods.example.com",
		"[::1]:25565":                  "::1",
		"":                             "",
		"\x00FML\x00":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeHostname(in), "NormalizeHostname(%q)", in)
	}
}

func TestLookupMissing(t *testing.T) {
	tbl := New(nil)
	_, ok := tbl.Lookup("nowhere.example.com")
	require.False(t, ok)
}

func TestUpsertThenLookup(t *testing.T) {
	tbl := New(nil)
	backend := netip.MustParseAddrPort("10.0.0.5:25577")

	require.NoError(t, tbl.Upsert("play.example.com", backend))

	got, ok := tbl.Lookup("play.example.com")
	require.True(t, ok)
	require.Equal(t, backend, got)

	// Decode-side spellings of the same host resolve to the same entry.
	got, ok = tbl.Lookup("PLAY.example.com.\x00FML\x00")
	require.True(t, ok)
	require.Equal(t, backend, got)
}

func TestUpsertLastWriteWins(t *testing.T) {
	tbl := New(nil)
	for i := 1; i <= 50; i++ {
		addr := netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), uint16(20000+i))
		require.NoError(t, tbl.Upsert("host", addr))
	}
	got, ok := tbl.Lookup("host")
	require.True(t, ok)
	require.Equal(t, uint16(20050), got.Port())
	require.Equal(t, 1, tbl.Len())
}

func TestUpsertRejectsInvalid(t *testing.T) {
	tbl := New(nil)
	require.ErrorIs(t, tbl.Upsert("", netip.MustParseAddrPort("10.0.0.1:1")), ErrInvalidRoute)
	require.ErrorIs(t, tbl.Upsert("\x00FML", netip.MustParseAddrPort("10.0.0.1:1")), ErrInvalidRoute)
	require.ErrorIs(t, tbl.Upsert("host", netip.AddrPort{}), ErrInvalidRoute)
	require.Equal(t, 0, tbl.Len())
}

func TestUpsertAllReportsBadEntries(t *testing.T) {
	tbl := New(nil)
	n, err := tbl.UpsertAll(map[string]netip.AddrPort{
		"a.example.com": netip.MustParseAddrPort("10.0.0.1:25565"),
		"b.example.com": netip.MustParseAddrPort("10.0.0.2:25565"),
		"":              netip.MustParseAddrPort("10.0.0.3:25565"),
	})
	require.ErrorIs(t, err, ErrInvalidRoute)
	require.Equal(t, 2, n)
	require.Equal(t, 2, tbl.Len())
}

func TestNewNormalizesKeys(t *testing.T) {
	tbl := New(map[string]netip.AddrPort{"Lobby.Example.com": netip.MustParseAddrPort("192.0.2.1:25565")})
	_, ok := tbl.Lookup("lobby.example.com")
	require.True(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	tbl := New(nil)
	a := netip.MustParseAddrPort("10.0.0.1:25565")
	require.NoError(t, tbl.Upsert("a", a))

	snap := tbl.Snapshot()
	snap["b"] = a
	delete(snap, "a")

	_, ok := tbl.Lookup("a")
	require.True(t, ok, "mutating a snapshot must not touch the table")
	_, ok = tbl.Lookup("b")
	require.False(t, ok)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	tbl := New(nil)
	hosts := make([]string, 16)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("h%d.example.com", i)
		require.NoError(t, tbl.Upsert(hosts[i], netip.MustParseAddrPort("10.0.0.1:1")))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, h := range hosts {
					addr, ok := tbl.Lookup(h)
					if !ok || !addr.IsValid() {
						t.Errorf("lookup %s lost its route", h)
						return
					}
				}
				_ = tbl.Snapshot()
			}
		}()
	}

	var writers sync.WaitGroup
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 500; i++ {
				addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, byte(w), 1}), uint16(i+1))
				if err := tbl.Upsert(hosts[i%len(hosts)], addr); err != nil {
					t.Errorf("upsert: %v", err)
					return
				}
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	require.Equal(t, len(hosts), tbl.Len())

	// After the writers are done, a sequential upsert is observed as-is.
	final := netip.MustParseAddrPort("203.0.113.9:25565")
	require.NoError(t, tbl.Upsert(hosts[3], final))
	got, _ := tbl.Lookup(hosts[3])
	require.Equal(t, final, got)
}
