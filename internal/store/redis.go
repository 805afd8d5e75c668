// Package store mirrors the routing table into Redis so several routers, or
// a router on a fresh host, can start from the same routes.
package store

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

// RedisStore keeps routes in a single Redis hash: field = hostname,
// value = "ip:port".
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects and pings the server before returning.
func NewRedisStore(ctx context.Context, opts *redis.Options, key string) (*RedisStore, error) {
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: rdb, key: key}, nil
}

// LoadRoutes returns every route in the hash. Entries that do not parse are
// skipped and reported in the error alongside the routes that did.
func (s *RedisStore) LoadRoutes(ctx context.Context) (map[string]netip.AddrPort, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}
	return decodeRoutes(raw)
}

// WriteRoutes merges routes into the hash. Hostnames absent from routes are
// left alone; routes are only ever overwritten, never dropped.
func (s *RedisStore) WriteRoutes(ctx context.Context, routes map[string]netip.AddrPort) error {
	if len(routes) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, s.key, encodeRoutes(routes)).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) String() string {
	return "redis hash " + s.key
}

func encodeRoutes(routes map[string]netip.AddrPort) map[string]any {
	out := make(map[string]any, len(routes))
	for host, addr := range routes {
		out[host] = addr.String()
	}
	return out
}

func decodeRoutes(raw map[string]string) (map[string]netip.AddrPort, error) {
	routes := make(map[string]netip.AddrPort, len(raw))
	var err error
	for host, value := range raw {
		addr, perr := netip.ParseAddrPort(value)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("route %q: %w", host, perr))
			continue
		}
		routes[host] = addr
	}
	return routes, err
}
