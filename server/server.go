package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/netutil"

	"github.com/Suhaibinator/CraftRouter/internal/api"
	"github.com/Suhaibinator/CraftRouter/internal/config"
	"github.com/Suhaibinator/CraftRouter/internal/mcproto"
	"github.com/Suhaibinator/CraftRouter/internal/metrics"
	"github.com/Suhaibinator/CraftRouter/internal/persist"
	"github.com/Suhaibinator/CraftRouter/internal/proxy"
	"github.com/Suhaibinator/CraftRouter/internal/relay"
	"github.com/Suhaibinator/CraftRouter/internal/routing"
	"github.com/Suhaibinator/CraftRouter/internal/store"
)

// parseLogLevel tries to parse the user-provided level string into a zapcore.Level.
func parseLogLevel(levelStr string) zapcore.Level {
	if levelStr == "" {
		return zapcore.InfoLevel
	}

	lvl, err := zapcore.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		fmt.Printf("Unknown log level %q; defaulting to INFO\n", levelStr)
		return zapcore.InfoLevel
	}
	log.Printf("Log level set to %s\n", lvl)
	return lvl
}

// Server owns the routing table and everything that shares it: the proxy
// listener, the control-plane API and the persistence step run at shutdown.
type Server struct {
	cfg   *config.Config
	table *routing.Table

	proxy   *proxy.Proxy
	api     *http.Server
	proxyLn net.Listener
	apiLn   net.Listener

	persist    *persist.Manager
	fileWriter *config.FileWriter
	redis      *store.RedisStore

	proxyDone chan struct{}
}

// New loads the initial routes, binds both listeners and wires the
// components together. Nothing is served until Serve is called.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg, table: routing.New(nil), proxyDone: make(chan struct{})}

	var writers []persist.Writer
	if cfg.Path != "" {
		s.fileWriter = config.NewFileWriter(cfg.Path, cfg)
		writers = append(writers, s.fileWriter)
	}

	// Redis first: the config file is the primary copy and wins on conflicts.
	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		rs, err := store.NewRedisStore(ctx, &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Key)
		if err != nil {
			return nil, err
		}
		s.redis = rs
		writers = append(writers, rs)

		routes, err := rs.LoadRoutes(ctx)
		s.mergeStoreRoutes(rs, routes, err)
	}

	routes, err := cfg.ParseRoutes()
	if err != nil {
		s.closeStore()
		return nil, err
	}
	if _, err := s.table.UpsertAll(routes); err != nil {
		s.closeStore()
		return nil, fmt.Errorf("invalid route in config: %w", err)
	}
	metrics.Routes.Set(float64(s.table.Len()))

	plan, err := cfg.ResolveHooks()
	if err != nil {
		s.closeStore()
		return nil, err
	}

	reader := &mcproto.HandshakeReader{
		MaxPacketSize: cfg.MaxPacketSize,
		Timeout:       cfg.HandshakeTimeout.Duration,
	}
	fwd := &relay.Relay{
		ConnectTimeout:    cfg.ConnectTimeout.Duration,
		BufferSize:        cfg.BufferSize,
		SendProxyProtocol: cfg.SendProxyProtocol,
	}
	s.proxy = proxy.New(s.table, reader, fwd,
		proxy.WithConnectionHooks(plan.Connection),
		proxy.WithAcceptRateLimit(cfg.ConnRateLimit),
	)
	s.api = &http.Server{
		Handler:           api.NewHandler(s.table, cfg.RegisterPort, plan.Route),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.persist = persist.NewManager(s.table, writers...)

	s.proxyLn, err = net.Listen("tcp", cfg.MinecraftProxy)
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("error listening on %s: %w", cfg.MinecraftProxy, err)
	}
	if cfg.MaxConnections > 0 {
		s.proxyLn = netutil.LimitListener(s.proxyLn, cfg.MaxConnections)
	}

	s.apiLn, err = net.Listen("tcp", cfg.HTTPAPIServer)
	if err != nil {
		_ = s.proxyLn.Close()
		s.closeStore()
		return nil, fmt.Errorf("error listening on %s: %w", cfg.HTTPAPIServer, err)
	}
	return s, nil
}

func (s *Server) ProxyAddr() net.Addr { return s.proxyLn.Addr() }

func (s *Server) APIAddr() net.Addr { return s.apiLn.Addr() }

// Table is the live routing table.
func (s *Server) Table() *routing.Table { return s.table }

// Serve runs until ctx is cancelled or a listener fails. On the way out it
// stops accepting, stops the API, persists the table and then gives open
// sessions up to the configured grace period to finish.
func (s *Server) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		defer close(s.proxyDone)
		zap.S().Infof("Proxy listening on %s", s.proxyLn.Addr())
		if err := s.proxy.Serve(runCtx, s.proxyLn); err != nil {
			errCh <- fmt.Errorf("proxy listener: %w", err)
		}
	}()
	go func() {
		zap.S().Infof("API listening on %s", s.apiLn.Addr())
		if err := s.api.Serve(s.apiLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api listener: %w", err)
		}
	}()

	if s.cfg.WatchConfig && s.cfg.Path != "" {
		go func() {
			if err := config.Watch(runCtx, s.cfg.Path, s.reload); err != nil {
				zap.S().Errorf("Config watcher stopped: %v", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		zap.S().Infof("Shutting down")
	case runErr = <-errCh:
		zap.S().Errorf("Shutting down: %v", runErr)
	}
	cancel()
	// No session may start once shutdown begins waiting on them.
	<-s.proxyDone
	s.shutdown()
	return runErr
}

func (s *Server) shutdown() {
	grace := s.cfg.ShutdownGrace.Duration

	apiCtx, apiCancel := context.WithTimeout(context.Background(), grace+time.Second)
	if err := s.api.Shutdown(apiCtx); err != nil {
		zap.S().Warnf("API shutdown: %v", err)
	}
	apiCancel()

	// Persistence failures are logged by the manager and never block exit.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = s.persist.Shutdown(persistCtx)
	persistCancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), grace)
	if err := s.proxy.Wait(waitCtx); err != nil {
		zap.S().Warnf("Sessions still open after %v; leaving them", grace)
	}
	waitCancel()

	s.closeStore()
}

// reload merges routes from a changed config file. Routes absent from the
// file are kept: removal is not something the file can express.
func (s *Server) reload(cfg *config.Config) {
	routes, err := cfg.ParseRoutes()
	if err != nil {
		zap.S().Errorf("Ignoring reloaded config: %v", err)
		return
	}
	n, err := s.table.UpsertAll(routes)
	if err != nil {
		zap.S().Warnf("Reloaded config had invalid routes: %v", err)
	}
	// Settings edited in the file must survive the write at shutdown.
	if s.fileWriter != nil {
		s.fileWriter.SetBase(cfg)
	}
	metrics.Routes.Set(float64(s.table.Len()))
	zap.S().Infof("Reloaded %d routes from %s", n, cfg.Path)
}

// mergeStoreRoutes applies routes loaded from a store. A nil map with an
// error means the load itself failed and nothing is applied.
func (s *Server) mergeStoreRoutes(src fmt.Stringer, routes map[string]netip.AddrPort, err error) int {
	if routes == nil && err != nil {
		zap.S().Warnf("Loading routes from %s: %v", src, err)
		return 0
	}
	if err != nil {
		zap.S().Warnf("Skipped routes from %s: %v", src, err)
	}
	n, uerr := s.table.UpsertAll(routes)
	if uerr != nil {
		zap.S().Warnf("Invalid routes from %s: %v", src, uerr)
	}
	zap.S().Infof("Loaded %d routes from %s", n, src)
	return n
}

func (s *Server) closeStore() {
	if s.redis == nil {
		return
	}
	if err := s.redis.Close(); err != nil {
		zap.S().Debugf("Closing redis: %v", err)
	}
	s.redis = nil
}

// RunWithConfigFile loads the configuration from the provided path and starts
// CraftRouter. The call blocks until the provided context is cancelled or an error occurs.
func RunWithConfigFile(ctx context.Context, configFilePath string) error {
	cfg, err := config.LoadConfig(configFilePath)
	if err != nil {
		return err
	}
	return Run(ctx, cfg)
}

// Run builds CraftRouter from the supplied configuration and serves traffic until the
// context is cancelled or a fatal error occurs.
func Run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	lvl := parseLogLevel(cfg.LogLevel)

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zapCfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	srv, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	zap.S().Infof("CraftRouter started with %d routes (log level: %s)", srv.table.Len(), lvl.String())
	return srv.Serve(ctx)
}
