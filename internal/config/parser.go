package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const DefaultRegisterPort = 25565

// Duration wraps time.Duration so we can implement custom
// YAML and JSON (un)marshaling from a string like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var durationStr string
	if err := value.Decode(&durationStr); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(durationStr)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", durationStr, err)
	}
	d.Duration = parsed
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var durationStr string
	if err := json.Unmarshal(data, &durationStr); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(durationStr)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", durationStr, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalJSON writes the duration back in the same "5s" form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Config is the on-disk configuration. It is read at startup (YAML or JSON)
// and written back as JSON, with the live route table, at shutdown.
type Config struct {
	// Routes maps hostname to "ip:port".
	Routes         map[string]string `yaml:"routes"          json:"routes"`
	MinecraftProxy string            `yaml:"minecraft_proxy" json:"minecraft_proxy"`
	HTTPAPIServer  string            `yaml:"http_api_server" json:"http_api_server"`

	// RegisterPort is the backend port recorded for self-registrations.
	RegisterPort uint16 `yaml:"register_port" json:"register_port"`
	LogLevel     string `yaml:"log_level"     json:"log_level"`

	HandshakeTimeout Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	ConnectTimeout   Duration `yaml:"connect_timeout"   json:"connect_timeout"`
	ShutdownGrace    Duration `yaml:"shutdown_grace"    json:"shutdown_grace"`

	MaxPacketSize     int  `yaml:"max_packet_size"     json:"max_packet_size"`
	BufferSize        int  `yaml:"buffer_size"         json:"buffer_size"`
	MaxConnections    int  `yaml:"max_connections"     json:"max_connections"`
	ConnRateLimit     int  `yaml:"conn_rate_limit"     json:"conn_rate_limit"`
	SendProxyProtocol bool `yaml:"send_proxy_protocol" json:"send_proxy_protocol"`
	WatchConfig       bool `yaml:"watch_config"        json:"watch_config"`

	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
	Hooks []HookConfig `yaml:"hooks,omitempty" json:"hooks,omitempty"`

	// Path is where the config was loaded from; empty when it was built in code.
	Path string `yaml:"-" json:"-"`
}

// RedisConfig enables the Redis route mirror when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"     json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db"       json:"db"`
	Key      string `yaml:"key"      json:"key"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Routes:           map[string]string{},
		MinecraftProxy:   "[::]:25565",
		HTTPAPIServer:    "[::]:80",
		RegisterPort:     DefaultRegisterPort,
		LogLevel:         "info",
		HandshakeTimeout: Duration{5 * time.Second},
		ConnectTimeout:   Duration{5 * time.Second},
		ShutdownGrace:    Duration{5 * time.Second},
		MaxPacketSize:    4096,
		BufferSize:       1536,
	}
}

// applyDefaults fills fields the file set to their zero value.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Routes == nil {
		c.Routes = map[string]string{}
	}
	if c.MinecraftProxy == "" {
		c.MinecraftProxy = d.MinecraftProxy
	}
	if c.HTTPAPIServer == "" {
		c.HTTPAPIServer = d.HTTPAPIServer
	}
	if c.RegisterPort == 0 {
		c.RegisterPort = d.RegisterPort
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.HandshakeTimeout.Duration <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.ConnectTimeout.Duration <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ShutdownGrace.Duration < 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = d.MaxPacketSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.Redis != nil && c.Redis.Key == "" {
		c.Redis.Key = "craftrouter:routes"
	}
}

// LoadConfig reads path as YAML, falling back to JSON. A missing file is not
// an error: the defaults are returned with Path still set, so the routes can
// be written there on shutdown.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			zap.S().Warnf("Config file %q not found; using defaults", path)
			cfg := Default()
			cfg.Path = path
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	zap.S().Infof("Read config from %s", path)
	return cfg, nil
}

// Parse decodes a config document. Missing fields take their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	// Attempt YAML unmarshal first
	yamlErr := yaml.Unmarshal(data, cfg)
	if yamlErr != nil {
		// If YAML fails, we try JSON
		cfg = Default()
		jsonErr := json.Unmarshal(data, cfg)
		if jsonErr != nil {
			return nil, fmt.Errorf(
				"could not parse config as YAML or JSON. YAML error: %v; JSON error: %v",
				yamlErr, jsonErr,
			)
		}
	}

	cfg.applyDefaults()
	if _, err := cfg.ParseRoutes(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseRoutes converts the "ip:port" strings of Routes.
func (c *Config) ParseRoutes() (map[string]netip.AddrPort, error) {
	routes := make(map[string]netip.AddrPort, len(c.Routes))
	for host, addr := range c.Routes {
		ap, err := netip.ParseAddrPort(addr)
		if err != nil {
			return nil, fmt.Errorf("route %q: invalid backend address %q: %w", host, addr, err)
		}
		routes[host] = ap
	}
	return routes, nil
}

// WithRoutes returns a copy of c whose Routes are replaced by routes.
func (c *Config) WithRoutes(routes map[string]netip.AddrPort) *Config {
	out := *c
	out.Routes = make(map[string]string, len(routes))
	for host, addr := range routes {
		out.Routes[host] = addr.String()
	}
	return &out
}
