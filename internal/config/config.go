package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	CacheBackendBolt = "bolt"
	CacheBackendFile = "file"
)

// Config represents configuration data for the connectivity service.
type Config struct {
	ServerURL     string       `yaml:"server_url"`
	ListenAddr    string       `yaml:"listen_addr"`
	DataDirectory string       `yaml:"data_directory"`
	LogLevel      string       `yaml:"log_level"`
	LogFormat     string       `yaml:"log_format"`
	Cache         Cache        `yaml:"cache"`
	Probe         Probe        `yaml:"probe"`
	Connectivity  Connectivity `yaml:"connectivity"`
	API           API          `yaml:"api"`
}

// Cache selects the state cache backend.
type Cache struct {
	Backend string `yaml:"backend"`
}

// Probe configures reachability checks.
type Probe struct {
	TimeoutSeconds             int    `yaml:"timeout_seconds"`
	HealthPath                 string `yaml:"health_path"`
	InternetTarget             string `yaml:"internet_target"`
	InterfacePollSeconds       int    `yaml:"interface_poll_seconds"`
	HealthCheckIntervalSeconds int    `yaml:"health_check_interval_seconds"`
	HistorySize                int    `yaml:"history_size"`
}

// Connectivity holds the thresholds of the connectivity manager. It is
// immutable for the lifetime of one manager.
type Connectivity struct {
	GracePeriodHours                   int `yaml:"grace_period_hours"`
	ReconnectIntervalSeconds           int `yaml:"reconnect_interval_seconds"`
	MaxReconnectAttempts               int `yaml:"max_reconnect_attempts"`
	PartialDegradationThresholdMinutes int `yaml:"partial_degradation_threshold_minutes"`
}

// API configures the HTTP surface.
type API struct {
	ReconnectRatePerMinute int `yaml:"reconnect_rate_per_minute"`
}

// DefaultConnectivity returns the stock thresholds.
func DefaultConnectivity() Connectivity {
	return Connectivity{
		GracePeriodHours:                   72,
		ReconnectIntervalSeconds:           30,
		MaxReconnectAttempts:               10,
		PartialDegradationThresholdMinutes: 60,
	}
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		ServerURL:     "http://127.0.0.1:8080",
		ListenAddr:    "127.0.0.1:8091",
		DataDirectory: filepath.Join(".dist", "data"),
		LogLevel:      "info",
		LogFormat:     "text",
		Cache:         Cache{Backend: CacheBackendBolt},
		Probe: Probe{
			TimeoutSeconds:             4,
			HealthPath:                 "/api/health",
			InternetTarget:             "1.1.1.1:53",
			InterfacePollSeconds:       5,
			HealthCheckIntervalSeconds: 60,
			HistorySize:                2048,
		},
		Connectivity: DefaultConnectivity(),
		API:          API{ReconnectRatePerMinute: 6},
	}
}

// Load reads configuration from yaml file. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if strings.TrimSpace(c.ServerURL) == "" {
		c.ServerURL = def.ServerURL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.DataDirectory == "" {
		c.DataDirectory = def.DataDirectory
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = def.Cache.Backend
	}
	if c.Probe.TimeoutSeconds == 0 {
		c.Probe.TimeoutSeconds = def.Probe.TimeoutSeconds
	}
	if c.Probe.HealthPath == "" {
		c.Probe.HealthPath = def.Probe.HealthPath
	}
	if c.Probe.InterfacePollSeconds == 0 {
		c.Probe.InterfacePollSeconds = def.Probe.InterfacePollSeconds
	}
	if c.Probe.HealthCheckIntervalSeconds == 0 {
		c.Probe.HealthCheckIntervalSeconds = def.Probe.HealthCheckIntervalSeconds
	}
	if c.Probe.HistorySize == 0 {
		c.Probe.HistorySize = def.Probe.HistorySize
	}
	if c.API.ReconnectRatePerMinute == 0 {
		c.API.ReconnectRatePerMinute = def.API.ReconnectRatePerMinute
	}
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("%w: server_url must be an http(s) URL, got %q", ErrInvalid, c.ServerURL)
	}
	switch c.Cache.Backend {
	case CacheBackendBolt, CacheBackendFile:
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalid, c.Cache.Backend)
	}
	if c.Probe.TimeoutSeconds < 1 || c.Probe.TimeoutSeconds > 30 {
		return fmt.Errorf("%w: probe timeout_seconds must be within 1..30", ErrInvalid)
	}
	if !strings.HasPrefix(c.Probe.HealthPath, "/") {
		return fmt.Errorf("%w: probe health_path must start with /", ErrInvalid)
	}
	if c.Probe.InterfacePollSeconds < 0 || c.Probe.HealthCheckIntervalSeconds < 0 {
		return fmt.Errorf("%w: probe intervals must not be negative", ErrInvalid)
	}
	if c.Probe.HistorySize < 0 {
		return fmt.Errorf("%w: probe history_size must not be negative", ErrInvalid)
	}
	if c.API.ReconnectRatePerMinute < 0 {
		return fmt.Errorf("%w: api reconnect_rate_per_minute must not be negative", ErrInvalid)
	}
	return c.Connectivity.Validate()
}

// Validate fails fast on thresholds the connectivity manager cannot honour.
func (c Connectivity) Validate() error {
	if c.GracePeriodHours <= 0 {
		return fmt.Errorf("%w: grace_period_hours must be positive, got %d", ErrInvalid, c.GracePeriodHours)
	}
	if c.ReconnectIntervalSeconds <= 0 {
		return fmt.Errorf("%w: reconnect_interval_seconds must be positive, got %d", ErrInvalid, c.ReconnectIntervalSeconds)
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("%w: max_reconnect_attempts must be positive, got %d", ErrInvalid, c.MaxReconnectAttempts)
	}
	if c.PartialDegradationThresholdMinutes < 0 {
		return fmt.Errorf("%w: partial_degradation_threshold_minutes must not be negative, got %d", ErrInvalid, c.PartialDegradationThresholdMinutes)
	}
	return nil
}

// ReconnectInterval is the reconnection tick as a duration.
func (c Connectivity) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalSeconds) * time.Second
}

// Timeout is the bound applied to a single probe.
func (p Probe) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// HealthCheckInterval is the routine health tick while online. Zero disables it.
func (p Probe) HealthCheckInterval() time.Duration {
	return time.Duration(p.HealthCheckIntervalSeconds) * time.Second
}

// InterfacePollInterval is the OS signal polling interval.
func (p Probe) InterfacePollInterval() time.Duration {
	return time.Duration(p.InterfacePollSeconds) * time.Second
}

// HealthURL joins the server URL with the health path.
func (c Config) HealthURL() string {
	return strings.TrimSuffix(c.ServerURL, "/") + c.Probe.HealthPath
}

// CachePath returns the state cache file for the configured backend.
func (c Config) CachePath() string {
	if c.Cache.Backend == CacheBackendFile {
		return filepath.Join(c.DataDirectory, "state_cache.json")
	}
	return filepath.Join(c.DataDirectory, "state_cache.db")
}

// ProbeLogPath returns the probe history file.
func (c Config) ProbeLogPath() string {
	return filepath.Join(c.DataDirectory, "probe_history.json")
}
