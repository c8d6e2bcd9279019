// Package config manages wlanpolicyd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete wlanpolicyd configuration.
type Config struct {
	GRPC    GRPCConfig    `koanf:"grpc"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Client  ClientConfig  `koanf:"client"`
	DBus    DBusConfig    `koanf:"dbus"`
}

// GRPCConfig holds the ConnectRPC health/status server configuration.
type GRPCConfig struct {
	// Addr is the listen address (e.g., ":8080").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// ClientConfig holds the default client connection-core parameters. These
// mirror the constants in internal/wlan/session.go and
// internal/wlan/quality.go; the defaults here match those constants.
type ClientConfig struct {
	// MaxConnectionAttempts is the number of connect attempts before a
	// network is abandoned for the current connect cycle.
	MaxConnectionAttempts int `koanf:"max_connection_attempts"`

	// ConnectRetryBaseDelay is the base used in the linear connect-retry
	// backoff: delay = base * (failedAttempt + 1).
	ConnectRetryBaseDelay time.Duration `koanf:"connect_retry_base_delay"`

	// ConnectivityMonitorMinInterval is the fastest polling interval used
	// while a connection's signal quality is below the RSSI floor.
	ConnectivityMonitorMinInterval time.Duration `koanf:"connectivity_monitor_min_interval"`

	// ConnectivityMonitorMaxInterval is the slowest polling interval used
	// while signal quality stays above the RSSI floor.
	ConnectivityMonitorMaxInterval time.Duration `koanf:"connectivity_monitor_max_interval"`

	// ConnectivityMonitorRSSIFloor is the RSSI (dBm) boundary between the
	// fast and slow polling regimes.
	ConnectivityMonitorRSSIFloor int `koanf:"connectivity_monitor_rssi_floor"`

	// RoamScanMinInterval is the minimum time between roam-motivated scans
	// for a single BSS.
	RoamScanMinInterval time.Duration `koanf:"roam_scan_min_interval"`
}

// DBusConfig holds the D-Bus bus names used to reach the SME and
// PhyManager services.
type DBusConfig struct {
	// System selects the system bus when true, the session bus otherwise.
	// Production deployments always use the system bus; tests use a
	// private connection and ignore this field.
	System bool `koanf:"system"`

	// SMEBusName is the well-known D-Bus name exporting the SME interface.
	SMEBusName string `koanf:"sme_bus_name"`

	// PhyBusName is the well-known D-Bus name exporting the PhyManager
	// interface.
	PhyBusName string `koanf:"phy_bus_name"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. The
// client defaults match the compiled-in constants in internal/wlan so
// an unconfigured daemon behaves exactly like the tested package
// defaults.
func DefaultConfig() *Config {
	return &Config{
		GRPC: GRPCConfig{
			Addr: ":8080",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Client: ClientConfig{
			MaxConnectionAttempts:          4,
			ConnectRetryBaseDelay:          400 * time.Millisecond,
			ConnectivityMonitorMinInterval: 1 * time.Second,
			ConnectivityMonitorMaxInterval: 10 * time.Second,
			ConnectivityMonitorRSSIFloor:   -75,
			RoamScanMinInterval:            5 * time.Minute,
		},
		DBus: DBusConfig{
			System:     true,
			SMEBusName: "net.openwlan.SME",
			PhyBusName: "net.openwlan.PhyManager",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for wlanpolicyd configuration.
// Variables are named WLANPOLICYD_<section>_<key>, e.g., WLANPOLICYD_GRPC_ADDR.
const envPrefix = "WLANPOLICYD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (WLANPOLICYD_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	WLANPOLICYD_GRPC_ADDR                       -> grpc.addr
//	WLANPOLICYD_METRICS_ADDR                    -> metrics.addr
//	WLANPOLICYD_METRICS_PATH                    -> metrics.path
//	WLANPOLICYD_LOG_LEVEL                       -> log.level
//	WLANPOLICYD_LOG_FORMAT                      -> log.format
//	WLANPOLICYD_CLIENT_MAX_CONNECTION_ATTEMPTS  -> client.max_connection_attempts
//	WLANPOLICYD_DBUS_SME_BUS_NAME                -> dbus.sme_bus_name
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms WLANPOLICYD_GRPC_ADDR -> grpc.addr.
// Strips the WLANPOLICYD_ prefix, lowercases, and replaces the first _
// (the section separator) with ., so keys keep their own underscores:
// WLANPOLICYD_DBUS_SME_BUS_NAME -> dbus.sme_bus_name.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"grpc.addr":                                 defaults.GRPC.Addr,
		"metrics.addr":                              defaults.Metrics.Addr,
		"metrics.path":                              defaults.Metrics.Path,
		"log.level":                                 defaults.Log.Level,
		"log.format":                                defaults.Log.Format,
		"client.max_connection_attempts":            defaults.Client.MaxConnectionAttempts,
		"client.connect_retry_base_delay":           defaults.Client.ConnectRetryBaseDelay.String(),
		"client.connectivity_monitor_min_interval":  defaults.Client.ConnectivityMonitorMinInterval.String(),
		"client.connectivity_monitor_max_interval":  defaults.Client.ConnectivityMonitorMaxInterval.String(),
		"client.connectivity_monitor_rssi_floor":    defaults.Client.ConnectivityMonitorRSSIFloor,
		"client.roam_scan_min_interval":             defaults.Client.RoamScanMinInterval.String(),
		"dbus.system":                               defaults.DBus.System,
		"dbus.sme_bus_name":                         defaults.DBus.SMEBusName,
		"dbus.phy_bus_name":                         defaults.DBus.PhyBusName,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyGRPCAddr indicates the status-surface listen address is empty.
	ErrEmptyGRPCAddr = errors.New("grpc.addr must not be empty")

	// ErrInvalidMaxConnectionAttempts indicates the attempt budget is < 1.
	ErrInvalidMaxConnectionAttempts = errors.New("client.max_connection_attempts must be >= 1")

	// ErrInvalidConnectRetryBaseDelay indicates the retry base delay is <= 0.
	ErrInvalidConnectRetryBaseDelay = errors.New("client.connect_retry_base_delay must be > 0")

	// ErrInvalidMonitorIntervals indicates the monitor min interval does not
	// come strictly before the max interval.
	ErrInvalidMonitorIntervals = errors.New("client.connectivity_monitor_min_interval must be < max_interval")

	// ErrEmptyDBusBusName indicates a required D-Bus bus name is empty.
	ErrEmptyDBusBusName = errors.New("dbus bus name must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.GRPC.Addr == "" {
		return ErrEmptyGRPCAddr
	}

	if cfg.Client.MaxConnectionAttempts < 1 {
		return ErrInvalidMaxConnectionAttempts
	}

	if cfg.Client.ConnectRetryBaseDelay <= 0 {
		return ErrInvalidConnectRetryBaseDelay
	}

	if cfg.Client.ConnectivityMonitorMinInterval >= cfg.Client.ConnectivityMonitorMaxInterval {
		return ErrInvalidMonitorIntervals
	}

	if cfg.DBus.SMEBusName == "" || cfg.DBus.PhyBusName == "" {
		return ErrEmptyDBusBusName
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
