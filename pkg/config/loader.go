// pkg/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "TRACKER_"
	configEnvVar = "CONFIG_PATH"
)

// Loader loads configuration from multiple sources.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/shiptrack/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths sets the list of paths searched for a config file.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load loads configuration with the following priority, lowest to highest:
// 1. Defaults
// 2. Config file (yaml)
// 3. Environment variables
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, just warn.
		fmt.Printf("Warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults loads baseline default values.
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "shiptrack",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,

		// HTTP
		"http.port":                   8080,
		"http.read_timeout":           30 * time.Second,
		"http.write_timeout":          30 * time.Second,
		"http.shutdown_timeout":       10 * time.Second,
		"http.cors.enabled":           true,
		"http.cors.allowed_origins":   []string{"*"},
		"http.cors.allowed_methods":   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		"http.cors.allowed_headers":   []string{"*"},
		"http.cors.allow_credentials": false,
		"http.cors.max_age":           86400,

		// Log
		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		// Metrics
		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "shiptrack",
		"metrics.subsystem": "",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "shiptrack",
		"tracing.sample_rate":  0.1,

		// Services - Routing
		"services.routing_primary.host":              "localhost",
		"services.routing_primary.port":               5601,
		"services.routing_primary.timeout":            5 * time.Second,
		"services.routing_primary.max_retries":        2,
		"services.routing_primary.retry_backoff":      100 * time.Millisecond,
		"services.routing_primary.health_check_path":  "/health",
		"services.routing_fallback.host":              "localhost",
		"services.routing_fallback.port":               5602,
		"services.routing_fallback.timeout":            5 * time.Second,
		"services.routing_fallback.max_retries":        2,
		"services.routing_fallback.retry_backoff":      100 * time.Millisecond,
		"services.routing_fallback.health_check_path":  "/health",

		// Services - Traffic and Weather signal providers
		"services.traffic.host":         "localhost",
		"services.traffic.port":         5603,
		"services.traffic.timeout":      3 * time.Second,
		"services.traffic.max_retries":  1,
		"services.weather.host":         "localhost",
		"services.weather.port":         5604,
		"services.weather.timeout":      3 * time.Second,
		"services.weather.max_retries":  1,

		// Database
		"database.driver":             "postgres",
		"database.host":               "localhost",
		"database.port":               5432,
		"database.database":           "shiptrack",
		"database.username":           "postgres",
		"database.password":           "",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,
		"database.auto_migrate":       true,
		"database.migrations_path":    "migrations",

		// Cache
		"cache.enabled":     true,
		"cache.driver":      "memory",
		"cache.host":        "localhost",
		"cache.port":        6379,
		"cache.db":          0,
		"cache.default_ttl": 5 * time.Minute,
		"cache.max_entries": 10000,
		"cache.weather_ttl_min": 10 * time.Minute,
		"cache.traffic_ttl_min": 2 * time.Minute,

		// Rate Limit
		"rate_limit.enabled":          true,
		"rate_limit.requests":         200,
		"rate_limit.window":           time.Minute,
		"rate_limit.strategy":         "token_bucket",
		"rate_limit.backend":          "memory",
		"rate_limit.burst_size":       50,
		"rate_limit.cleanup_interval": 5 * time.Minute,

		// Event bus (optional Kafka mirror alongside the in-process hub)
		"event_bus.enabled": false,
		"event_bus.brokers": []string{"localhost:9092"},
		"event_bus.topic":   "shipment-events",

		// Audit
		"audit.enabled":      true,
		"audit.backend":      "stdout",
		"audit.buffer_size":  1000,
		"audit.flush_period": 5 * time.Second,

		// Retry
		"retry.max_attempts":       3,
		"retry.initial_backoff":    100 * time.Millisecond,
		"retry.max_backoff":        10 * time.Second,
		"retry.backoff_multiplier": 2.0,

		// Position intake (C5 gate)
		"position.max_accuracy_m": 50.0,
		"position.max_age":        2 * time.Minute,

		// Road snapping (C5)
		"snap.max_cross_track_m":        60.0,
		"snap.min_progress_tolerance_m": 20.0,
		"snap.speed_smoothing_alpha":    0.3,

		// ETA estimation (C6)
		"eta.alpha":                  0.3,
		"eta.confidence_high_dev_min": 5.0,
		"eta.confidence_low_dev_min":  15.0,

		// Dwell detection (C6)
		"dwell.radius_m":           80.0,
		"dwell.stopped_speed_kph":  5.0,
		"dwell.min_dwell_duration": 60 * time.Second,

		// Delay classification (C7)
		"classifier.min_score":                     0.4,
		"classifier.lateness_threshold_min":         10.0,
		"classifier.lookahead_min":                  15.0,
		"classifier.congestion_speed_factor_max":    0.6,
		"classifier.weather_precip_threshold_mmh":   2.5,
		"classifier.hos_ceiling":                    11 * time.Hour,
		"classifier.hos_warning_window":             time.Hour,
		"classifier.vehicle_issue_lookback":         30 * time.Minute,
		"classifier.off_route_rejection_streak":     3,

		// Reroute evaluation (C8)
		"reroute.min_saving_min":              10.0,
		"reroute.proposal_ttl_min":             15 * time.Minute,
		"reroute.detour_distance_penalty_pct":  20.0,
		"reroute.detour_penalty_min_per_pct":   0.5,
		"reroute.alternatives":                 3,

		// Ingestion-to-actor and actor write-behind queueing (C9/C10)
		"queue.per_shipment_capacity":             64,
		"queue.storage_degraded_buffer_capacity":  200,

		// Subscription hub (C11)
		"subscriber.buffer": 32,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile loads configuration from a YAML file.
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv loads configuration from environment variables.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		// TRACKER_HTTP_PORT -> http.port
		return strings.ReplaceAll(
			strings.ToLower(
				strings.TrimPrefix(s, l.envPrefix),
			),
			"_", ".",
		)
	}), nil)
}

// MustLoad loads configuration or panics.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load is a convenience function that loads configuration with default settings.
func Load() (*Config, error) {
	return NewLoader().Load()
}

// LoadWithServiceDefaults loads configuration and overrides the app name
// with the given service name if it was left at its default value.
func LoadWithServiceDefaults(serviceName string, defaultHTTPPort int) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if cfg.HTTP.Port == 8080 && defaultHTTPPort != 0 {
		cfg.HTTP.Port = defaultHTTPPort
	}

	if cfg.App.Name == "shiptrack" && serviceName != "" {
		cfg.App.Name = serviceName
	}

	return cfg, nil
}
