// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure for the tracking service.
type Config struct {
	App        AppConfig        `koanf:"app"`
	HTTP       HTTPConfig       `koanf:"http"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Tracing    TracingConfig    `koanf:"tracing"`
	Services   ServicesConfig   `koanf:"services"`
	Database   DatabaseConfig   `koanf:"database"`
	Cache      CacheConfig      `koanf:"cache"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Audit      AuditConfig      `koanf:"audit"`
	Retry      RetryConfig      `koanf:"retry"`
	Position   PositionConfig   `koanf:"position"`
	Snap       SnapConfig       `koanf:"snap"`
	ETA        ETAConfig        `koanf:"eta"`
	Dwell      DwellConfig      `koanf:"dwell"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Reroute    RerouteConfig    `koanf:"reroute"`
	Queue      QueueConfig      `koanf:"queue"`
	Subscriber SubscriberConfig `koanf:"subscriber"`
	EventBus   EventBusConfig   `koanf:"event_bus"`
}

// EventBusConfig holds the optional Kafka event-bus publisher settings
// C9/C11 use to mirror shipment events onto a broker for downstream
// consumers, alongside (not instead of) the in-process Subscription Hub.
type EventBusConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// HTTPConfig holds the settings of the external-facing HTTP server.
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORS            CORSConfig    `koanf:"cors"`
}

// CORSConfig holds cross-origin settings for the HTTP server.
type CORSConfig struct {
	Enabled          bool     `koanf:"enabled"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`   // path to the log file
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"` // number of rotated backups kept
	MaxAge     int    `koanf:"max_age"`     // days
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// ServicesConfig holds the addresses of collaborator services/providers.
type ServicesConfig struct {
	RoutingPrimary  ServiceEndpoint `koanf:"routing_primary"`
	RoutingFallback ServiceEndpoint `koanf:"routing_fallback"`
	Traffic         ServiceEndpoint `koanf:"traffic"`
	Weather         ServiceEndpoint `koanf:"weather"`
}

// ServiceEndpoint holds the connection configuration for an upstream service.
type ServiceEndpoint struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	MaxRetries      int           `koanf:"max_retries"`
	RetryBackoff    time.Duration `koanf:"retry_backoff"`
	TLS             bool          `koanf:"tls"`
	HealthCheckPath string        `koanf:"health_check_path"`
}

// Address returns the host:port address of the service.
func (s ServiceEndpoint) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"` // postgres
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	switch strings.ToLower(d.Driver) {
	case "postgres", "postgresql":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
		)
	default:
		return ""
	}
}

// CacheConfig holds caching settings shared by signal providers and the
// routing client.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"` // for the in-memory backend

	WeatherTTL time.Duration `koanf:"weather_ttl_min"`
	TrafficTTL time.Duration `koanf:"traffic_ttl_min"`
}

// Address returns the host:port address of the cache.
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateLimitConfig holds rate limiting settings for the ingestion gateway.
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	Strategy        string        `koanf:"strategy"`
	Backend         string        `koanf:"backend"`
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Backend         string        `koanf:"backend"`
	FilePath        string        `koanf:"file_path"`
	BufferSize      int           `koanf:"buffer_size"`
	FlushPeriod     time.Duration `koanf:"flush_period"`
	ExcludeMethods  []string      `koanf:"exclude_methods"`
	IncludeRequest  bool          `koanf:"include_request"`
	IncludeResponse bool          `koanf:"include_response"`
}

// RetryConfig holds retry settings for collaborator calls.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// PositionConfig governs position intake validation (C5 Road Snapper input gate).
type PositionConfig struct {
	MaxAccuracyM   float64       `koanf:"max_accuracy_m"`
	MaxAgeDuration time.Duration `koanf:"max_age"`
}

// SnapConfig governs road-snapping tolerances (C5).
type SnapConfig struct {
	MaxCrossTrackM        float64 `koanf:"max_cross_track_m"`
	MinProgressToleranceM float64 `koanf:"min_progress_tolerance_m"`
	SpeedSmoothingAlpha   float64 `koanf:"speed_smoothing_alpha"`
}

// ETAConfig governs ETA smoothing and confidence bucketing (C6).
type ETAConfig struct {
	Alpha                float64 `koanf:"alpha"`
	ConfidenceHighDevMin float64 `koanf:"confidence_high_dev_min"`
	ConfidenceLowDevMin  float64 `koanf:"confidence_low_dev_min"`
}

// DwellConfig governs arrival/departure detection at a stop (C6).
type DwellConfig struct {
	RadiusM          float64       `koanf:"radius_m"`
	StoppedSpeedKPH  float64       `koanf:"stopped_speed_kph"`
	MinDwellDuration time.Duration `koanf:"min_dwell_duration"`
}

// ClassifierConfig governs delay-cause scoring thresholds (C7).
type ClassifierConfig struct {
	MinScore                  float64       `koanf:"min_score"`
	LatenessThresholdMin       float64       `koanf:"lateness_threshold_min"`
	LookaheadMin               float64       `koanf:"lookahead_min"`
	CongestionSpeedFactorMax   float64       `koanf:"congestion_speed_factor_max"`
	WeatherPrecipThresholdMMH  float64       `koanf:"weather_precip_threshold_mmh"`
	HOSCeiling                 time.Duration `koanf:"hos_ceiling"`
	HOSWarningWindow           time.Duration `koanf:"hos_warning_window"`
	VehicleIssueLookback       time.Duration `koanf:"vehicle_issue_lookback"`
	OffRouteRejectionStreak    int           `koanf:"off_route_rejection_streak"`
}

// RerouteConfig governs reroute proposal thresholds and lifecycle (C8).
type RerouteConfig struct {
	MinSavingMin              float64       `koanf:"min_saving_min"`
	ProposalTTLMin            time.Duration `koanf:"proposal_ttl_min"`
	DetourDistancePenaltyPct  float64       `koanf:"detour_distance_penalty_pct"`
	DetourPenaltyMinPerPct    float64       `koanf:"detour_penalty_min_per_pct"`
	Alternatives              int           `koanf:"alternatives"`
}

// QueueConfig governs per-shipment queueing in the Ingestion Gateway
// (C10) and the Shipment Actor's storage-degraded write-behind buffer
// (C9).
type QueueConfig struct {
	PerShipmentCapacity           int `koanf:"per_shipment_capacity"`
	StorageDegradedBufferCapacity int `koanf:"storage_degraded_buffer_capacity"`
}

// SubscriberConfig governs per-session outbound buffering in the hub (C11).
type SubscriberConfig struct {
	Buffer int `koanf:"buffer"`
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.ETA.Alpha <= 0 || c.ETA.Alpha > 1 {
		errs = append(errs, fmt.Sprintf("eta.alpha must be in (0, 1], got %f", c.ETA.Alpha))
	}

	if c.Queue.PerShipmentCapacity <= 0 {
		errs = append(errs, "queue.per_shipment_capacity must be positive")
	}

	if c.Subscriber.Buffer <= 0 {
		errs = append(errs, "subscriber.buffer must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the configured environment is development.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
