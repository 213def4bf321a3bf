// Command trackingd is the entrypoint for the real-time shipment
// tracking service: it wires the Ingestion Gateway, the per-shipment
// actor pool, and the Subscription Hub behind a chi-routed HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shiptrack/internal/classifier"
	"shiptrack/internal/clock"
	"shiptrack/internal/eta"
	"shiptrack/internal/httpapi"
	"shiptrack/internal/hub"
	"shiptrack/internal/ingestion"
	"shiptrack/internal/repository"
	"shiptrack/internal/reroute"
	"shiptrack/internal/routing"
	"shiptrack/internal/shipment"
	"shiptrack/internal/signals"
	"shiptrack/internal/snapper"
	"shiptrack/pkg/audit"
	"shiptrack/pkg/cache"
	"shiptrack/pkg/config"
	"shiptrack/pkg/database"
	"shiptrack/pkg/logger"
	"shiptrack/pkg/metrics"
	"shiptrack/pkg/ratelimit"
	"shiptrack/pkg/telemetry"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("trackingd", 8080)
	if err != nil {
		logger.Init("error")
		logger.Fatal("failed to load config", "error", err)
	}

	logger.InitWithConfig(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})

	logger.Info("starting trackingd",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	m.SetServiceInfo(cfg.App.Version, cfg.App.Environment)

	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatal("failed to init telemetry", "error", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "error", err)
		}
	}()

	repo, closeRepo, err := buildRepository(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize repository", "error", err)
	}
	defer closeRepo()

	clk := clock.NewSystem()

	routingClient := buildRoutingClient(cfg, m)
	trafficSource, weatherSource := buildSignalSources(cfg)

	snap := snapper.New(snapper.Config{
		MaxAccuracyM:          cfg.Position.MaxAccuracyM,
		MaxCrossTrackM:        cfg.Snap.MaxCrossTrackM,
		MinProgressToleranceM: cfg.Snap.MinProgressToleranceM,
		SpeedSmoothingAlpha:   cfg.Snap.SpeedSmoothingAlpha,
	})
	etaEstimator := eta.New(cfg.ETA, cfg.Dwell, clk)
	classifierEngine := classifier.New(cfg.Classifier)
	rerouteEvaluator := reroute.New(cfg.Reroute, repo, routingClient, clk)

	h := hub.New(hub.BufferFromApp(*cfg), m)

	var publisher shipment.Publisher = h
	if cfg.EventBus.Enabled {
		kafkaPub := hub.NewKafkaPublisher(cfg.EventBus.Brokers, cfg.EventBus.Topic)
		defer kafkaPub.Close()
		publisher = hub.NewMultiPublisher(h, kafkaPub)
	}

	auditLogger := buildAuditLogger(cfg)
	defer auditLogger.Close()

	depsFn := func() shipment.Deps {
		return shipment.Deps{
			Repo:       repo,
			Routing:    routingClient,
			Snapper:    snap,
			ETA:        etaEstimator,
			Classifier: classifierEngine,
			Reroute:    rerouteEvaluator,
			Traffic:    trafficSource,
			Weather:    weatherSource,
			Publisher:  publisher,
			Clock:      clk,
			Metrics:    m,
			Audit:      auditLogger,
		}
	}
	pool := shipment.NewPool(repo, depsFn, shipment.ConfigFromApp(*cfg))
	defer pool.Shutdown()

	gw := ingestion.New(repo, pool, ingestion.ConfigFromApp(*cfg), m)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter, err = ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Strategy:        cfg.RateLimit.Strategy,
			Backend:         cfg.RateLimit.Backend,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.RateLimit.RedisAddr,
		})
		if err != nil {
			logger.Warn("failed to create rate limiter, proceeding without one", "error", err)
			limiter = nil
		}
	}

	api := httpapi.New(repo, pool, gw, h)
	router := httpapi.NewRouter(api, cfg.HTTP.CORS, limiter, m)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info("trackingd listening", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownTimeout := cfg.HTTP.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// buildRepository wires a Postgres-backed repository when a database
// driver is configured, running embedded migrations first; absent a
// driver it falls back to the in-memory repository, useful for local
// development and the test fixtures this binary is not used by.
func buildRepository(ctx context.Context, cfg *config.Config) (repository.Repository, func(), error) {
	if cfg.Database.Driver == "" {
		logger.Warn("no database driver configured, using in-memory repository")
		return repository.NewMemory(), func() {}, nil
	}

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, repository.MigrationsFS(), repository.MigrationsDir); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return repository.NewPostgres(db), db.Close, nil
}

// buildAuditLogger constructs the append-only audit backend C9 writes
// to alongside the repository's event log.
func buildAuditLogger(cfg *config.Config) audit.Logger {
	l, err := audit.New(&audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Backend:     cfg.Audit.Backend,
		FilePath:    cfg.Audit.FilePath,
		BufferSize:  cfg.Audit.BufferSize,
		FlushPeriod: cfg.Audit.FlushPeriod,
	})
	if err != nil {
		logger.Warn("failed to create audit logger, falling back to stdout", "error", err)
		return audit.NewStdoutLogger(audit.DefaultConfig())
	}
	return l
}

func buildRoutingClient(cfg *config.Config, m *metrics.Metrics) routing.Client {
	primary := routing.NewHTTPProvider("primary", cfg.Services.RoutingPrimary)
	var fallback routing.Provider
	if cfg.Services.RoutingFallback.Host != "" {
		fallback = routing.NewHTTPProvider("fallback", cfg.Services.RoutingFallback)
	}

	routeCache, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		logger.Warn("failed to build routing cache, proceeding without caching", "error", err)
		routeCache = nil
	}

	routingCfg := routing.DefaultConfig()
	return routing.NewClient(primary, fallback, routeCache, routingCfg, m)
}

func buildSignalSources(cfg *config.Config) (*signals.TrafficSource, *signals.WeatherSource) {
	signalCache, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		logger.Warn("failed to build signal cache, proceeding without caching", "error", err)
		signalCache = nil
	}

	trafficProvider := signals.NewHTTPTrafficProvider(cfg.Services.Traffic)
	weatherProvider := signals.NewHTTPWeatherProvider(cfg.Services.Weather)

	traffic := signals.NewTrafficSource(trafficProvider, signalCache, cfg.Cache.TrafficTTL)
	weather := signals.NewWeatherSource(weatherProvider, signalCache, cfg.Cache.WeatherTTL)
	return traffic, weather
}
