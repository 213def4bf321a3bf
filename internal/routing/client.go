package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"shiptrack/internal/domain"
	"shiptrack/pkg/cache"
	"shiptrack/pkg/logger"
	"shiptrack/pkg/metrics"
)

// client is the production Routing Client (C3): primary provider
// guarded by a circuit breaker, a single fallback attempt when the
// primary is unavailable, and a shared route cache keyed on
// (waypoints, profile).
type client struct {
	primary  Provider
	fallback Provider
	breaker  *gobreaker.CircuitBreaker
	store    cache.Cache
	ttl      time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// Config tunes the circuit breaker and per-request timeout.
type Config struct {
	Timeout          time.Duration
	CacheTTL         time.Duration
	BreakerThreshold uint32        // consecutive failures before opening
	BreakerInterval  time.Duration // rolling window reset
	BreakerTimeout   time.Duration // time spent open before a half-open probe
}

// DefaultConfig returns the client's default request timeout, route
// cache TTL and circuit-breaker settings.
func DefaultConfig() Config {
	return Config{
		Timeout:          DefaultTimeout,
		CacheTTL:         10 * time.Minute,
		BreakerThreshold: 5,
		BreakerInterval:  60 * time.Second,
		BreakerTimeout:   30 * time.Second,
	}
}

// NewClient builds a Routing Client against a primary and fallback
// Provider, sharing store for (waypoints, profile) caching.
func NewClient(primary, fallback Provider, store cache.Cache, cfg Config, m *metrics.Metrics) Client {
	if cfg.Timeout <= 0 {
		cfg = DefaultConfig()
	}

	settings := gobreaker.Settings{
		Name:        "routing." + primary.Name(),
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Log.Warn("routing circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if m != nil {
				m.SetRoutingCircuitState(name, breakerStateValue(to))
			}
		},
	}

	return &client{
		primary:  primary,
		fallback: fallback,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		store:    store,
		ttl:      cfg.CacheTTL,
		timeout:  cfg.Timeout,
		metrics:  m,
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func profileKey(p Profile) string {
	return fmt.Sprintf("%s:h%.2f:w%.2f:t%.1f:hz%t:tolls%t", p.Costing, p.HeightM, p.WidthM, p.WeightTons, p.HazmatAllowed, p.AvoidTolls)
}

func (c *client) routeCacheKey(waypoints []domain.Coordinate, profile Profile) string {
	return cache.BuildRouteKey(cache.WaypointsHash(toWaypoints(waypoints)), profileKey(profile))
}

// Route requests a single best route, preferring a cached result,
// then the breaker-guarded primary provider, then the fallback.
func (c *client) Route(ctx context.Context, waypoints []domain.Coordinate, profile Profile) (*domain.Route, error) {
	key := c.routeCacheKey(waypoints, profile)
	if route, ok := c.getCachedRoute(ctx, key); ok {
		return route, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (any, error) {
		return c.primary.Route(ctx, waypoints, profile)
	})
	var route *domain.Route
	if err != nil {
		logger.Log.Warn("primary routing provider failed, attempting fallback", "error", err, "provider", c.primary.Name())
		route, err = c.fallback.Route(ctx, waypoints, profile)
		if err != nil {
			return nil, errAllProvidersFailed(err)
		}
		route.Source = "fallback"
	} else {
		route = out.(*domain.Route)
		route.Source = "primary"
	}

	if route.ID == uuid.Nil {
		route.ID = uuid.New()
	}
	c.setCachedRoute(ctx, key, route)
	return route, nil
}

// Alternatives requests up to k candidate routes, used by the Reroute
// Evaluator (C8) to compare against the active route.
func (c *client) Alternatives(ctx context.Context, waypoints []domain.Coordinate, profile Profile, k int) ([]*domain.Route, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (any, error) {
		return c.primary.Alternatives(ctx, waypoints, profile, k)
	})
	var routes []*domain.Route
	if err != nil {
		logger.Log.Warn("primary routing provider failed alternatives, attempting fallback", "error", err, "provider", c.primary.Name())
		routes, err = c.fallback.Alternatives(ctx, waypoints, profile, k)
		if err != nil {
			return nil, errAllProvidersFailed(err)
		}
		for _, r := range routes {
			r.Source = "fallback"
		}
	} else {
		routes = out.([]*domain.Route)
		for _, r := range routes {
			r.Source = "primary"
		}
	}
	for _, r := range routes {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
	}
	return routes, nil
}

// Snap projects a raw coordinate onto the nearest routable edge.
func (c *client) Snap(ctx context.Context, point domain.Coordinate) (domain.Coordinate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (any, error) {
		return c.primary.Snap(ctx, point)
	})
	if err != nil {
		snapped, ferr := c.fallback.Snap(ctx, point)
		if ferr != nil {
			return domain.Coordinate{}, errAllProvidersFailed(ferr)
		}
		return snapped, nil
	}
	return out.(domain.Coordinate), nil
}

// cachedRouteEnvelope is the JSON shape stored under the Cache
// interface directly; RouteCache's CachedRoute summary shape is too
// lossy to round-trip a full domain.Route (it drops segments and
// costing profile), so the routing client reuses only its key-hashing
// helpers (WaypointsHash, BuildRouteKey) and manages its own envelope.
type cachedRouteEnvelope struct {
	ID        uuid.UUID             `json:"id"`
	Polyline  []domain.Coordinate   `json:"polyline"`
	DistanceM float64               `json:"distance_m"`
	DurationS float64               `json:"duration_s"`
	Segments  []domain.RouteSegment `json:"segments"`
	Profile   Profile               `json:"profile"`
	Source    string                `json:"source"`
}

func (c *client) getCachedRoute(ctx context.Context, key string) (*domain.Route, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var env cachedRouteEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		_ = c.store.Delete(ctx, key)
		return nil, false
	}
	return &domain.Route{
		ID:        env.ID,
		Polyline:  env.Polyline,
		DistanceM: env.DistanceM,
		DurationS: env.DurationS,
		Segments:  env.Segments,
		Profile:   env.Profile,
		Source:    env.Source,
		CreatedAt: time.Now(),
	}, true
}

func (c *client) setCachedRoute(ctx context.Context, key string, route *domain.Route) {
	env := cachedRouteEnvelope{
		ID:        route.ID,
		Polyline:  route.Polyline,
		DistanceM: route.DistanceM,
		DurationS: route.DurationS,
		Segments:  route.Segments,
		Profile:   route.Profile,
		Source:    route.Source,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = c.store.Set(ctx, key, data, c.ttl)
}
