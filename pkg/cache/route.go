package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RouteCache stores CachedRoute summaries keyed by the requested
// waypoints and profile. The routing client does not use it; it keeps
// its own route envelope directly in a Cache.
type RouteCache struct {
	cache      Cache
	defaultTTL time.Duration
}

// CachedRoute is the cached shape of a routing provider response.
type CachedRoute struct {
	DistanceM  float64          `json:"distance_m"`
	DurationS  float64          `json:"duration_s"`
	Polyline   string           `json:"polyline"`
	Legs       []CachedRouteLeg `json:"legs,omitempty"`
	Provider   string           `json:"provider"`
	ComputedAt time.Time        `json:"computed_at"`
}

// CachedRouteLeg is one stop-to-stop leg of a cached route.
type CachedRouteLeg struct {
	FromStopID string  `json:"from_stop_id"`
	ToStopID   string  `json:"to_stop_id"`
	DistanceM  float64 `json:"distance_m"`
	DurationS  float64 `json:"duration_s"`
}

// NewRouteCache creates a cache for routing provider results.
func NewRouteCache(cache Cache, defaultTTL time.Duration) *RouteCache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &RouteCache{
		cache:      cache,
		defaultTTL: defaultTTL,
	}
}

// Get returns the cached route for a waypoint set and profile, if present.
func (rc *RouteCache) Get(ctx context.Context, waypoints []Waypoint, profile string) (*CachedRoute, bool, error) {
	key := BuildRouteKey(WaypointsHash(waypoints), profile)

	data, err := rc.cache.Get(ctx, key)
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	var route CachedRoute
	if err := json.Unmarshal(data, &route); err != nil {
		// corrupt cache entry, drop it and treat as a miss
		_ = rc.cache.Delete(ctx, key) //nolint:errcheck // best effort cleanup
		return nil, false, nil
	}

	return &route, true, nil
}

// Set stores a route result for a waypoint set and profile.
func (rc *RouteCache) Set(ctx context.Context, waypoints []Waypoint, profile string, route *CachedRoute, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}

	key := BuildRouteKey(WaypointsHash(waypoints), profile)
	route.ComputedAt = time.Now()

	data, err := json.Marshal(route)
	if err != nil {
		return err
	}

	return rc.cache.Set(ctx, key, data, ttl)
}

// Invalidate removes every cached profile variant for a waypoint set.
func (rc *RouteCache) Invalidate(ctx context.Context, waypoints []Waypoint) error {
	hash := WaypointsHash(waypoints)
	pattern := fmt.Sprintf("route:*:%s", hash)
	_, err := rc.cache.DeleteByPattern(ctx, pattern)
	return err
}

// InvalidateAll removes every cached route.
func (rc *RouteCache) InvalidateAll(ctx context.Context) (int64, error) {
	return rc.cache.DeleteByPattern(ctx, "route:*")
}
