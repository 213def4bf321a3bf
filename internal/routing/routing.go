// Package routing wraps the external route-planning provider behind a
// narrow Client interface, with request caching, a circuit breaker
// around the primary provider, and a single fallback attempt.
package routing

import (
	"context"
	"time"

	"shiptrack/internal/domain"
	"shiptrack/pkg/apperror"
	"shiptrack/pkg/cache"
)

// Profile is an alias of domain.CostingProfile used as the routing
// request shape, so callers never need to construct a domain.Route to
// issue a request.
type Profile = domain.CostingProfile

// Provider is one upstream routing backend (primary or fallback).
type Provider interface {
	Route(ctx context.Context, waypoints []domain.Coordinate, profile Profile) (*domain.Route, error)
	Alternatives(ctx context.Context, waypoints []domain.Coordinate, profile Profile, k int) ([]*domain.Route, error)
	Snap(ctx context.Context, point domain.Coordinate) (domain.Coordinate, error)
	Name() string
}

// Client is the Routing Client consumed by the rest of the tracking
// engine. It never exposes which provider served a given request.
type Client interface {
	Route(ctx context.Context, waypoints []domain.Coordinate, profile Profile) (*domain.Route, error)
	Alternatives(ctx context.Context, waypoints []domain.Coordinate, profile Profile, k int) ([]*domain.Route, error)
	Snap(ctx context.Context, point domain.Coordinate) (domain.Coordinate, error)
}

func toWaypoints(coords []domain.Coordinate) []cache.Waypoint {
	out := make([]cache.Waypoint, len(coords))
	for i, c := range coords {
		out[i] = cache.Waypoint{Lat: c.Lat, Lon: c.Lon}
	}
	return out
}

// errAllProvidersFailed wraps cause into the ROUTING_UNAVAILABLE
// apperror returned when neither the primary nor the fallback provider
// could serve a request.
func errAllProvidersFailed(cause error) error {
	return apperror.New(apperror.CodeRoutingUnavailable, "routing provider unavailable").
		WithSeverity(apperror.SeverityCritical).
		WithCause(cause)
}

// DefaultTimeout bounds a single provider round trip.
const DefaultTimeout = 10 * time.Second
