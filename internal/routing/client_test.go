package routing

import (
	"context"
	"errors"
	"testing"

	"shiptrack/internal/domain"
	"shiptrack/pkg/apperror"
	"shiptrack/pkg/cache"
)

type fakeProvider struct {
	name       string
	routeErr   error
	route      *domain.Route
	altsErr    error
	alts       []*domain.Route
	snapErr    error
	snap       domain.Coordinate
	routeCalls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Route(_ context.Context, _ []domain.Coordinate, _ Profile) (*domain.Route, error) {
	f.routeCalls++
	if f.routeErr != nil {
		return nil, f.routeErr
	}
	cp := *f.route
	return &cp, nil
}

func (f *fakeProvider) Alternatives(_ context.Context, _ []domain.Coordinate, _ Profile, _ int) ([]*domain.Route, error) {
	if f.altsErr != nil {
		return nil, f.altsErr
	}
	return f.alts, nil
}

func (f *fakeProvider) Snap(_ context.Context, _ domain.Coordinate) (domain.Coordinate, error) {
	if f.snapErr != nil {
		return domain.Coordinate{}, f.snapErr
	}
	return f.snap, nil
}

func newTestCache() cache.Cache {
	return cache.NewMemoryCache(cache.DefaultOptions())
}

var testWaypoints = []domain.Coordinate{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}

func TestClient_Route_PrimarySuccess(t *testing.T) {
	primary := &fakeProvider{name: "primary", route: &domain.Route{DistanceM: 100, DurationS: 60}}
	fallback := &fakeProvider{name: "fallback"}

	c := NewClient(primary, fallback, newTestCache(), DefaultConfig(), nil)
	route, err := c.Route(context.Background(), testWaypoints, Profile{Costing: "truck"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.Source != "primary" {
		t.Errorf("expected source primary, got %s", route.Source)
	}
}

func TestClient_Route_CacheHit(t *testing.T) {
	primary := &fakeProvider{name: "primary", route: &domain.Route{DistanceM: 100, DurationS: 60}}
	fallback := &fakeProvider{name: "fallback"}

	c := NewClient(primary, fallback, newTestCache(), DefaultConfig(), nil)
	profile := Profile{Costing: "truck"}

	if _, err := c.Route(context.Background(), testWaypoints, profile); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Route(context.Background(), testWaypoints, profile); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.routeCalls != 1 {
		t.Errorf("expected primary to be called once due to caching, got %d", primary.routeCalls)
	}
}

func TestClient_Route_FallsBackOnPrimaryFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", routeErr: errors.New("boom")}
	fallback := &fakeProvider{name: "fallback", route: &domain.Route{DistanceM: 200, DurationS: 120}}

	c := NewClient(primary, fallback, newTestCache(), DefaultConfig(), nil)
	route, err := c.Route(context.Background(), testWaypoints, Profile{Costing: "truck"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.Source != "fallback" {
		t.Errorf("expected source fallback, got %s", route.Source)
	}
}

func TestClient_Route_BothProvidersFail(t *testing.T) {
	primary := &fakeProvider{name: "primary", routeErr: errors.New("primary down")}
	fallback := &fakeProvider{name: "fallback", routeErr: errors.New("fallback down")}

	c := NewClient(primary, fallback, newTestCache(), DefaultConfig(), nil)
	_, err := c.Route(context.Background(), testWaypoints, Profile{Costing: "truck"})
	if !apperror.Is(err, apperror.CodeRoutingUnavailable) {
		t.Errorf("expected CodeRoutingUnavailable, got %v", err)
	}
}

func TestClient_Snap_FallsBackOnPrimaryFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", snapErr: errors.New("boom")}
	fallback := &fakeProvider{name: "fallback", snap: domain.Coordinate{Lat: 5, Lon: 6}}

	c := NewClient(primary, fallback, newTestCache(), DefaultConfig(), nil)
	got, err := c.Snap(context.Background(), domain.Coordinate{Lat: 5.0001, Lon: 6.0001})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != fallback.snap {
		t.Errorf("expected fallback snap result, got %+v", got)
	}
}
