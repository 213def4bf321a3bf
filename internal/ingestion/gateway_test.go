package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"shiptrack/internal/classifier"
	"shiptrack/internal/clock"
	"shiptrack/internal/domain"
	"shiptrack/internal/eta"
	"shiptrack/internal/repository"
	"shiptrack/internal/reroute"
	"shiptrack/internal/routing"
	"shiptrack/internal/shipment"
	"shiptrack/internal/snapper"
	"shiptrack/pkg/config"
)

type noopRoutingClient struct{}

func (noopRoutingClient) Route(_ context.Context, _ []domain.Coordinate, _ routing.Profile) (*domain.Route, error) {
	return nil, nil
}

func (noopRoutingClient) Alternatives(_ context.Context, _ []domain.Coordinate, _ routing.Profile, _ int) ([]*domain.Route, error) {
	return nil, nil
}

func (noopRoutingClient) Snap(_ context.Context, point domain.Coordinate) (domain.Coordinate, error) {
	return point, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(_ context.Context, _ uuid.UUID, _ shipment.Event) {}

func straightRoute(id uuid.UUID) *domain.Route {
	return &domain.Route{
		ID:        id,
		Polyline:  []domain.Coordinate{{Lat: 30.0, Lon: -95.0}, {Lat: 31.0, Lon: -95.0}},
		DistanceM: 111195,
		DurationS: 4005,
		Segments:  []domain.RouteSegment{{StartFraction: 0, EndFraction: 1, LengthM: 111195, FreeFlowKPH: 100}},
	}
}

func seedShipment(repo *repository.Memory, vehicleID string, now time.Time) *domain.Shipment {
	shipmentID := uuid.New()
	routeID := uuid.New()
	route := straightRoute(routeID)
	stop := domain.Stop{ID: uuid.New(), ShipmentID: shipmentID, Sequence: 1, Lat: 31.0, Lon: -95.0}
	sh := &domain.Shipment{
		ID:            shipmentID,
		Reference:     "REF-GW-1",
		VehicleID:     vehicleID,
		Stops:         []domain.Stop{stop},
		PromisedAt:    now.Add(2 * time.Hour),
		Status:        domain.ShipmentPending,
		ActiveRouteID: routeID,
	}
	repo.SeedShipment(sh, route)
	return sh
}

func testPool(repo *repository.Memory, clk clock.Clock) *shipment.Pool {
	client := noopRoutingClient{}
	depsFn := func() shipment.Deps {
		return shipment.Deps{
			Repo:       repo,
			Routing:    client,
			Snapper:    snapper.New(snapper.DefaultConfig()),
			ETA:        eta.New(config.ETAConfig{Alpha: 0.3, ConfidenceHighDevMin: 5, ConfidenceLowDevMin: 15}, config.DwellConfig{RadiusM: 80, StoppedSpeedKPH: 5, MinDwellDuration: 60 * time.Second}, clk),
			Classifier: classifier.New(config.ClassifierConfig{}),
			Reroute:    reroute.New(config.RerouteConfig{}, repo, client, clk),
			Publisher:  noopPublisher{},
			Clock:      clk,
		}
	}
	return shipment.NewPool(repo, depsFn, shipment.Config{InboxCapacity: 4})
}

func validPayload(vehicleID string, at time.Time) PositionPayload {
	return PositionPayload{
		VehicleID:  vehicleID,
		Timestamp:  at,
		Lat:        30.0,
		Lon:        -95.0,
		SpeedKPH:   90,
		AccuracyM:  10,
		Provenance: "gps",
	}
}

func TestGateway_IngestAcceptsValidPositionForKnownVehicle(t *testing.T) {
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Now())
	seedShipment(repo, "veh-1", clk.Now())
	pool := testPool(repo, clk)
	defer pool.Shutdown()

	gw := New(repo, pool, Config{MaxAccuracyM: 50, MaxAge: 24 * time.Hour}, nil)

	if err := gw.Ingest(context.Background(), validPayload("veh-1", clk.Now())); err != nil {
		t.Fatalf("expected ingest to succeed, got %v", err)
	}
}

func TestGateway_IngestRejectsMissingRequiredFields(t *testing.T) {
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Now())
	pool := testPool(repo, clk)
	defer pool.Shutdown()

	gw := New(repo, pool, Config{}, nil)

	payload := validPayload("veh-1", clk.Now())
	payload.AccuracyM = 0
	if err := gw.Ingest(context.Background(), payload); err == nil {
		t.Fatal("expected validation to reject a zero accuracy")
	}
}

func TestGateway_IngestRejectsStaleTimestamp(t *testing.T) {
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Now())
	seedShipment(repo, "veh-1", clk.Now())
	pool := testPool(repo, clk)
	defer pool.Shutdown()

	gw := New(repo, pool, Config{MaxAccuracyM: 50, MaxAge: time.Hour}, nil)

	payload := validPayload("veh-1", clk.Now().Add(-2*time.Hour))
	if err := gw.Ingest(context.Background(), payload); err == nil {
		t.Fatal("expected a stale timestamp to be rejected")
	}
}

func TestGateway_IngestRejectsInaccurateFix(t *testing.T) {
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Now())
	seedShipment(repo, "veh-1", clk.Now())
	pool := testPool(repo, clk)
	defer pool.Shutdown()

	gw := New(repo, pool, Config{MaxAccuracyM: 20, MaxAge: 24 * time.Hour}, nil)

	payload := validPayload("veh-1", clk.Now())
	payload.AccuracyM = 500
	if err := gw.Ingest(context.Background(), payload); err == nil {
		t.Fatal("expected a coarse fix to be rejected")
	}
}

func TestGateway_IngestRejectsUnknownVehicle(t *testing.T) {
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Now())
	pool := testPool(repo, clk)
	defer pool.Shutdown()

	gw := New(repo, pool, Config{MaxAccuracyM: 50, MaxAge: 24 * time.Hour}, nil)

	if err := gw.Ingest(context.Background(), validPayload("no-such-vehicle", clk.Now())); err == nil {
		t.Fatal("expected an unknown vehicle to be rejected")
	}
}
