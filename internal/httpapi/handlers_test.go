package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"shiptrack/internal/classifier"
	"shiptrack/internal/clock"
	"shiptrack/internal/domain"
	"shiptrack/internal/eta"
	"shiptrack/internal/hub"
	"shiptrack/internal/ingestion"
	"shiptrack/internal/repository"
	"shiptrack/internal/reroute"
	"shiptrack/internal/routing"
	"shiptrack/internal/shipment"
	"shiptrack/internal/snapper"
	"shiptrack/pkg/config"
)

type passthroughRoutingClient struct{}

func (passthroughRoutingClient) Route(_ context.Context, _ []domain.Coordinate, _ routing.Profile) (*domain.Route, error) {
	return nil, nil
}

func (passthroughRoutingClient) Alternatives(_ context.Context, _ []domain.Coordinate, _ routing.Profile, _ int) ([]*domain.Route, error) {
	return nil, nil
}

func (passthroughRoutingClient) Snap(_ context.Context, point domain.Coordinate) (domain.Coordinate, error) {
	return point, nil
}

func straightRoute(id uuid.UUID) *domain.Route {
	return &domain.Route{
		ID:        id,
		Polyline:  []domain.Coordinate{{Lat: 30.0, Lon: -95.0}, {Lat: 31.0, Lon: -95.0}},
		DistanceM: 111195,
		DurationS: 4005,
		Segments:  []domain.RouteSegment{{StartFraction: 0, EndFraction: 1, LengthM: 111195, FreeFlowKPH: 100}},
	}
}

func seedShipment(repo *repository.Memory, now time.Time) *domain.Shipment {
	shipmentID := uuid.New()
	routeID := uuid.New()
	route := straightRoute(routeID)
	stop := domain.Stop{ID: uuid.New(), ShipmentID: shipmentID, Sequence: 1, Lat: 31.0, Lon: -95.0}
	sh := &domain.Shipment{
		ID:            shipmentID,
		Reference:     "REF-API-1",
		VehicleID:     "veh-api-1",
		Stops:         []domain.Stop{stop},
		PromisedAt:    now.Add(2 * time.Hour),
		Status:        domain.ShipmentPending,
		ActiveRouteID: routeID,
	}
	repo.SeedShipment(sh, route)
	return sh
}

func testAPI(t *testing.T, repo *repository.Memory, clk clock.Clock) *API {
	t.Helper()
	client := passthroughRoutingClient{}
	depsFn := func() shipment.Deps {
		return shipment.Deps{
			Repo:       repo,
			Routing:    client,
			Snapper:    snapper.New(snapper.DefaultConfig()),
			ETA:        eta.New(config.ETAConfig{Alpha: 0.3, ConfidenceHighDevMin: 5, ConfidenceLowDevMin: 15}, config.DwellConfig{RadiusM: 80, StoppedSpeedKPH: 5, MinDwellDuration: 60 * time.Second}, clk),
			Classifier: classifier.New(config.ClassifierConfig{}),
			Reroute:    reroute.New(config.RerouteConfig{}, repo, client, clk),
			Publisher:  nil,
			Clock:      clk,
		}
	}
	pool := shipment.NewPool(repo, depsFn, shipment.Config{InboxCapacity: 4})
	t.Cleanup(pool.Shutdown)

	gw := ingestion.New(repo, pool, ingestion.Config{MaxAccuracyM: 50, MaxAge: 24 * time.Hour}, nil)
	h := hub.New(8, nil)
	api := New(repo, pool, gw, h)
	return api
}

func TestAPI_GetShipmentReturnsSeededShipment(t *testing.T) {
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Now())
	sh := seedShipment(repo, clk.Now())
	api := testAPI(t, repo, clk)

	req := httptest.NewRequest(http.MethodGet, "/v1/shipments/"+sh.Reference, nil)
	rec := httptest.NewRecorder()
	router := NewRouter(api, config.CORSConfig{}, nil, nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got domain.Shipment
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != sh.ID {
		t.Fatalf("expected shipment %s, got %s", sh.ID, got.ID)
	}
}

func TestAPI_GetShipmentUnknownReferenceReturns404(t *testing.T) {
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Now())
	api := testAPI(t, repo, clk)

	req := httptest.NewRequest(http.MethodGet, "/v1/shipments/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router := NewRouter(api, config.CORSConfig{}, nil, nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAPI_IngestPositionAcceptsValidReport(t *testing.T) {
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Now())
	sh := seedShipment(repo, clk.Now())
	api := testAPI(t, repo, clk)
	router := NewRouter(api, config.CORSConfig{}, nil, nil)

	payload := map[string]any{
		"vehicle_id":  sh.VehicleID,
		"timestamp":   clk.Now().Format(time.RFC3339),
		"lat":         30.0,
		"lon":         -95.0,
		"speed_kph":   90,
		"accuracy_m":  10,
		"provenance":  "gps",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/v1/positions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_IngestPositionRejectsUnknownVehicle(t *testing.T) {
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Now())
	api := testAPI(t, repo, clk)
	router := NewRouter(api, config.CORSConfig{}, nil, nil)

	payload := map[string]any{
		"vehicle_id":  "ghost-vehicle",
		"timestamp":   clk.Now().Format(time.RFC3339),
		"lat":         30.0,
		"lon":         -95.0,
		"speed_kph":   90,
		"accuracy_m":  10,
		"provenance":  "gps",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/v1/positions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code == http.StatusAccepted {
		t.Fatal("expected an unknown vehicle to be rejected")
	}
}

func TestAPI_RejectRerouteMarksRerouteRejected(t *testing.T) {
	repo := repository.NewMemory()
	clk := clock.NewFake(time.Now())
	sh := seedShipment(repo, clk.Now())
	api := testAPI(t, repo, clk)
	router := NewRouter(api, config.CORSConfig{}, nil, nil)

	rr := &domain.Reroute{
		ID:         uuid.New(),
		ShipmentID: sh.ID,
		OldRouteID: sh.ActiveRouteID,
		NewRouteID: uuid.New(),
		Status:     domain.RerouteProposed,
		CreatedAt:  clk.Now(),
	}
	if err := repo.InsertReroute(context.Background(), rr); err != nil {
		t.Fatalf("failed to seed reroute: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/reroutes/"+rr.ID.String()+"/reject", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	updated, err := repo.GetReroute(context.Background(), rr.ID)
	if err != nil {
		t.Fatalf("failed to reload reroute: %v", err)
	}
	if updated.Status != domain.RerouteRejected {
		t.Fatalf("expected reroute to be rejected, got %s", updated.Status)
	}
}
