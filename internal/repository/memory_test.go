package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"shiptrack/internal/domain"
	"shiptrack/pkg/apperror"
)

func seedBasicShipment(m *Memory) (*domain.Shipment, *domain.Route) {
	shipmentID := uuid.New()
	oldRouteID := uuid.New()
	shipment := &domain.Shipment{
		ID:        shipmentID,
		Reference: "REF-1",
		VehicleID: "veh-1",
		Status:    domain.ShipmentInTransit,
		Stops: []domain.Stop{
			{ID: uuid.New(), ShipmentID: shipmentID, Sequence: 1},
			{ID: uuid.New(), ShipmentID: shipmentID, Sequence: 2},
		},
	}
	route := &domain.Route{ID: oldRouteID}
	m.SeedShipment(shipment, route)
	return shipment, route
}

func TestMemory_GetShipmentByID(t *testing.T) {
	m := NewMemory()
	shipment, _ := seedBasicShipment(m)

	got, err := m.GetShipmentByID(context.Background(), shipment.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Reference != "REF-1" {
		t.Errorf("expected reference REF-1, got %s", got.Reference)
	}
	if len(got.Stops) != 2 {
		t.Errorf("expected 2 stops, got %d", len(got.Stops))
	}
}

func TestMemory_GetShipmentByID_NotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetShipmentByID(context.Background(), uuid.New())
	if !apperror.Is(err, apperror.CodeShipmentNotFound) {
		t.Errorf("expected CodeShipmentNotFound, got %v", err)
	}
}

func TestMemory_AppendPositions_Idempotent(t *testing.T) {
	m := NewMemory()
	ts := time.Now()
	points := []domain.SnappedPoint{
		{Position: domain.Position{VehicleID: "veh-1", Timestamp: ts}},
	}

	n, err := m.AppendPositions(context.Background(), "veh-1", points)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 inserted, got %d, err %v", n, err)
	}

	n, err = m.AppendPositions(context.Background(), "veh-1", points)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 inserted on duplicate, got %d, err %v", n, err)
	}
}

func TestMemory_ReplaceActiveRouteWithReroute(t *testing.T) {
	m := NewMemory()
	shipment, oldRoute := seedBasicShipment(m)

	newRouteID := uuid.New()
	reroute := &domain.Reroute{
		ID:         uuid.New(),
		ShipmentID: shipment.ID,
		OldRouteID: oldRoute.ID,
		NewRouteID: newRouteID,
		Status:     domain.RerouteProposed,
	}
	if err := m.InsertReroute(context.Background(), reroute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.ReplaceActiveRouteWithReroute(context.Background(), shipment.ID, reroute.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := m.GetShipmentByID(context.Background(), shipment.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ActiveRouteID != newRouteID {
		t.Errorf("expected active route %v, got %v", newRouteID, got.ActiveRouteID)
	}

	updated, err := m.GetReroute(context.Background(), reroute.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != domain.RerouteAccepted {
		t.Errorf("expected reroute status accepted, got %s", updated.Status)
	}
}

func TestMemory_InsertReroute_SupersedesPrevious(t *testing.T) {
	m := NewMemory()
	shipment, _ := seedBasicShipment(m)

	first := &domain.Reroute{ID: uuid.New(), ShipmentID: shipment.ID, Status: domain.RerouteProposed}
	second := &domain.Reroute{ID: uuid.New(), ShipmentID: shipment.ID, Status: domain.RerouteProposed}

	if err := m.InsertReroute(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.InsertReroute(context.Background(), second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := m.GetReroute(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.RerouteExpired {
		t.Errorf("expected first proposal expired, got %s", got.Status)
	}

	proposed, err := m.GetProposedReroute(context.Background(), shipment.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proposed.ID != second.ID {
		t.Errorf("expected second proposal to be the active one")
	}
}

func TestMemory_UpsertAdvisory_Supersedes(t *testing.T) {
	m := NewMemory()
	shipment, _ := seedBasicShipment(m)

	first := &domain.Advisory{ID: uuid.New(), ShipmentID: shipment.ID, Reason: domain.ReasonOnTime}
	second := &domain.Advisory{ID: uuid.New(), ShipmentID: shipment.ID, Reason: domain.ReasonTrafficCongestion}

	if err := m.UpsertAdvisory(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpsertAdvisory(context.Background(), second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := m.GetActiveAdvisory(context.Background(), shipment.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Reason != domain.ReasonTrafficCongestion {
		t.Errorf("expected the second advisory to be active, got %s", got.Reason)
	}
}

func TestMemory_InsertEvent(t *testing.T) {
	m := NewMemory()
	shipment, _ := seedBasicShipment(m)

	err := m.InsertEvent(context.Background(), shipment.ID, EventPositionUpdate, map[string]any{"ok": true}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := m.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventPositionUpdate {
		t.Errorf("expected EventPositionUpdate, got %s", events[0].Type)
	}
}
