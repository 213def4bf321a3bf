// Package repository defines the narrow persistence contract the
// tracking engine uses for shipments, stops, positions, routes,
// reroutes, events, and advisories, with both a Postgres-backed and an
// in-memory implementation.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"shiptrack/internal/domain"
)

// EventType enumerates the append-only event log's event names.
type EventType string

const (
	EventPositionUpdate  EventType = "position_update"
	EventRerouteSuggested EventType = "reroute_suggested"
	EventRerouteAccepted EventType = "reroute_accepted"
	EventAdvisoryChanged EventType = "advisory_changed"
	EventStorageDegraded EventType = "storage_degraded"
)

// Repository is the persistence contract consumed by the tracking
// engine. All single-entity operations are atomic; multi-entity
// operations are named explicitly and documented as such.
type Repository interface {
	GetShipmentByID(ctx context.Context, id uuid.UUID) (*domain.Shipment, error)
	GetShipmentByReference(ctx context.Context, reference string) (*domain.Shipment, error)
	// GetActiveShipmentByVehicle resolves the single active (pending or
	// in_transit) shipment currently assigned to a vehicle, for the
	// Ingestion Gateway's position-to-shipment routing step.
	GetActiveShipmentByVehicle(ctx context.Context, vehicleID string) (*domain.Shipment, error)
	ListActiveShipments(ctx context.Context) ([]*domain.Shipment, error)

	// AppendPositions persists snapped points and is idempotent per
	// (vehicle_id, timestamp); it returns the count actually inserted.
	AppendPositions(ctx context.Context, vehicleID string, points []domain.SnappedPoint) (int, error)

	GetStops(ctx context.Context, shipmentID uuid.UUID) ([]domain.Stop, error)
	UpdateStopActual(ctx context.Context, stopID uuid.UUID, arrival, departure *time.Time, completed bool) error

	GetActiveRoute(ctx context.Context, shipmentID uuid.UUID) (*domain.Route, error)
	// InsertRoute persists a Route so it can be referenced by a Reroute's
	// old/new route ids.
	InsertRoute(ctx context.Context, route *domain.Route) error
	// ReplaceActiveRouteWithReroute atomically swaps a shipment's active
	// route for the reroute's new route and marks the reroute accepted.
	ReplaceActiveRouteWithReroute(ctx context.Context, shipmentID, rerouteID uuid.UUID) error

	InsertReroute(ctx context.Context, reroute *domain.Reroute) error
	UpdateRerouteStatus(ctx context.Context, id uuid.UUID, status domain.RerouteStatus) error
	GetReroute(ctx context.Context, id uuid.UUID) (*domain.Reroute, error)
	GetProposedReroute(ctx context.Context, shipmentID uuid.UUID) (*domain.Reroute, error)

	// UpsertAdvisory supersedes any previously active advisory for the shipment.
	UpsertAdvisory(ctx context.Context, advisory *domain.Advisory) error
	GetActiveAdvisory(ctx context.Context, shipmentID uuid.UUID) (*domain.Advisory, error)

	InsertEvent(ctx context.Context, shipmentID uuid.UUID, eventType EventType, payload any, ts time.Time) error
}
