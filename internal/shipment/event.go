package shipment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"shiptrack/internal/domain"
)

// EventKind names the outbound event types the actor emits, mirroring
// the Repository's append-only EventType taxonomy.
type EventKind string

const (
	EventPositionUpdate  EventKind = "position_update"
	EventRerouteSuggested EventKind = "reroute_suggested"
	EventRerouteAccepted EventKind = "reroute_accepted"
	EventRerouteRejected EventKind = "reroute_rejected"
	EventStorageDegraded EventKind = "storage_degraded"
)

// Event is the composite outbound message delivered to the
// Subscription Hub (C11) for fan-out to subscribed sessions.
type Event struct {
	Kind        EventKind
	ShipmentID  uuid.UUID
	ObservedAt  time.Time
	Snapped     *domain.SnappedPoint
	ETAs        []domain.ETASample
	Advisory    *domain.Advisory
	Reroute     *domain.Reroute
	ResidualPct float64
}

// Publisher is the narrow interface the Shipment Actor needs from the
// Subscription Hub; it never imports internal/hub directly to avoid a
// dependency cycle (hub depends on the event shapes it fans out).
type Publisher interface {
	Publish(ctx context.Context, shipmentID uuid.UUID, event Event)
}
