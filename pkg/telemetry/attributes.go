package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Standard attribute keys used across tracking spans.
const (
	AttrShipmentID   = "shipment.id"
	AttrReferenceID  = "shipment.reference_id"
	AttrVehicleID    = "vehicle.id"
	AttrStopID       = "stop.id"
	AttrRerouteID    = "reroute.id"

	AttrPositionLat = "position.lat"
	AttrPositionLon = "position.lon"
	AttrPositionAge = "position.age_ms"

	AttrETAMinutes   = "eta.minutes"
	AttrETAConfidence = "eta.confidence"

	AttrDelayCause = "delay.cause"
	AttrDelayScore = "delay.score"

	AttrQueueDepth  = "queue.depth"
	AttrQueueDropped = "queue.dropped"
)

// ShipmentAttributes returns the standard attribute set for a span
// operating on a single shipment.
func ShipmentAttributes(shipmentID, referenceID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrShipmentID, shipmentID),
		attribute.String(AttrReferenceID, referenceID),
	}
}

// PositionAttributes returns attributes describing an ingested position sample.
func PositionAttributes(lat, lon float64, ageMs int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64(AttrPositionLat, lat),
		attribute.Float64(AttrPositionLon, lon),
		attribute.Int64(AttrPositionAge, ageMs),
	}
}

// ETAAttributes returns attributes describing a recomputed ETA.
func ETAAttributes(minutes float64, confidence string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64(AttrETAMinutes, minutes),
		attribute.String(AttrETAConfidence, confidence),
	}
}

// DelayAttributes returns attributes describing a classified delay cause.
func DelayAttributes(cause string, score float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrDelayCause, cause),
		attribute.Float64(AttrDelayScore, score),
	}
}

// QueueAttributes returns attributes describing the state of a bounded queue.
func QueueAttributes(depth int, dropped bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrQueueDepth, depth),
		attribute.Bool(AttrQueueDropped, dropped),
	}
}
