// Package domain defines the core entities of the tracking engine:
// shipments, stops, routes, positions, ETA samples, advisories, and
// reroutes. These types are owned by the Shipment Actor and observed
// read-only by everything else.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ShipmentStatus is the lifecycle state of a Shipment.
type ShipmentStatus string

const (
	ShipmentPending    ShipmentStatus = "pending"
	ShipmentInTransit  ShipmentStatus = "in_transit"
	ShipmentCompleted  ShipmentStatus = "completed"
	ShipmentCancelled  ShipmentStatus = "cancelled"
)

// Shipment is a multi-stop delivery assigned to one vehicle.
type Shipment struct {
	ID              uuid.UUID
	Reference       string // customer-visible reference
	VehicleID       string
	Stops           []Stop
	PromisedAt      time.Time
	Status          ShipmentStatus
	ActiveRouteID   uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsActive reports whether the shipment still accepts position updates.
func (s *Shipment) IsActive() bool {
	return s.Status == ShipmentPending || s.Status == ShipmentInTransit
}

// Stop is one waypoint of a Shipment.
type Stop struct {
	ID              uuid.UUID
	ShipmentID      uuid.UUID
	Sequence        int // 1..N, unique within shipment, 1 = origin
	Name            string
	Lat             float64
	Lon             float64
	PlannedArrival  time.Time
	PlannedDeparture time.Time
	ServiceMinutes  int
	ActualArrival   *time.Time
	ActualDeparture *time.Time
	Completed       bool
}

// IsTerminal reports whether this is the last stop of its shipment.
func (s *Stop) IsTerminal(total int) bool {
	return s.Sequence == total
}

// RouteSegment is one leg of a Route's polyline with a free-flow speed.
type RouteSegment struct {
	StartFraction float64 // 0..1 along the polyline
	EndFraction   float64
	LengthM       float64
	FreeFlowKPH   float64
}

// CostingProfile enumerates truck/auto routing constraints.
type CostingProfile struct {
	HeightM      float64
	WidthM       float64
	WeightTons   float64
	HazmatAllowed bool
	AvoidTolls   bool
	Costing      string // "truck" or "auto"
}

// Route is a planned path between a set of waypoints.
type Route struct {
	ID          uuid.UUID
	Polyline    []Coordinate
	DistanceM   float64
	DurationS   float64
	Segments    []RouteSegment
	Profile     CostingProfile
	Source      string // provider tag: "primary", "fallback"
	CreatedAt   time.Time
}

// Coordinate is a WGS84 lat/lon pair.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Position is a raw fix reported by a vehicle's tracking device.
type Position struct {
	VehicleID  string
	Timestamp  time.Time
	Coordinate Coordinate
	SpeedKPH   float64
	AccuracyM  float64
	Provenance string
}

// SnappedPoint is a Position projected onto a Route's polyline.
type SnappedPoint struct {
	Position        Position
	RouteID         uuid.UUID
	Progress        float64 // fractional progress 0..1 along the polyline
	CrossTrackM     float64
	EdgeSpeedKPH    float64
}

// ConfidenceBucket classifies how reliable an ETA estimate is.
type ConfidenceBucket string

const (
	ConfidenceHigh   ConfidenceBucket = "high"
	ConfidenceMedium ConfidenceBucket = "medium"
	ConfidenceLow    ConfidenceBucket = "low"
)

// ETASample is one estimated time of arrival for one stop.
type ETASample struct {
	ID                uuid.UUID
	ShipmentID        uuid.UUID
	StopID            uuid.UUID
	ObservedAt        time.Time
	EstimatedArrival  time.Time
	ResidualDistanceM float64
	ResidualDurationS float64
	SmoothedDurationS float64
	Confidence        ConfidenceBucket
	ConfidenceValue   float64
}

// ReasonCode is the closed set of delay-advisory causes.
type ReasonCode string

const (
	ReasonOnTime            ReasonCode = "ON_TIME"
	ReasonTrafficCongestion ReasonCode = "TRAFFIC_CONGESTION"
	ReasonWeatherDelay      ReasonCode = "WEATHER_DELAY"
	ReasonDriverHOSRisk     ReasonCode = "DRIVER_HOS_RISK"
	ReasonRoadIncident      ReasonCode = "ROAD_INCIDENT"
	ReasonVehicleIssue      ReasonCode = "VEHICLE_ISSUE"
	ReasonOffRoute          ReasonCode = "OFF_ROUTE"
	ReasonUnknownDelay      ReasonCode = "UNKNOWN_DELAY"
)

// AdvisorySeverity is the urgency of an Advisory.
type AdvisorySeverity string

const (
	SeverityLow    AdvisorySeverity = "low"
	SeverityMedium AdvisorySeverity = "medium"
	SeverityHigh   AdvisorySeverity = "high"
)

// Advisory is the single currently effective delay classification for a
// shipment. At most one active advisory exists per shipment; a new one
// supersedes the previous.
type Advisory struct {
	ID          uuid.UUID
	ShipmentID  uuid.UUID
	ObservedAt  time.Time
	Reason      ReasonCode
	Confidence  float64
	Explanation string
	Severity    AdvisorySeverity
}

// RerouteStatus is the lifecycle state of a Reroute proposal.
type RerouteStatus string

const (
	RerouteProposed RerouteStatus = "proposed"
	RerouteAccepted RerouteStatus = "accepted"
	RerouteRejected RerouteStatus = "rejected"
	RerouteExpired  RerouteStatus = "expired"
)

// Reroute is an alternative route offered for human acceptance.
type Reroute struct {
	ID              uuid.UUID
	ShipmentID      uuid.UUID
	CreatedAt       time.Time
	OldRouteID      uuid.UUID
	NewRouteID      uuid.UUID
	TimeSavedMin    float64
	Reason          string
	Status          RerouteStatus
}

// TrafficSample is a point-in-time traffic reading near a coordinate.
type TrafficSample struct {
	Coordinate      Coordinate
	Timestamp       time.Time
	SpeedKPH        float64
	FreeFlowKPH     float64
	CongestionRatio float64 // SpeedKPH / FreeFlowKPH
	IncidentNearby  bool
	Source          string
	TTL             time.Duration
}

// SpeedFactor returns the multiplier this sample applies to free-flow
// speed (1.0 when the sample carries no free-flow speed); callers use
// 1.0 when no sample exists.
func (t TrafficSample) SpeedFactor() float64 {
	if t.FreeFlowKPH <= 0 {
		return 1.0
	}
	return t.CongestionRatio
}

// WeatherSample is a point-in-time weather reading near a coordinate.
type WeatherSample struct {
	Coordinate       Coordinate
	Timestamp        time.Time
	PrecipitationMMH float64
	WindKPH          float64
	TemperatureC     float64
	Severe           bool
	Source           string
	TTL              time.Duration
}
