// Package snapper projects raw position fixes onto a shipment's active
// route polyline, rejecting fixes that fall outside the accuracy,
// cross-track, or forward-progress bounds (C5 Road Snapper).
package snapper

import (
	"math"

	"shiptrack/internal/domain"
)

// RejectReason names why a fix was not accepted.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectAccuracy        RejectReason = "accuracy_exceeded"
	RejectCrossTrack      RejectReason = "cross_track_exceeded"
	RejectBacktrack       RejectReason = "backward_progress"
	RejectEmptyPolyline   RejectReason = "empty_polyline"
)

// Config holds the Road Snapper's tunable thresholds.
type Config struct {
	MaxAccuracyM          float64
	MaxCrossTrackM        float64 // floor of the accuracy-scaled threshold max(MaxCrossTrackM, 2*accuracy)
	MinProgressToleranceM float64 // backward tolerance, in meters, converted to a fraction per route
	SpeedSmoothingAlpha   float64 // one-pole low-pass filter coefficient
}

// DefaultConfig mirrors spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxAccuracyM:          50,
		MaxCrossTrackM:        60,
		MinProgressToleranceM: 20,
		SpeedSmoothingAlpha:   0.3,
	}
}

// State is the per-vehicle rolling state the Snapper needs across
// calls: the last accepted progress and edge speed. Callers (the
// Shipment Actor) own and persist this alongside the shipment.
type State struct {
	HasAccepted      bool
	LastProgress     float64
	LastPosition     domain.Position
	FilteredSpeedKPH float64
}

// Snapper projects fixes onto a route and filters outliers.
type Snapper struct {
	cfg Config
}

// New builds a Snapper with the given thresholds.
func New(cfg Config) *Snapper {
	if cfg.MaxAccuracyM <= 0 {
		cfg = DefaultConfig()
	}
	return &Snapper{cfg: cfg}
}

// crossTrackThreshold is max(MaxCrossTrackM, 2*accuracy) per spec.md §4.5.
func (s *Snapper) crossTrackThreshold(accuracyM float64) float64 {
	return math.Max(s.cfg.MaxCrossTrackM, 2*accuracyM)
}

// Snap attempts to project pos onto route, updating state in place on
// acceptance. It returns the zero SnappedPoint and a non-empty reject
// reason when the fix is rejected.
func (s *Snapper) Snap(route *domain.Route, pos domain.Position, state *State) (domain.SnappedPoint, RejectReason) {
	if pos.AccuracyM > s.cfg.MaxAccuracyM {
		return domain.SnappedPoint{}, RejectAccuracy
	}
	if len(route.Polyline) < 2 {
		return domain.SnappedPoint{}, RejectEmptyPolyline
	}

	totalLen := polylineLengthM(route.Polyline)
	if totalLen <= 0 {
		return domain.SnappedPoint{}, RejectEmptyPolyline
	}

	progress, crossTrackM := ProjectOntoPolyline(route.Polyline, pos.Coordinate)

	threshold := s.crossTrackThreshold(pos.AccuracyM)
	if crossTrackM > threshold {
		return domain.SnappedPoint{}, RejectCrossTrack
	}

	toleranceFraction := s.cfg.MinProgressToleranceM / totalLen

	if state.HasAccepted && progress < state.LastProgress-toleranceFraction {
		return domain.SnappedPoint{}, RejectBacktrack
	}

	edgeSpeed := s.estimateEdgeSpeed(pos, state)

	state.HasAccepted = true
	state.LastProgress = progress
	state.LastPosition = pos
	state.FilteredSpeedKPH = edgeSpeed

	return domain.SnappedPoint{
		Position:     pos,
		RouteID:      route.ID,
		Progress:     progress,
		CrossTrackM:  crossTrackM,
		EdgeSpeedKPH: edgeSpeed,
	}, RejectNone
}

// estimateEdgeSpeed computes instantaneous speed from displacement
// over time against the last accepted fix, clamps it to [0,140] km/h,
// and applies a one-pole low-pass filter against the rolling state.
func (s *Snapper) estimateEdgeSpeed(pos domain.Position, state *State) float64 {
	if !state.HasAccepted {
		return clampSpeed(pos.SpeedKPH)
	}

	dt := pos.Timestamp.Sub(state.LastPosition.Timestamp).Seconds()
	if dt <= 0 {
		return state.FilteredSpeedKPH
	}

	distM := haversineMeters(state.LastPosition.Coordinate, pos.Coordinate)
	instantKPH := clampSpeed((distM / dt) * 3.6)

	alpha := s.cfg.SpeedSmoothingAlpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return alpha*instantKPH + (1-alpha)*state.FilteredSpeedKPH
}

func clampSpeed(kph float64) float64 {
	if kph < 0 {
		return 0
	}
	if kph > 140 {
		return 140
	}
	return kph
}
