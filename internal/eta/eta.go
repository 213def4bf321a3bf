// Package eta estimates residual arrival duration per remaining stop,
// smooths it with an EWMA, and detects stop arrival/departure by dwell
// radius (C6 ETA Estimator).
package eta

import (
	"math"
	"time"

	"github.com/google/uuid"

	"shiptrack/internal/clock"
	"shiptrack/internal/domain"
	"shiptrack/internal/snapper"
	"shiptrack/pkg/config"
)

// minSpeedKPH floors the effective segment speed so a fully congested
// or weather-degraded segment never produces an infinite residual
// duration. offRouteDistanceM is the "configured off-route distance"
// spec.md §4.6 step 1 refers to without naming a config key; no
// operator-tunable default is documented for it, so it lives here as
// a constant rather than a config field.
const (
	minSpeedKPH       = 5.0
	offRouteDistanceM = 500.0
	earthRadiusM      = 6371000.0
)

// StopState is the EWMA and dwell-detection state the Estimator keeps
// per (shipment, stop) across calls. Callers (the Shipment Actor) own
// and persist it.
type StopState struct {
	HasSample         bool
	SmoothedDurationS float64
	InDwell           bool
	DwellEnteredAt    time.Time
	LeftDwellAt       time.Time
}

// Estimator computes ETASamples for a shipment's remaining stops.
type Estimator struct {
	cfg   config.ETAConfig
	dwell config.DwellConfig
	clk   clock.Clock
}

// New builds an Estimator from the ETA and dwell configuration sections.
func New(cfg config.ETAConfig, dwell config.DwellConfig, clk clock.Clock) *Estimator {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.3
	}
	if dwell.RadiusM <= 0 {
		dwell.RadiusM = 80
	}
	if dwell.StoppedSpeedKPH <= 0 {
		dwell.StoppedSpeedKPH = 5
	}
	if dwell.MinDwellDuration <= 0 {
		dwell.MinDwellDuration = 60 * time.Second
	}
	return &Estimator{cfg: cfg, dwell: dwell, clk: clk}
}

// Signals bundles the optional traffic/weather readings available for
// a given estimate; either may be nil when the signal was unavailable.
type Signals struct {
	Traffic *domain.TrafficSample
	Weather *domain.WeatherSample
}

func (s Signals) speedFactor() float64 {
	if s.Traffic == nil {
		return 1.0
	}
	return s.Traffic.SpeedFactor()
}

func (s Signals) weatherFactor() float64 {
	if s.Weather == nil {
		return 1.0
	}
	if s.Weather.Severe {
		return 0.5
	}
	if s.Weather.PrecipitationMMH > 0 {
		// Linear derate: heavier rain/snow slows traffic further, floored at 0.4.
		factor := 1.0 - s.Weather.PrecipitationMMH*0.02
		if factor < 0.4 {
			factor = 0.4
		}
		return factor
	}
	return 1.0
}

// Estimate produces one ETASample per stop in stops (assumed ordered
// by sequence), given the vehicle's current snapped position on route.
// Completed stops are skipped but still contribute their planned
// service time to the stops that follow them.
func (e *Estimator) Estimate(
	shipmentID uuid.UUID,
	route *domain.Route,
	stops []domain.Stop,
	snapped domain.SnappedPoint,
	signals Signals,
	states map[uuid.UUID]*StopState,
) []domain.ETASample {
	now := e.clk.Now()
	totalLenM := polylineLen(route)
	samples := make([]domain.ETASample, 0, len(stops))

	serviceMinutesBefore := 0.0
	for _, stop := range stops {
		if stop.Completed {
			serviceMinutesBefore += float64(stop.ServiceMinutes)
			continue
		}

		stopProgress, crossTrackM := snapper.ProjectOntoPolyline(route.Polyline, domain.Coordinate{Lat: stop.Lat, Lon: stop.Lon})
		offRoute := crossTrackM >= offRouteDistanceM

		residualM := (stopProgress - snapped.Progress) * totalLenM
		if residualM < 0 {
			residualM = 0
		}

		effectiveSpeed := e.effectiveSpeed(snapped.EdgeSpeedKPH, route, snapped.Progress, stopProgress, signals)
		residualDurationS := (residualM/1000.0)/effectiveSpeed*3600.0 + serviceMinutesBefore*60

		state := states[stop.ID]
		if state == nil {
			state = &StopState{}
			states[stop.ID] = state
		}
		if !state.HasSample {
			state.SmoothedDurationS = residualDurationS
		} else {
			state.SmoothedDurationS = e.cfg.Alpha*residualDurationS + (1-e.cfg.Alpha)*state.SmoothedDurationS
		}
		state.HasSample = true

		deviationMin := math.Abs(residualDurationS-state.SmoothedDurationS) / 60
		confidence, confidenceValue := e.confidence(deviationMin, signals, offRoute)

		samples = append(samples, domain.ETASample{
			ID:                e.clk.NewID(),
			ShipmentID:        shipmentID,
			StopID:            stop.ID,
			ObservedAt:        now,
			EstimatedArrival:  now.Add(time.Duration(state.SmoothedDurationS * float64(time.Second))),
			ResidualDistanceM: residualM,
			ResidualDurationS: residualDurationS,
			SmoothedDurationS: state.SmoothedDurationS,
			Confidence:        confidence,
			ConfidenceValue:   confidenceValue,
		})

		serviceMinutesBefore += float64(stop.ServiceMinutes)
	}

	return samples
}

// DetectDwell updates a stop's dwell state from the vehicle's current
// speed and distance to the stop, returning true the instant an
// arrival or departure transition is confirmed. Arrival requires the
// vehicle to stay within RadiusM below StoppedSpeedKPH for at least
// MinDwellDuration. Departure is reported on the first fix outside
// that predicate after an arrival; no minimum time outside the radius
// is required.
func (e *Estimator) DetectDwell(stop domain.Stop, pos domain.Position, state *StopState) (arrived, departed bool) {
	distM := haversineMeters(domain.Coordinate{Lat: stop.Lat, Lon: stop.Lon}, pos.Coordinate)
	withinRadius := distM <= e.dwell.RadiusM && pos.SpeedKPH <= e.dwell.StoppedSpeedKPH
	now := pos.Timestamp

	switch {
	case withinRadius && !state.InDwell:
		state.InDwell = true
		state.DwellEnteredAt = now
	case withinRadius && state.InDwell:
		if !state.DwellEnteredAt.IsZero() && now.Sub(state.DwellEnteredAt) >= e.dwell.MinDwellDuration && stop.ActualArrival == nil {
			arrived = true
		}
	case !withinRadius && state.InDwell:
		state.InDwell = false
		state.LeftDwellAt = now
		if stop.ActualArrival != nil && stop.ActualDeparture == nil {
			departed = true
		}
	}
	return arrived, departed
}

func polylineLen(route *domain.Route) float64 {
	total := 0.0
	for _, seg := range route.Segments {
		total += seg.LengthM
	}
	if total > 0 {
		return total
	}
	// Fall back to the raw polyline length when segments are absent.
	for i := 1; i < len(route.Polyline); i++ {
		total += haversineMeters(route.Polyline[i-1], route.Polyline[i])
	}
	return total
}

func (e *Estimator) effectiveSpeed(edgeSpeedKPH float64, route *domain.Route, fromProgress, toProgress float64, signals Signals) float64 {
	freeFlow := e.freeFlowSpeed(route, fromProgress, toProgress)
	if freeFlow <= 0 {
		freeFlow = edgeSpeedKPH
	}
	if freeFlow <= 0 {
		freeFlow = 60
	}

	speed := freeFlow * signals.speedFactor() * signals.weatherFactor()
	if speed < minSpeedKPH {
		speed = minSpeedKPH
	}
	return speed
}

func (e *Estimator) freeFlowSpeed(route *domain.Route, fromProgress, toProgress float64) float64 {
	if len(route.Segments) == 0 {
		return 0
	}
	var weighted, totalFraction float64
	for _, seg := range route.Segments {
		overlapStart := math.Max(seg.StartFraction, fromProgress)
		overlapEnd := math.Min(seg.EndFraction, toProgress)
		if overlapEnd <= overlapStart {
			continue
		}
		span := overlapEnd - overlapStart
		weighted += span * seg.FreeFlowKPH
		totalFraction += span
	}
	if totalFraction <= 0 {
		return 0
	}
	return weighted / totalFraction
}

// confidence implements spec.md §4.6 step 6.
func (e *Estimator) confidence(deviationMin float64, signals Signals, offRoute bool) (domain.ConfidenceBucket, float64) {
	if offRoute {
		return domain.ConfidenceLow, 0.2
	}

	bothPresent := signals.Traffic != nil && signals.Weather != nil
	onePresent := signals.Traffic != nil || signals.Weather != nil

	highDevBand := e.cfg.ConfidenceHighDevMin
	if highDevBand <= 0 {
		highDevBand = 5
	}
	lowDevBand := e.cfg.ConfidenceLowDevMin
	if lowDevBand <= 0 {
		lowDevBand = 15
	}

	switch {
	case deviationMin <= highDevBand && bothPresent:
		return domain.ConfidenceHigh, 1.0 - (deviationMin / (highDevBand * 2))
	case deviationMin <= lowDevBand || (!bothPresent && onePresent):
		return domain.ConfidenceMedium, 0.5
	default:
		return domain.ConfidenceLow, 0.2
	}
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func haversineMeters(a, b domain.Coordinate) float64 {
	lat1, lat2 := toRadians(a.Lat), toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}
