// Package classifier scores candidate delay causes from a shipment's
// current ETA samples and recent signals, producing exactly one
// Advisory per call (C7 Delay Classifier).
package classifier

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"shiptrack/internal/domain"
	"shiptrack/pkg/config"
)

// ShiftInfo is the externally maintained shift-start time for a
// vehicle, used to project remaining legal drive time against the
// regulatory ceiling.
type ShiftInfo struct {
	ShiftStart time.Time
}

// ManualEvent is an externally reported vehicle-issue report (e.g.
// driver-initiated breakdown flag) within the classifier's lookback
// window.
type ManualEvent struct {
	ReportedAt time.Time
	Resolved   bool
}

// Inputs bundles everything the classifier needs beyond the active
// advisory to score a shipment's current state.
type Inputs struct {
	Now             time.Time
	PromisedArrival time.Time
	ETAs            []domain.ETASample // remaining stops, in sequence order
	Traffic         []domain.TrafficSample
	Weather         *domain.WeatherSample
	Shift           *ShiftInfo
	ManualEvents    []ManualEvent
	SnapRejectStreak int
	OffRouteM       float64 // current cross-track distance, 0 if on-route
}

// score pairs a candidate reason with its [0,1] score and rendered
// explanation.
type score struct {
	reason      domain.ReasonCode
	value       float64
	explanation string
}

// priority gives the fixed tie-break order from highest to lowest.
// Candidates earlier in this list win ties at the same score.
var priority = []domain.ReasonCode{
	domain.ReasonRoadIncident,
	domain.ReasonVehicleIssue,
	domain.ReasonDriverHOSRisk,
	domain.ReasonWeatherDelay,
	domain.ReasonTrafficCongestion,
	domain.ReasonOffRoute,
	domain.ReasonUnknownDelay,
}

var priorityRank = func() map[domain.ReasonCode]int {
	m := make(map[domain.ReasonCode]int, len(priority))
	for i, r := range priority {
		m[r] = i
	}
	return m
}()

// Classifier evaluates delay causes per spec.md §4.7.
type Classifier struct {
	cfg config.ClassifierConfig
}

// New builds a Classifier from its threshold configuration.
func New(cfg config.ClassifierConfig) *Classifier {
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.4
	}
	if cfg.LatenessThresholdMin <= 0 {
		cfg.LatenessThresholdMin = 10
	}
	if cfg.LookaheadMin <= 0 {
		cfg.LookaheadMin = 15
	}
	if cfg.CongestionSpeedFactorMax <= 0 {
		cfg.CongestionSpeedFactorMax = 0.6
	}
	if cfg.WeatherPrecipThresholdMMH <= 0 {
		cfg.WeatherPrecipThresholdMMH = 2.5
	}
	if cfg.HOSCeiling <= 0 {
		cfg.HOSCeiling = 11 * time.Hour
	}
	if cfg.HOSWarningWindow <= 0 {
		cfg.HOSWarningWindow = time.Hour
	}
	if cfg.VehicleIssueLookback <= 0 {
		cfg.VehicleIssueLookback = 30 * time.Minute
	}
	if cfg.OffRouteRejectionStreak <= 0 {
		cfg.OffRouteRejectionStreak = 3
	}
	return &Classifier{cfg: cfg}
}

// Classify returns exactly one Advisory for the shipment given in.
func (c *Classifier) Classify(shipmentID uuid.UUID, in Inputs) domain.Advisory {
	candidates := []score{
		c.scoreRoadIncident(in),
		c.scoreVehicleIssue(in),
		c.scoreDriverHOSRisk(in),
		c.scoreWeatherDelay(in),
		c.scoreTrafficCongestion(in),
		c.scoreOffRoute(in),
	}

	lateMin := c.projectedLatenessMin(in)
	onTime := lateMin < c.cfg.LatenessThresholdMin

	best, ok := c.pickBest(candidates)
	if !ok {
		if onTime {
			return c.advisory(shipmentID, in, domain.ReasonOnTime, 1.0, "projected arrival within the promised window", domain.SeverityLow)
		}
		return c.advisory(shipmentID, in, domain.ReasonUnknownDelay, 0.5, fmt.Sprintf("running %.0f min behind with no matching cause", lateMin), severityForLateness(lateMin))
	}

	severity := severityForLateness(lateMin)
	if best.reason == domain.ReasonRoadIncident || best.reason == domain.ReasonVehicleIssue {
		severity = domain.SeverityHigh
	}
	return c.advisory(shipmentID, in, best.reason, best.value, best.explanation, severity)
}

func (c *Classifier) advisory(shipmentID uuid.UUID, in Inputs, reason domain.ReasonCode, confidence float64, explanation string, severity domain.AdvisorySeverity) domain.Advisory {
	return domain.Advisory{
		ShipmentID:  shipmentID,
		ObservedAt:  in.Now,
		Reason:      reason,
		Confidence:  confidence,
		Explanation: explanation,
		Severity:    severity,
	}
}

// pickBest selects the highest-scoring candidate at or above MinScore,
// breaking ties by fixed priority order.
func (c *Classifier) pickBest(candidates []score) (score, bool) {
	var best score
	found := false
	for _, cand := range candidates {
		if cand.value < c.cfg.MinScore {
			continue
		}
		if !found {
			best, found = cand, true
			continue
		}
		if cand.value > best.value || (cand.value == best.value && priorityRank[cand.reason] < priorityRank[best.reason]) {
			best = cand
		}
	}
	return best, found
}

func (c *Classifier) projectedLatenessMin(in Inputs) float64 {
	if len(in.ETAs) == 0 || in.PromisedArrival.IsZero() {
		return 0
	}
	terminal := in.ETAs[len(in.ETAs)-1]
	return terminal.EstimatedArrival.Sub(in.PromisedArrival).Minutes()
}

func severityForLateness(lateMin float64) domain.AdvisorySeverity {
	switch {
	case lateMin >= 30:
		return domain.SeverityHigh
	case lateMin >= 10:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func (c *Classifier) scoreTrafficCongestion(in Inputs) score {
	worst := 1.0
	found := false
	for _, t := range in.Traffic {
		if in.Now.Sub(t.Timestamp) > time.Duration(c.cfg.LookaheadMin)*time.Minute {
			continue
		}
		found = true
		if f := t.SpeedFactor(); f < worst {
			worst = f
		}
	}
	if !found || worst >= c.cfg.CongestionSpeedFactorMax {
		return score{reason: domain.ReasonTrafficCongestion}
	}
	value := 1.0 - worst/c.cfg.CongestionSpeedFactorMax
	return score{
		reason:      domain.ReasonTrafficCongestion,
		value:       clamp01(value),
		explanation: fmt.Sprintf("traffic speed factor %.2f below threshold %.2f on upcoming segments", worst, c.cfg.CongestionSpeedFactorMax),
	}
}

func (c *Classifier) scoreWeatherDelay(in Inputs) score {
	if in.Weather == nil {
		return score{reason: domain.ReasonWeatherDelay}
	}
	if in.Weather.Severe {
		return score{reason: domain.ReasonWeatherDelay, value: 0.9, explanation: "severe weather advisory active in corridor"}
	}
	if in.Weather.PrecipitationMMH > c.cfg.WeatherPrecipThresholdMMH {
		value := clamp01((in.Weather.PrecipitationMMH - c.cfg.WeatherPrecipThresholdMMH) / c.cfg.WeatherPrecipThresholdMMH)
		return score{
			reason:      domain.ReasonWeatherDelay,
			value:       value,
			explanation: fmt.Sprintf("precipitation %.1f mm/h above threshold %.1f", in.Weather.PrecipitationMMH, c.cfg.WeatherPrecipThresholdMMH),
		}
	}
	return score{reason: domain.ReasonWeatherDelay}
}

func (c *Classifier) scoreDriverHOSRisk(in Inputs) score {
	if in.Shift == nil || in.Shift.ShiftStart.IsZero() {
		return score{reason: domain.ReasonDriverHOSRisk}
	}
	elapsed := in.Now.Sub(in.Shift.ShiftStart)
	remaining := c.cfg.HOSCeiling - elapsed
	if remaining > c.cfg.HOSWarningWindow {
		return score{reason: domain.ReasonDriverHOSRisk}
	}
	if remaining <= 0 {
		return score{reason: domain.ReasonDriverHOSRisk, value: 1.0, explanation: "driver has exceeded the regulatory drive-time ceiling"}
	}
	value := clamp01(1.0 - float64(remaining)/float64(c.cfg.HOSWarningWindow))
	return score{
		reason:      domain.ReasonDriverHOSRisk,
		value:       value,
		explanation: fmt.Sprintf("driver has %.0f min of legal drive time remaining", remaining.Minutes()),
	}
}

func (c *Classifier) scoreRoadIncident(in Inputs) score {
	for _, t := range in.Traffic {
		if !t.IncidentNearby {
			continue
		}
		if in.Now.Sub(t.Timestamp) > time.Duration(c.cfg.LookaheadMin)*time.Minute {
			continue
		}
		return score{reason: domain.ReasonRoadIncident, value: 0.95, explanation: "traffic provider reports an incident on the route ahead"}
	}
	return score{reason: domain.ReasonRoadIncident}
}

func (c *Classifier) scoreVehicleIssue(in Inputs) score {
	for _, ev := range in.ManualEvents {
		if ev.Resolved {
			continue
		}
		if in.Now.Sub(ev.ReportedAt) > c.cfg.VehicleIssueLookback {
			continue
		}
		return score{reason: domain.ReasonVehicleIssue, value: 0.95, explanation: "unresolved vehicle issue reported within the lookback window"}
	}
	return score{reason: domain.ReasonVehicleIssue}
}

func (c *Classifier) scoreOffRoute(in Inputs) score {
	if in.SnapRejectStreak >= c.cfg.OffRouteRejectionStreak {
		return score{
			reason:      domain.ReasonOffRoute,
			value:       clamp01(float64(in.SnapRejectStreak) / float64(c.cfg.OffRouteRejectionStreak*2)),
			explanation: fmt.Sprintf("%d consecutive position fixes rejected as off-route", in.SnapRejectStreak),
		}
	}
	if in.OffRouteM > 0 {
		return score{reason: domain.ReasonOffRoute, value: 0.5, explanation: "snapped progress has diverged from the active route"}
	}
	return score{reason: domain.ReasonOffRoute}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
