// Package reroute evaluates whether a cheaper alternative route exists
// for a shipment's remaining stops, proposes it when it clears the
// savings threshold, and applies acceptance atomically (C8 Reroute
// Evaluator).
package reroute

import (
	"context"

	"github.com/google/uuid"

	"shiptrack/internal/clock"
	"shiptrack/internal/domain"
	"shiptrack/internal/repository"
	"shiptrack/internal/routing"
	"shiptrack/pkg/apperror"
	"shiptrack/pkg/config"
)

// TriggerReason names why the Shipment Actor invoked the evaluator.
type TriggerReason string

const (
	TriggerSeverityEscalation TriggerReason = "advisory_severity_escalation"
	TriggerLateness           TriggerReason = "projected_lateness"
	TriggerLowTrafficFactor   TriggerReason = "low_traffic_factor"
	TriggerManualRequest      TriggerReason = "manual_request"
)

// Trigger bundles the condition that fired and the data the evaluator
// needs to score alternatives.
type Trigger struct {
	Reason              TriggerReason
	ShipmentID          uuid.UUID
	CurrentSnap         domain.SnappedPoint
	RemainingStops      []domain.Stop
	CurrentResidualMin  float64
	AlternativeETAConf  domain.ConfidenceBucket // confidence of the ETA computed for the candidate route, filled by caller after a provisional estimate
}

// Evaluator implements the trigger-to-proposal pipeline of C8.
type Evaluator struct {
	cfg    config.RerouteConfig
	repo   repository.Repository
	client routing.Client
	clk    clock.Clock
}

// New builds an Evaluator.
func New(cfg config.RerouteConfig, repo repository.Repository, client routing.Client, clk clock.Clock) *Evaluator {
	if cfg.MinSavingMin <= 0 {
		cfg.MinSavingMin = 10
	}
	if cfg.Alternatives <= 0 {
		cfg.Alternatives = 3
	}
	if cfg.DetourDistancePenaltyPct <= 0 {
		cfg.DetourDistancePenaltyPct = 20
	}
	if cfg.DetourPenaltyMinPerPct <= 0 {
		cfg.DetourPenaltyMinPerPct = 0.5
	}
	return &Evaluator{cfg: cfg, repo: repo, client: client, clk: clk}
}

// candidate is a scored alternative route.
type candidate struct {
	route       *domain.Route
	timeSavedMin float64
}

// Evaluate requests alternatives, scores them against the current
// route's residual duration, and persists and returns a proposal when
// the best candidate clears the savings threshold with at least medium
// ETA confidence; publishing the reroute_suggested event is up to the
// caller. It returns (nil, nil) when no proposal is warranted.
func (e *Evaluator) Evaluate(ctx context.Context, trig Trigger, currentRoute *domain.Route, profile routing.Profile, confidenceFn func(route *domain.Route, residualMin float64) domain.ConfidenceBucket) (*domain.Reroute, error) {
	waypoints := remainingWaypoints(trig.CurrentSnap, trig.RemainingStops)
	if len(waypoints) < 2 {
		return nil, nil
	}

	alternatives, err := e.client.Alternatives(ctx, waypoints, profile, e.cfg.Alternatives)
	if err != nil {
		return nil, apperror.New(apperror.CodeRoutingUnavailable, "failed to fetch reroute alternatives").WithCause(err)
	}
	if len(alternatives) == 0 {
		return nil, nil
	}

	best := e.bestCandidate(alternatives, currentRoute, trig.CurrentResidualMin)
	if best == nil {
		return nil, nil
	}

	if best.timeSavedMin <= e.cfg.MinSavingMin {
		return nil, nil
	}

	confidence := confidenceFn(best.route, trig.CurrentResidualMin-best.timeSavedMin)
	if confidence == domain.ConfidenceLow {
		return nil, nil
	}

	if err := e.repo.InsertRoute(ctx, best.route); err != nil {
		return nil, err
	}

	rr := &domain.Reroute{
		ID:           e.clk.NewID(),
		ShipmentID:   trig.ShipmentID,
		CreatedAt:    e.clk.Now(),
		OldRouteID:   currentRoute.ID,
		NewRouteID:   best.route.ID,
		TimeSavedMin: best.timeSavedMin,
		Reason:       string(trig.Reason),
		Status:       domain.RerouteProposed,
	}
	if err := e.repo.InsertReroute(ctx, rr); err != nil {
		return nil, err
	}
	return rr, nil
}

// bestCandidate scores every alternative and returns the one with the
// largest time saved (which may be zero or negative), or nil when
// alternatives is empty. The savings threshold is checked by the caller.
func (e *Evaluator) bestCandidate(alternatives []*domain.Route, currentRoute *domain.Route, currentResidualMin float64) *candidate {
	var best *candidate
	for _, alt := range alternatives {
		timeSaved := e.scoreAlternative(alt, currentRoute, currentResidualMin)
		if best == nil || timeSaved > best.timeSavedMin {
			best = &candidate{route: alt, timeSavedMin: timeSaved}
		}
	}
	return best
}

// scoreAlternative computes time_saved adjusted by a detour-distance
// penalty per spec.md §4.8 step 2: alternatives that add more than
// DetourDistancePenaltyPct extra distance pay DetourPenaltyMinPerPct
// minutes of penalty per percentage point over the threshold.
func (e *Evaluator) scoreAlternative(alt, current *domain.Route, currentResidualMin float64) float64 {
	altDurationMin := alt.DurationS / 60
	timeSaved := currentResidualMin - altDurationMin

	if current.DistanceM > 0 {
		extraPct := ((alt.DistanceM - current.DistanceM) / current.DistanceM) * 100
		if extraPct > e.cfg.DetourDistancePenaltyPct {
			penalty := (extraPct - e.cfg.DetourDistancePenaltyPct) * e.cfg.DetourPenaltyMinPerPct
			timeSaved -= penalty
		}
	}
	return timeSaved
}

func remainingWaypoints(snap domain.SnappedPoint, stops []domain.Stop) []domain.Coordinate {
	waypoints := make([]domain.Coordinate, 0, len(stops)+1)
	waypoints = append(waypoints, snap.Position.Coordinate)
	for _, s := range stops {
		if s.Completed {
			continue
		}
		waypoints = append(waypoints, domain.Coordinate{Lat: s.Lat, Lon: s.Lon})
	}
	return waypoints
}

// Accept atomically swaps the shipment's active route for the
// proposed reroute's new route. Callers are responsible for
// recomputing ETAs from the next inbound snap and emitting
// reroute_accepted, per spec.md §4.8 step 4.
func (e *Evaluator) Accept(ctx context.Context, rerouteID uuid.UUID) (*domain.Reroute, error) {
	rr, err := e.repo.GetReroute(ctx, rerouteID)
	if err != nil {
		return nil, err
	}
	if err := e.repo.ReplaceActiveRouteWithReroute(ctx, rr.ShipmentID, rerouteID); err != nil {
		return nil, err
	}
	rr.Status = domain.RerouteAccepted
	return rr, nil
}

// Reject marks a proposed reroute rejected.
func (e *Evaluator) Reject(ctx context.Context, rerouteID uuid.UUID) error {
	return e.repo.UpdateRerouteStatus(ctx, rerouteID, domain.RerouteRejected)
}

// ExpireIfStale marks a still-proposed reroute expired once its TTL
// (default 15 min) has elapsed since creation. Callers invoke this
// from a periodic sweep or lazily before evaluating a new proposal.
func (e *Evaluator) ExpireIfStale(ctx context.Context, rr *domain.Reroute) (bool, error) {
	if rr.Status != domain.RerouteProposed {
		return false, nil
	}
	if e.clk.Now().Sub(rr.CreatedAt) < e.cfg.ProposalTTLMin {
		return false, nil
	}
	if err := e.repo.UpdateRerouteStatus(ctx, rr.ID, domain.RerouteExpired); err != nil {
		return false, err
	}
	return true, nil
}
