// Package shipment implements the per-shipment serialized state
// machine that orchestrates road snapping, ETA estimation, delay
// classification, and reroute evaluation on every accepted position
// (C9 Shipment Actor).
package shipment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"shiptrack/internal/classifier"
	"shiptrack/internal/clock"
	"shiptrack/internal/domain"
	"shiptrack/internal/eta"
	"shiptrack/internal/repository"
	"shiptrack/internal/reroute"
	"shiptrack/internal/routing"
	"shiptrack/internal/signals"
	"shiptrack/internal/snapper"
	"shiptrack/pkg/apperror"
	"shiptrack/pkg/audit"
	"shiptrack/pkg/config"
	"shiptrack/pkg/logger"
	"shiptrack/pkg/metrics"
)

// Deps bundles the collaborators an Actor orchestrates on its hot path.
type Deps struct {
	Repo       repository.Repository
	Routing    routing.Client
	Snapper    *snapper.Snapper
	ETA        *eta.Estimator
	Classifier *classifier.Classifier
	Reroute    *reroute.Evaluator
	Traffic    *signals.TrafficSource
	Weather    *signals.WeatherSource
	Publisher  Publisher
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Audit      audit.Logger
}

// Config bundles the tunables an Actor needs beyond its collaborators'
// own config sections.
type Config struct {
	InboxCapacity         int
	StorageBufferCapacity int
	RetryMaxAttempts      uint64
	RetryInitialBackoff   time.Duration
	RetryMaxBackoff       time.Duration
	LatenessThresholdMin  float64 // copied from config.Reroute.MinSavingMin; not read: automatic reroute evaluation runs only on a severity escalation
	RerouteProfile        domain.CostingProfile
}

// ConfigFromApp derives an actor Config from the application config.
func ConfigFromApp(c config.Config) Config {
	return Config{
		InboxCapacity:         c.Queue.PerShipmentCapacity,
		StorageBufferCapacity: c.Queue.StorageDegradedBufferCapacity,
		RetryMaxAttempts:      uint64(c.Retry.MaxAttempts),
		RetryInitialBackoff:   c.Retry.InitialBackoff,
		RetryMaxBackoff:       c.Retry.MaxBackoff,
		LatenessThresholdMin:  c.Reroute.MinSavingMin,
	}
}

// bufferedPosition is a snapshot retained for a deferred persistence
// retry after the repository degrades (spec.md §4.9 failure semantics).
type bufferedPosition struct {
	VehicleID string
	Point     domain.SnappedPoint
}

// Actor is a single shipment's serialized state machine. All mutation
// for the shipment flows through its run loop; independent shipments
// process concurrently in their own goroutine.
type Actor struct {
	id   uuid.UUID
	deps Deps
	cfg  Config

	inbox chan domain.Position
	done  chan struct{}

	shipment     *domain.Shipment
	route        *domain.Route
	snapState    *snapper.State
	etaStates    map[uuid.UUID]*eta.StopState
	dwellStates  map[uuid.UUID]*eta.StopState
	lastAdvisory *domain.Advisory
	rejectStreak int
	lastAccepted time.Time

	storageBuffer []bufferedPosition
	rejectCount   int
}

// New builds an Actor for shipment from its already-loaded stops and
// active route, so the first inbound position can be processed
// immediately.
func New(ctx context.Context, sh *domain.Shipment, route *domain.Route, deps Deps, cfg Config) *Actor {
	if cfg.InboxCapacity <= 0 {
		cfg.InboxCapacity = 64
	}
	if cfg.StorageBufferCapacity <= 0 {
		cfg.StorageBufferCapacity = 200
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.RetryInitialBackoff <= 0 {
		cfg.RetryInitialBackoff = 100 * time.Millisecond
	}
	if cfg.RetryMaxBackoff <= 0 {
		cfg.RetryMaxBackoff = 10 * time.Second
	}

	return &Actor{
		id:          sh.ID,
		deps:        deps,
		cfg:         cfg,
		inbox:       make(chan domain.Position, cfg.InboxCapacity),
		done:        make(chan struct{}),
		shipment:    sh,
		route:       route,
		snapState:   &snapper.State{},
		etaStates:   make(map[uuid.UUID]*eta.StopState),
		dwellStates: make(map[uuid.UUID]*eta.StopState),
	}
}

// Submit enqueues a position for processing. If the inbox is full it
// drops the oldest queued position to admit the new one (spec.md
// §4.10 step 4's drop-oldest policy), never blocking past ctx's
// deadline. It only returns an error if ctx expires before even the
// drop-and-retry can complete.
func (a *Actor) Submit(ctx context.Context, pos domain.Position) error {
	select {
	case a.inbox <- pos:
		if a.deps.Metrics != nil {
			a.deps.Metrics.SetActorQueueDepth(a.id.String(), len(a.inbox))
		}
		return nil
	default:
	}

	select {
	case <-a.inbox:
		if a.deps.Metrics != nil {
			a.deps.Metrics.RecordActorQueueDropped(a.id.String())
		}
	default:
	}

	select {
	case a.inbox <- pos:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes inbound positions until ctx is cancelled. It runs in
// its own goroutine, one per shipment.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case pos := <-a.inbox:
			a.process(ctx, pos)
		case <-ctx.Done():
			return
		}
	}
}

// Stop waits for Run to finish. It does not end Run itself; the caller
// cancels Run's context first.
func (a *Actor) Stop() {
	<-a.done
}

// Snapshot returns a read-only copy of the actor's current shipment
// state for query handlers.
func (a *Actor) Snapshot() domain.Shipment {
	return *a.shipment
}

// process runs the 8-step hot-path procedure of spec.md §4.9.
func (a *Actor) process(ctx context.Context, pos domain.Position) {
	// Step 1: admission.
	if !a.lastAccepted.IsZero() && !pos.Timestamp.After(a.lastAccepted) {
		return
	}

	// Step 2: snap.
	snapped, reject := a.snap(pos)
	if reject != snapper.RejectNone {
		a.rejectCount++
		a.rejectStreak++
		if a.deps.Metrics != nil {
			a.deps.Metrics.RecordPositionRejected(string(reject))
		}
		return
	}
	a.rejectStreak = 0
	a.lastAccepted = pos.Timestamp
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordPositionIngested(pos.VehicleID)
	}

	// Step 3: dwell detection and stop completion.
	a.detectDwellAndComplete(ctx, pos)

	// Step 4: ETA recompute.
	etas := a.recomputeETAs(ctx, snapped)

	// Step 5: classify.
	advisory := a.classify(ctx, snapped, etas)
	advisoryChanged := a.lastAdvisory == nil || a.lastAdvisory.Reason != advisory.Reason
	if advisoryChanged {
		if err := a.deps.Repo.UpsertAdvisory(ctx, &advisory); err != nil {
			a.logError("upsert advisory", err)
		}
		a.lastAdvisory = &advisory
		if a.deps.Metrics != nil {
			a.deps.Metrics.RecordAdvisoryChange(string(advisory.Reason))
		}
	}

	// Step 6: reroute evaluation.
	var triggeredReroute *domain.Reroute
	if a.shouldEvaluateReroute(advisoryChanged, advisory) {
		triggeredReroute = a.evaluateReroute(ctx, snapped, etas)
	}

	// Step 7: composite event.
	a.publish(ctx, Event{
		Kind:        EventPositionUpdate,
		ShipmentID:  a.id,
		ObservedAt:  a.deps.Clock.Now(),
		Snapped:     &snapped,
		ETAs:        etas,
		Advisory:    &advisory,
		Reroute:     triggeredReroute,
		ResidualPct: residualPercent(a.shipment.Stops, etas),
	})

	// Step 8: persist position + audit event, with retry-then-buffer.
	a.persist(ctx, pos.VehicleID, snapped, etas, advisory)
}

func (a *Actor) snap(pos domain.Position) (domain.SnappedPoint, snapper.RejectReason) {
	if a.route == nil {
		return domain.SnappedPoint{}, snapper.RejectEmptyPolyline
	}
	return a.deps.Snapper.Snap(a.route, pos, a.snapState)
}

func (a *Actor) detectDwellAndComplete(ctx context.Context, pos domain.Position) {
	for i := range a.shipment.Stops {
		stop := &a.shipment.Stops[i]
		if stop.Completed {
			continue
		}
		state := a.dwellStates[stop.ID]
		if state == nil {
			state = &eta.StopState{}
			a.dwellStates[stop.ID] = state
		}
		arrived, departed := a.deps.ETA.DetectDwell(*stop, pos, state)
		now := a.deps.Clock.Now()
		switch {
		case arrived:
			stop.ActualArrival = &now
			if err := a.deps.Repo.UpdateStopActual(ctx, stop.ID, stop.ActualArrival, nil, false); err != nil {
				a.logError("update stop arrival", err)
			}
		case departed:
			stop.ActualDeparture = &now
			stop.Completed = true
			if err := a.deps.Repo.UpdateStopActual(ctx, stop.ID, stop.ActualArrival, stop.ActualDeparture, true); err != nil {
				a.logError("update stop departure", err)
			}
			if stop.IsTerminal(len(a.shipment.Stops)) {
				a.shipment.Status = domain.ShipmentCompleted
			}
		}
		// Only the next incomplete stop's dwell state is meaningful per tick.
		break
	}

	if a.shipment.Status == domain.ShipmentPending {
		a.shipment.Status = domain.ShipmentInTransit
	}
}

func (a *Actor) recomputeETAs(ctx context.Context, snapped domain.SnappedPoint) []domain.ETASample {
	var sig eta.Signals
	if a.deps.Traffic != nil {
		if sample, status, err := a.deps.Traffic.Sample(ctx, snapped.Position.Coordinate, a.deps.Clock.Now()); err == nil && status != signals.StatusUnavailable {
			sig.Traffic = &sample
		}
	}
	if a.deps.Weather != nil {
		if sample, status, err := a.deps.Weather.Sample(ctx, snapped.Position.Coordinate, a.deps.Clock.Now()); err == nil && status != signals.StatusUnavailable {
			sig.Weather = &sample
		}
	}
	start := a.deps.Clock.Now()
	samples := a.deps.ETA.Estimate(a.id, a.route, a.shipment.Stops, snapped, sig, a.etaStates)
	if a.deps.Metrics != nil {
		elapsed := a.deps.Clock.Now().Sub(start)
		for _, s := range samples {
			a.deps.Metrics.RecordETARecompute(s.StopID.String(), elapsed, string(s.Confidence), s.ResidualDurationS/60-s.SmoothedDurationS/60)
		}
	}
	return samples
}

func (a *Actor) classify(ctx context.Context, snapped domain.SnappedPoint, etas []domain.ETASample) domain.Advisory {
	in := classifier.Inputs{
		Now:              a.deps.Clock.Now(),
		PromisedArrival:  a.shipment.PromisedAt,
		ETAs:             etas,
		SnapRejectStreak: a.rejectStreak,
		OffRouteM:        snapped.CrossTrackM,
	}
	if a.deps.Traffic != nil {
		if sample, status, err := a.deps.Traffic.Sample(ctx, snapped.Position.Coordinate, in.Now); err == nil && status != signals.StatusUnavailable {
			in.Traffic = []domain.TrafficSample{sample}
		}
	}
	if a.deps.Weather != nil {
		if sample, status, err := a.deps.Weather.Sample(ctx, snapped.Position.Coordinate, in.Now); err == nil && status != signals.StatusUnavailable {
			in.Weather = &sample
		}
	}
	return a.deps.Classifier.Classify(a.id, in)
}

func (a *Actor) shouldEvaluateReroute(advisoryChanged bool, advisory domain.Advisory) bool {
	if !advisoryChanged {
		return false
	}
	return advisory.Severity == domain.SeverityMedium || advisory.Severity == domain.SeverityHigh
}

func (a *Actor) evaluateReroute(ctx context.Context, snapped domain.SnappedPoint, etas []domain.ETASample) *domain.Reroute {
	if a.deps.Reroute == nil || a.route == nil {
		return nil
	}
	residualMin := 0.0
	if len(etas) > 0 {
		residualMin = etas[len(etas)-1].ResidualDurationS / 60
	}
	trig := reroute.Trigger{
		Reason:             reroute.TriggerSeverityEscalation,
		ShipmentID:         a.id,
		CurrentSnap:        snapped,
		RemainingStops:     a.shipment.Stops,
		CurrentResidualMin: residualMin,
	}
	confidenceFn := func(_ *domain.Route, _ float64) domain.ConfidenceBucket {
		return domain.ConfidenceMedium
	}
	rr, err := a.deps.Reroute.Evaluate(ctx, trig, a.route, a.cfg.RerouteProfile, confidenceFn)
	if err != nil {
		a.logError("evaluate reroute", err)
		return nil
	}
	if rr == nil {
		if a.deps.Metrics != nil {
			a.deps.Metrics.RecordRerouteProposal("suppressed", 0)
		}
		return nil
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordRerouteProposal("proposed", rr.TimeSavedMin)
	}
	a.publish(ctx, Event{Kind: EventRerouteSuggested, ShipmentID: a.id, ObservedAt: a.deps.Clock.Now(), Reroute: rr})
	return rr
}

// AcceptReroute atomically swaps the active route and forces an ETA
// recompute on the next inbound snap, per spec.md §4.8 step 4.
func (a *Actor) AcceptReroute(ctx context.Context, rerouteID uuid.UUID) error {
	rr, err := a.deps.Reroute.Accept(ctx, rerouteID)
	if err != nil {
		return err
	}
	route, err := a.deps.Repo.GetActiveRoute(ctx, a.id)
	if err != nil {
		return err
	}
	a.route = route
	a.snapState = &snapper.State{}
	a.publish(ctx, Event{Kind: EventRerouteAccepted, ShipmentID: a.id, ObservedAt: a.deps.Clock.Now(), Reroute: rr})
	return nil
}

// ProposeReroute runs C8 against the actor's last accepted position
// (the first stop's coordinates before any fix is accepted) on demand, for the propose_reroute operation issued over HTTP rather
// than by an inbound position crossing a severity threshold. It
// returns (nil, nil) when no candidate clears the savings threshold.
func (a *Actor) ProposeReroute(ctx context.Context) (*domain.Reroute, error) {
	if a.deps.Reroute == nil || a.route == nil {
		return nil, apperror.New(apperror.CodeShipmentNotActive, "shipment has no active route to propose a reroute against")
	}
	trig := reroute.Trigger{
		Reason:         reroute.TriggerManualRequest,
		ShipmentID:     a.id,
		CurrentSnap:    domain.SnappedPoint{Position: domain.Position{Coordinate: a.lastSnapCoordinate()}},
		RemainingStops: a.shipment.Stops,
	}
	confidenceFn := func(_ *domain.Route, _ float64) domain.ConfidenceBucket {
		return domain.ConfidenceMedium
	}
	rr, err := a.deps.Reroute.Evaluate(ctx, trig, a.route, a.cfg.RerouteProfile, confidenceFn)
	if err != nil {
		return nil, err
	}
	if rr == nil {
		if a.deps.Metrics != nil {
			a.deps.Metrics.RecordRerouteProposal("suppressed", 0)
		}
		return nil, nil
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordRerouteProposal("proposed", rr.TimeSavedMin)
	}
	a.publish(ctx, Event{Kind: EventRerouteSuggested, ShipmentID: a.id, ObservedAt: a.deps.Clock.Now(), Reroute: rr})
	return rr, nil
}

// RejectReroute marks a proposed reroute rejected and announces the
// outcome on the shipment's event stream.
func (a *Actor) RejectReroute(ctx context.Context, rerouteID uuid.UUID) error {
	if err := a.deps.Reroute.Reject(ctx, rerouteID); err != nil {
		return err
	}
	a.publish(ctx, Event{Kind: EventRerouteRejected, ShipmentID: a.id, ObservedAt: a.deps.Clock.Now()})
	return nil
}

func (a *Actor) lastSnapCoordinate() domain.Coordinate {
	if a.snapState != nil && a.snapState.HasAccepted {
		return a.snapState.LastPosition.Coordinate
	}
	if len(a.shipment.Stops) == 0 {
		return domain.Coordinate{}
	}
	return domain.Coordinate{Lat: a.shipment.Stops[0].Lat, Lon: a.shipment.Stops[0].Lon}
}

func (a *Actor) persist(ctx context.Context, vehicleID string, snapped domain.SnappedPoint, etas []domain.ETASample, advisory domain.Advisory) {
	backoff, err := retry.NewExponential(a.cfg.RetryInitialBackoff)
	if err != nil {
		a.logError("build retry backoff", err)
		return
	}
	backoff = retry.WithMaxRetries(a.cfg.RetryMaxAttempts, backoff)
	backoff = retry.WithCappedDuration(a.cfg.RetryMaxBackoff, backoff)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := a.deps.Repo.AppendPositions(ctx, vehicleID, []domain.SnappedPoint{snapped}); err != nil {
			return retry.RetryableError(err)
		}
		payload := map[string]any{"etas": etas, "advisory": advisory}
		if err := a.deps.Repo.InsertEvent(ctx, a.id, repository.EventPositionUpdate, payload, a.deps.Clock.Now()); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})

	if err != nil {
		a.bufferForRetry(vehicleID, snapped)
		a.publish(ctx, Event{Kind: EventStorageDegraded, ShipmentID: a.id, ObservedAt: a.deps.Clock.Now()})
		_ = a.deps.Repo.InsertEvent(ctx, a.id, repository.EventStorageDegraded, map[string]any{"error": err.Error()}, a.deps.Clock.Now())
		a.audit(ctx, audit.OutcomeFailure, vehicleID, err)
		return
	}
	a.audit(ctx, audit.OutcomeSuccess, vehicleID, nil)
}

// audit records the position-update event on the append-only audit
// log, independent of the domain event log InsertEvent writes to.
func (a *Actor) audit(ctx context.Context, outcome audit.Outcome, vehicleID string, cause error) {
	if a.deps.Audit == nil {
		return
	}
	builder := audit.NewEntry().
		Service("trackingd").
		Method("shipment.persist").
		Action(audit.ActionUpdate).
		Outcome(outcome).
		Resource("shipment", a.id.String()).
		Meta("vehicle_id", vehicleID)
	if cause != nil {
		builder = builder.Error("STORAGE_DEGRADED", cause.Error())
	}
	if err := a.deps.Audit.Log(ctx, builder.Build()); err != nil {
		a.logError("audit log", err)
	}
}

// bufferForRetry keeps the snapshot in a bounded queue for a later
// flush attempt. When the queue is full the oldest entry is dropped to
// make room; dropped entries are not counted.
func (a *Actor) bufferForRetry(vehicleID string, snapped domain.SnappedPoint) {
	if len(a.storageBuffer) >= a.cfg.StorageBufferCapacity {
		a.storageBuffer = a.storageBuffer[1:]
	}
	a.storageBuffer = append(a.storageBuffer, bufferedPosition{VehicleID: vehicleID, Point: snapped})
}

// FlushBuffer retries persisting any buffered positions; called
// periodically once the repository is believed healthy again.
func (a *Actor) FlushBuffer(ctx context.Context) int {
	flushed := 0
	remaining := a.storageBuffer[:0]
	for _, bp := range a.storageBuffer {
		if _, err := a.deps.Repo.AppendPositions(ctx, bp.VehicleID, []domain.SnappedPoint{bp.Point}); err != nil {
			remaining = append(remaining, bp)
			continue
		}
		flushed++
	}
	a.storageBuffer = remaining
	return flushed
}

func (a *Actor) publish(ctx context.Context, ev Event) {
	if a.deps.Publisher == nil {
		return
	}
	a.deps.Publisher.Publish(ctx, a.id, ev)
}

func (a *Actor) logError(op string, err error) {
	logger.Error(fmt.Sprintf("shipment actor: %s failed", op), "shipment_id", a.id, "error", err)
}

func residualPercent(stops []domain.Stop, etas []domain.ETASample) float64 {
	total := len(stops)
	if total == 0 {
		return 100
	}
	remaining := len(etas)
	completed := total - remaining
	return (float64(completed) / float64(total)) * 100
}
