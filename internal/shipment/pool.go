package shipment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"shiptrack/internal/domain"
	"shiptrack/internal/repository"
	"shiptrack/pkg/apperror"
)

// entry pairs a running actor with the cancel func for its own Run
// loop, so one shipment can be evicted without disturbing the others.
type entry struct {
	actor  *Actor
	cancel context.CancelFunc
}

// Pool owns one running Actor per active shipment and routes inbound
// positions to the right one, spawning actors lazily on first contact.
type Pool struct {
	mu     sync.RWMutex
	actors map[uuid.UUID]entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	repo   repository.Repository
	depsFn func() Deps
	cfg    Config
}

// NewPool builds a Pool. depsFn is invoked once per spawned actor so
// that collaborators it constructs are never shared across shipments;
// each actor's snapper.State is created by New.
func NewPool(repo repository.Repository, depsFn func() Deps, cfg Config) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		actors: make(map[uuid.UUID]entry),
		ctx:    ctx,
		cancel: cancel,
		repo:   repo,
		depsFn: depsFn,
		cfg:    cfg,
	}
}

// Submit routes pos to the shipment's actor, spawning one on first
// contact by loading the shipment and its active route from the
// repository.
func (p *Pool) Submit(ctx context.Context, shipmentID uuid.UUID, pos domain.Position) error {
	actor, err := p.getOrSpawn(ctx, shipmentID)
	if err != nil {
		return err
	}
	return actor.Submit(ctx, pos)
}

// Get returns the running actor for a shipment, if any.
func (p *Pool) Get(shipmentID uuid.UUID) (*Actor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.actors[shipmentID]
	if !ok {
		return nil, false
	}
	return e.actor, true
}

// Ensure returns the running actor for a shipment, spawning one from
// the repository if none is running yet. Transport handlers that need
// to act on a shipment's actor outside the position-ingest path (e.g.
// reroute commands) use this instead of Get so a shipment with no
// recent position traffic still has a live actor to act on.
func (p *Pool) Ensure(ctx context.Context, shipmentID uuid.UUID) (*Actor, error) {
	return p.getOrSpawn(ctx, shipmentID)
}

func (p *Pool) getOrSpawn(ctx context.Context, shipmentID uuid.UUID) (*Actor, error) {
	p.mu.RLock()
	e, ok := p.actors[shipmentID]
	p.mu.RUnlock()
	if ok {
		return e.actor, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.actors[shipmentID]; ok {
		return e.actor, nil
	}

	sh, err := p.repo.GetShipmentByID(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if !sh.IsActive() {
		return nil, apperror.New(apperror.CodeShipmentNotActive, "shipment is not active: "+shipmentID.String()).WithField("shipment_id")
	}
	route, err := p.repo.GetActiveRoute(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	stops, err := p.repo.GetStops(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	sh.Stops = stops

	actor := New(ctx, sh, route, p.depsFn(), p.cfg)
	actorCtx, actorCancel := context.WithCancel(p.ctx)
	p.actors[shipmentID] = entry{actor: actor, cancel: actorCancel}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		actor.Run(actorCtx)
	}()
	return actor, nil
}

// Remove stops and evicts an actor, e.g. once its shipment completes.
func (p *Pool) Remove(shipmentID uuid.UUID) {
	p.mu.Lock()
	e, ok := p.actors[shipmentID]
	if ok {
		delete(p.actors, shipmentID)
	}
	p.mu.Unlock()
	if ok {
		e.cancel()
		e.actor.Stop()
	}
}

// Active returns the shipment ids with a currently running actor.
func (p *Pool) Active() []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(p.actors))
	for id := range p.actors {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every running actor and waits for their run loops
// to exit.
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
}
