package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shiptrack/internal/domain"
	"shiptrack/pkg/apperror"
)

// positionKey gives append_positions its idempotence guarantee.
type positionKey struct {
	vehicleID string
	ts        int64
}

// Memory is an in-memory Repository implementation used for tests and
// as a local-dev fallback when no database is configured.
type Memory struct {
	mu sync.RWMutex

	shipments     map[uuid.UUID]*domain.Shipment
	byReference   map[string]uuid.UUID
	stops         map[uuid.UUID]*domain.Stop // by stop id
	routes        map[uuid.UUID]*domain.Route
	reroutes      map[uuid.UUID]*domain.Reroute
	advisories    map[uuid.UUID]*domain.Advisory // by shipment id
	positions     map[positionKey]domain.SnappedPoint
	events        []storedEvent
}

type storedEvent struct {
	ShipmentID uuid.UUID
	Type       EventType
	Payload    any
	Timestamp  time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		shipments:   make(map[uuid.UUID]*domain.Shipment),
		byReference: make(map[string]uuid.UUID),
		stops:       make(map[uuid.UUID]*domain.Stop),
		routes:      make(map[uuid.UUID]*domain.Route),
		reroutes:    make(map[uuid.UUID]*domain.Reroute),
		advisories:  make(map[uuid.UUID]*domain.Advisory),
		positions:   make(map[positionKey]domain.SnappedPoint),
	}
}

// SeedShipment registers a shipment (and its stops/route) for tests.
func (m *Memory) SeedShipment(s *domain.Shipment, route *domain.Route) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.shipments[s.ID] = &cp
	m.byReference[s.Reference] = s.ID
	for i := range s.Stops {
		stop := s.Stops[i]
		m.stops[stop.ID] = &stop
	}
	if route != nil {
		m.routes[route.ID] = route
		m.shipments[s.ID].ActiveRouteID = route.ID
	}
}

func (m *Memory) GetShipmentByID(_ context.Context, id uuid.UUID) (*domain.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.shipments[id]
	if !ok {
		return nil, apperror.ErrShipmentNotFound
	}
	cp := *s
	cp.Stops = m.stopsForShipmentLocked(id)
	return &cp, nil
}

func (m *Memory) GetShipmentByReference(_ context.Context, reference string) (*domain.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byReference[reference]
	if !ok {
		return nil, apperror.ErrShipmentNotFound
	}
	s := m.shipments[id]
	cp := *s
	cp.Stops = m.stopsForShipmentLocked(id)
	return &cp, nil
}

func (m *Memory) GetActiveShipmentByVehicle(_ context.Context, vehicleID string) (*domain.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.shipments {
		if s.VehicleID == vehicleID && s.IsActive() {
			cp := *s
			cp.Stops = m.stopsForShipmentLocked(s.ID)
			return &cp, nil
		}
	}
	return nil, apperror.ErrShipmentNotFound
}

func (m *Memory) ListActiveShipments(_ context.Context) ([]*domain.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Shipment
	for _, s := range m.shipments {
		if s.IsActive() {
			cp := *s
			cp.Stops = m.stopsForShipmentLocked(s.ID)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *Memory) stopsForShipmentLocked(shipmentID uuid.UUID) []domain.Stop {
	var out []domain.Stop
	for _, st := range m.stops {
		if st.ShipmentID == shipmentID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (m *Memory) AppendPositions(_ context.Context, vehicleID string, points []domain.SnappedPoint) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, p := range points {
		key := positionKey{vehicleID: vehicleID, ts: p.Position.Timestamp.UnixNano()}
		if _, exists := m.positions[key]; exists {
			continue
		}
		m.positions[key] = p
		count++
	}
	return count, nil
}

func (m *Memory) GetStops(_ context.Context, shipmentID uuid.UUID) ([]domain.Stop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopsForShipmentLocked(shipmentID), nil
}

func (m *Memory) UpdateStopActual(_ context.Context, stopID uuid.UUID, arrival, departure *time.Time, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stops[stopID]
	if !ok {
		return apperror.New(apperror.CodeNotFound, "stop not found").WithField("stop_id")
	}
	if arrival != nil {
		st.ActualArrival = arrival
	}
	if departure != nil {
		st.ActualDeparture = departure
	}
	st.Completed = completed
	return nil
}

func (m *Memory) GetActiveRoute(_ context.Context, shipmentID uuid.UUID) (*domain.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.shipments[shipmentID]
	if !ok {
		return nil, apperror.ErrShipmentNotFound
	}
	route, ok := m.routes[s.ActiveRouteID]
	if !ok {
		return nil, apperror.New(apperror.CodeNotFound, "no active route for shipment")
	}
	return route, nil
}

func (m *Memory) InsertRoute(_ context.Context, route *domain.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if route.ID == uuid.Nil {
		return apperror.New(apperror.CodeInvalidInput, "route id is required")
	}
	m.routes[route.ID] = route
	return nil
}

func (m *Memory) ReplaceActiveRouteWithReroute(_ context.Context, shipmentID, rerouteID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[shipmentID]
	if !ok {
		return apperror.ErrShipmentNotFound
	}
	rr, ok := m.reroutes[rerouteID]
	if !ok {
		return apperror.ErrRerouteNotFound
	}
	if rr.ShipmentID != shipmentID {
		return apperror.New(apperror.CodeStateConflict, "reroute does not belong to shipment")
	}
	if rr.Status != domain.RerouteProposed {
		return apperror.New(apperror.CodeStateConflict, "reroute is not in proposed state")
	}

	s.ActiveRouteID = rr.NewRouteID
	rr.Status = domain.RerouteAccepted

	// Any other still-proposed reroute for this shipment is expired.
	for _, other := range m.reroutes {
		if other.ID != rr.ID && other.ShipmentID == shipmentID && other.Status == domain.RerouteProposed {
			other.Status = domain.RerouteExpired
		}
	}
	return nil
}

func (m *Memory) InsertReroute(_ context.Context, reroute *domain.Reroute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Only one proposed reroute may exist per shipment at a time.
	if reroute.Status == domain.RerouteProposed {
		for _, other := range m.reroutes {
			if other.ShipmentID == reroute.ShipmentID && other.Status == domain.RerouteProposed {
				other.Status = domain.RerouteExpired
			}
		}
	}
	cp := *reroute
	m.reroutes[reroute.ID] = &cp
	return nil
}

func (m *Memory) UpdateRerouteStatus(_ context.Context, id uuid.UUID, status domain.RerouteStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rr, ok := m.reroutes[id]
	if !ok {
		return apperror.ErrRerouteNotFound
	}
	rr.Status = status
	return nil
}

func (m *Memory) GetReroute(_ context.Context, id uuid.UUID) (*domain.Reroute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rr, ok := m.reroutes[id]
	if !ok {
		return nil, apperror.ErrRerouteNotFound
	}
	cp := *rr
	return &cp, nil
}

func (m *Memory) GetProposedReroute(_ context.Context, shipmentID uuid.UUID) (*domain.Reroute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rr := range m.reroutes {
		if rr.ShipmentID == shipmentID && rr.Status == domain.RerouteProposed {
			cp := *rr
			return &cp, nil
		}
	}
	return nil, apperror.New(apperror.CodeNotFound, "no proposed reroute for shipment")
}

func (m *Memory) UpsertAdvisory(_ context.Context, advisory *domain.Advisory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *advisory
	m.advisories[advisory.ShipmentID] = &cp
	return nil
}

func (m *Memory) GetActiveAdvisory(_ context.Context, shipmentID uuid.UUID) (*domain.Advisory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	adv, ok := m.advisories[shipmentID]
	if !ok {
		return nil, apperror.New(apperror.CodeNotFound, "no active advisory for shipment")
	}
	cp := *adv
	return &cp, nil
}

func (m *Memory) InsertEvent(_ context.Context, shipmentID uuid.UUID, eventType EventType, payload any, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, storedEvent{
		ShipmentID: shipmentID,
		Type:       eventType,
		Payload:    payload,
		Timestamp:  ts,
	})
	return nil
}

// Events returns a copy of the append-only event log, for assertions in tests.
func (m *Memory) Events() []storedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]storedEvent, len(m.events))
	copy(out, m.events)
	return out
}
