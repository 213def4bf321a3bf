// Package hub implements the Subscription Hub (C11): a per-shipment
// topic registry that fans shipment events out to subscribed client
// sessions with bounded, non-blocking backpressure.
package hub

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"shiptrack/internal/shipment"
	"shiptrack/pkg/config"
	"shiptrack/pkg/metrics"
)

// Message is what a subscriber session receives over its outbound
// channel: either a shipment event or a lagged(n) marker recording
// how many events this session has missed to buffer overflow, per
// spec.md §4.11's overflow policy.
type Message struct {
	Event  *shipment.Event
	Lagged int
}

// Session is a single subscriber's outbound channel.
type Session struct {
	id  uuid.UUID
	out chan Message

	mu     sync.Mutex
	lagged int
}

func newSession(buffer int) *Session {
	return &Session{id: uuid.New(), out: make(chan Message, buffer)}
}

// ID identifies the session for Unsubscribe/Disconnect.
func (s *Session) ID() uuid.UUID { return s.id }

// C returns the channel a transport (e.g. an SSE handler) drains.
func (s *Session) C() <-chan Message { return s.out }

// Lagged reports how many messages this session has lost to buffer
// overflow since it subscribed.
func (s *Session) Lagged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

// deliver is non-blocking: on a full buffer it drops the oldest
// queued message and delivers a lagged(n) marker in its place, rather
// than ever blocking the publisher.
func (s *Session) deliver(msg Message) {
	select {
	case s.out <- msg:
		return
	default:
	}

	select {
	case <-s.out:
	default:
	}

	s.mu.Lock()
	s.lagged++
	n := s.lagged
	s.mu.Unlock()

	select {
	case s.out <- Message{Lagged: n}:
	default:
	}
}

// topic is a single shipment's subscriber set. It owns its own lock
// so publication latency to one shipment's subscribers never
// contends with another's (spec.md §5: "per-topic locks ... so that
// publication latency scales with subscribers, not total topics").
type topic struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// Hub is the Subscription Hub. It implements shipment.Publisher so a
// Shipment Actor can publish directly into it.
type Hub struct {
	mu     sync.RWMutex
	topics map[uuid.UUID]*topic

	buffer  int
	metrics *metrics.Metrics
}

// New builds a Hub. buffer is each session's outbound capacity
// (spec.md §4.11's documented default is 32).
func New(buffer int, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		topics:  make(map[uuid.UUID]*topic),
		buffer:  buffer,
		metrics: m,
	}
}

// BufferFromApp derives the hub's per-session buffer size from
// application config.
func BufferFromApp(c config.Config) int {
	return c.Subscriber.Buffer
}

// Subscribe registers a new session for shipmentID and returns it.
// The caller drains Session.C() until it calls Unsubscribe.
func (h *Hub) Subscribe(shipmentID uuid.UUID) *Session {
	t := h.getOrCreateTopic(shipmentID)
	sess := newSession(h.buffer)

	t.mu.Lock()
	t.sessions[sess.id] = sess
	t.mu.Unlock()

	h.refreshActiveGauge()
	return sess
}

// Unsubscribe removes a session from one shipment's topic.
func (h *Hub) Unsubscribe(shipmentID, sessionID uuid.UUID) {
	h.mu.RLock()
	t, ok := h.topics[shipmentID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	delete(t.sessions, sessionID)
	t.mu.Unlock()

	h.refreshActiveGauge()
}

// Disconnect removes a session from every shipment topic it holds, for
// use when a client connection closes. Callers track which shipments
// a session subscribed to; Disconnect is a convenience over repeated
// Unsubscribe calls so cleanup happens in one place.
func (h *Hub) Disconnect(shipmentIDs []uuid.UUID, sessionID uuid.UUID) {
	for _, id := range shipmentIDs {
		h.Unsubscribe(id, sessionID)
	}
}

// Publish fans event out to every session subscribed to shipmentID.
// It never blocks: a session whose buffer is full has its oldest
// queued message dropped and a lagged(n) marker delivered instead.
// Within one shipment id, sessions receive events in publish order;
// there is no ordering guarantee across shipments.
func (h *Hub) Publish(_ context.Context, shipmentID uuid.UUID, event shipment.Event) {
	h.mu.RLock()
	t, ok := h.topics[shipmentID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.RLock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.RUnlock()

	msg := Message{Event: &event}
	for _, s := range sessions {
		before := s.Lagged()
		s.deliver(msg)
		if h.metrics != nil && s.Lagged() > before {
			h.metrics.RecordSubscriberLagged("buffer_overflow")
		}
	}
}

// SubscriberCount reports how many sessions are currently subscribed
// to shipmentID, for tests and diagnostics.
func (h *Hub) SubscriberCount(shipmentID uuid.UUID) int {
	h.mu.RLock()
	t, ok := h.topics[shipmentID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (h *Hub) getOrCreateTopic(shipmentID uuid.UUID) *topic {
	h.mu.RLock()
	t, ok := h.topics[shipmentID]
	h.mu.RUnlock()
	if ok {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[shipmentID]; ok {
		return t
	}
	t := &topic{sessions: make(map[uuid.UUID]*Session)}
	h.topics[shipmentID] = t
	return t
}

func (h *Hub) refreshActiveGauge() {
	if h.metrics == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, t := range h.topics {
		t.mu.RLock()
		count += len(t.sessions)
		t.mu.RUnlock()
	}
	h.metrics.SetSubscribersActive(count)
}
