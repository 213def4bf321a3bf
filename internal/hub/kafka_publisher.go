package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"shiptrack/internal/shipment"
	"shiptrack/pkg/logger"
)

// KafkaPublisher mirrors shipment events onto a Kafka topic for
// downstream consumers outside the process (analytics, audit
// pipelines), alongside the in-process Subscription Hub rather than
// instead of it. It implements shipment.Publisher.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher that batches writes to topic
// across the given brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}
	return &KafkaPublisher{writer: writer}
}

// wireEvent is the JSON shape written to the topic; it mirrors
// shipment.Event but keeps the wire format independent of that type's
// field layout.
type wireEvent struct {
	Kind        shipment.EventKind `json:"kind"`
	ShipmentID  uuid.UUID          `json:"shipment_id"`
	ObservedAt  time.Time          `json:"observed_at"`
	Snapped     any                `json:"snapped,omitempty"`
	ETAs        any                `json:"etas,omitempty"`
	Advisory    any                `json:"advisory,omitempty"`
	Reroute     any                `json:"reroute,omitempty"`
	ResidualPct float64            `json:"residual_pct"`
}

// Publish satisfies shipment.Publisher. Kafka writes happen off the
// actor's hot path in a goroutine; Publisher.Publish has no error
// return, so failures are logged rather than surfaced to the caller.
func (p *KafkaPublisher) Publish(ctx context.Context, shipmentID uuid.UUID, event shipment.Event) {
	msg := wireEvent{
		Kind:        event.Kind,
		ShipmentID:  shipmentID,
		ObservedAt:  event.ObservedAt,
		Snapped:     event.Snapped,
		ETAs:        event.ETAs,
		Advisory:    event.Advisory,
		Reroute:     event.Reroute,
		ResidualPct: event.ResidualPct,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("kafka publisher: marshal event failed", "shipment_id", shipmentID, "error", err)
		return
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.writer.WriteMessages(writeCtx, kafka.Message{
			Key:   []byte(shipmentID.String()),
			Value: data,
			Time:  event.ObservedAt,
		}); err != nil {
			logger.Error("kafka publisher: write failed", "shipment_id", shipmentID, "error", err)
		}
	}()
	_ = ctx
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// MultiPublisher fans a shipment event out to every underlying
// Publisher, used to mirror events onto both the in-process
// Subscription Hub and the optional Kafka bus.
type MultiPublisher struct {
	publishers []shipment.Publisher
}

// NewMultiPublisher combines the given publishers; nil entries are
// skipped so callers can pass an optionally-nil Kafka publisher
// without a branch at the call site.
func NewMultiPublisher(publishers ...shipment.Publisher) *MultiPublisher {
	live := make([]shipment.Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			live = append(live, p)
		}
	}
	return &MultiPublisher{publishers: live}
}

func (m *MultiPublisher) Publish(ctx context.Context, shipmentID uuid.UUID, event shipment.Event) {
	for _, p := range m.publishers {
		p.Publish(ctx, shipmentID, event)
	}
}
