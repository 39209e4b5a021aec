package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/domain/outbox"
	"github.com/zestmarket/marketplace/internal/domain/payment"
	"github.com/zestmarket/marketplace/internal/domain/payout"
	"github.com/zestmarket/marketplace/internal/observability"
)

// Publisher mirrors bus events onto a Kafka topic for external consumers
// (notifications, analytics). Delivery here is best effort; the bus, not
// Kafka, drives the in-process workers.
type Publisher struct {
	client *kgo.Client
	topic  string
	log    observability.Logger
}

func NewPublisher(brokers []string, topic string, tel observability.Telemetry) (*Publisher, error) {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		client: client,
		topic:  topic,
		log:    tel.Logger().With(observability.F("component", "kafka_publisher")),
	}, nil
}

func (p *Publisher) Close() {
	p.client.Close()
}

// Register subscribes the mirror to every pipeline event.
func (p *Publisher) Register(sub outbox.Subscriber) {
	names := []string{
		order.OrderCreatedEvent{}.EventName(),
		order.OrderShippedEvent{}.EventName(),
		order.OrderDeliveredEvent{}.EventName(),
		order.OrderCancelledEvent{}.EventName(),
		order.OrderRefundedEvent{}.EventName(),
		payment.PaymentCompletedEvent{}.EventName(),
		payment.PaymentFailedEvent{}.EventName(),
		payout.PayoutCreatedEvent{}.EventName(),
	}
	for _, name := range names {
		sub.Subscribe(name, p.handle)
	}
}

type envelope struct {
	Name       string    `json:"name"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func (p *Publisher) handle(ctx context.Context, e outbox.Event) error {
	value, err := json.Marshal(envelope{
		Name:       e.EventName(),
		OccurredAt: time.Now().UTC(),
		Payload:    e,
	})
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(e.EventName()),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		p.log.Warn("kafka_produce_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
		return err
	}
	return nil
}
