package kafka

import (
	"context"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/outbox"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
	HeaderEventID      = "x-event-id"
)

// Producer writes synchronously and waits for all in-sync replicas, so the
// outbox relay only marks a row published after the broker acked it. The
// topic travels on each message.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

var _ outbox.Publisher = (*Producer)(nil)

func (p *Producer) Publish(ctx context.Context, m outbox.Message) error {
	return p.w.WriteMessages(ctx, ToKafka(m))
}

func (p *Producer) Close() error { return p.w.Close() }

// ToKafka maps an outbox row onto a broker message keyed by order id.
func ToKafka(m outbox.Message) kafka.Message {
	return kafka.Message{
		Topic: m.Topic,
		Key:   orders.PartitionKey(m.Key),
		Value: m.Payload,
		Time:  m.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(m.EventType)},
			{Key: HeaderEventVersion, Value: []byte("1")},
			{Key: HeaderEventID, Value: []byte(m.ID)},
		},
	}
}
