package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/slotdesk/libs/kafkax"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage"
)

// KafkaSink writes each event to the topic named after its event type, keyed by aggregate id
// so events of one appointment stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}}
}

func (s *KafkaSink) Send(ctx context.Context, rec storage.OutboxRecord) error {
	return s.writer.WriteMessages(ctx, Message(ctx, rec))
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Message builds the Kafka message for rec, carrying the trace context found in ctx.
func Message(ctx context.Context, rec storage.OutboxRecord) kafka.Message {
	headers := kafkax.EventMeta{EventID: rec.EventID, EventType: rec.EventType}.Headers()
	return kafka.Message{
		Topic:   rec.EventType,
		Key:     []byte(rec.AggregateID),
		Value:   rec.Payload,
		Headers: kafkax.InjectTraceHeaders(ctx, headers),
		Time:    rec.CreatedAt,
	}
}
