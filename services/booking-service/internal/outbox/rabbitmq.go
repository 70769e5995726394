package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage"
)

const DefaultExchange = "slotdesk.booking.events"

// RabbitMQSink publishes events to a durable topic exchange with the event type as routing key.
type RabbitMQSink struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
	mu       sync.Mutex
}

func NewRabbitMQSink(url, exchange string, logger *slog.Logger) (*RabbitMQSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	logger.Info("rabbitmq sink connected", "exchange", exchange)
	return &RabbitMQSink{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

func (s *RabbitMQSink) Send(ctx context.Context, rec storage.OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel.PublishWithContext(ctx, s.exchange, rec.EventType, false, false, Publishing(ctx, rec))
}

func (s *RabbitMQSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.channel.Close(); err != nil {
		s.logger.Warn("error closing channel", "err", err)
	}
	return s.conn.Close()
}

// Ready reports whether the broker connection is still open.
func (s *RabbitMQSink) Ready(context.Context) error {
	if s.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Publishing builds the AMQP message for rec with trace context headers.
func Publishing(ctx context.Context, rec storage.OutboxRecord) amqp.Publishing {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := amqp.Table{"aggregate_id": rec.AggregateID}
	for k, v := range carrier {
		headers[k] = v
	}
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.EventID,
		Type:         rec.EventType,
		Timestamp:    ts,
		Headers:      headers,
		Body:         rec.Payload,
	}
}
