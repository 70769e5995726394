package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotdesk/libs/metrics"
	otelx "github.com/md-rashed-zaman/slotdesk/libs/otel"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage"
)

// Source is the outbox table of the appointment store.
type Source interface {
	DrainOutbox(ctx context.Context, limit int, send func(context.Context, storage.OutboxRecord) error) (int, error)
}

// Sink delivers one event to a broker. The topic or routing key is the event type.
type Sink interface {
	Send(ctx context.Context, rec storage.OutboxRecord) error
	Close() error
}

// Publisher ships committed outbox events to the sink. Delivery is at least once;
// consumers de-duplicate on the event id.
type Publisher struct {
	source    Source
	sink      Sink
	logger    *slog.Logger
	metrics   metrics.Recorder
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
	Metrics   metrics.Recorder
}

func NewPublisher(source Source, sink Sink, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	return &Publisher{
		source:    source,
		sink:      sink,
		logger:    logger,
		metrics:   cfg.Metrics,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if p.sink == nil {
		p.logger.Warn("outbox publisher disabled (no broker configured)")
		return
	}
	defer func() {
		if err := p.sink.Close(); err != nil {
			p.logger.Warn("outbox sink close failed", "err", err)
		}
	}()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishBatch sends up to one batch and reports how many events were marked published.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	n, err := p.source.DrainOutbox(ctx, p.batchSize, func(ctx context.Context, rec storage.OutboxRecord) error {
		msgCtx := otelx.TraceContext{Traceparent: rec.Traceparent, Tracestate: rec.Tracestate}.Into(ctx)
		return p.sink.Send(msgCtx, rec)
	})
	if n > 0 {
		p.metrics.OutboxPublished(n)
		p.logger.Debug("outbox events published", "count", n)
	}
	if err != nil {
		p.metrics.OutboxFailed()
	}
	return n, err
}
