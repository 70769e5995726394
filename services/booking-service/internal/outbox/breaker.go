package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage"
)

var ErrBrokerUnavailable = errors.New("broker circuit open")

type BreakerConfig struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// BreakerSink stops hammering a failing broker. While open, sends fail fast and the
// events stay in the outbox for a later batch.
type BreakerSink struct {
	next    Sink
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerSink(next Sink, cfg BreakerConfig, logger *slog.Logger) *BreakerSink {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "outbox-sink",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerSink{next: next, breaker: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (s *BreakerSink) Send(ctx context.Context, rec storage.OutboxRecord) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.next.Send(ctx, rec)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBrokerUnavailable
	}
	return err
}

func (s *BreakerSink) State() gobreaker.State {
	return s.breaker.State()
}

func (s *BreakerSink) Close() error {
	return s.next.Close()
}
