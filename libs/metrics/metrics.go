// Package metrics exposes the Prometheus collectors of the booking engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the booking and outbox code depend on; Nop satisfies it in tests.
type Recorder interface {
	AdmissionOutcome(kind string)
	ConflictRetry()
	AvailabilityComputed(d time.Duration)
	StatusTransition(to string)
	OutboxPublished(n int)
	OutboxFailed()
}

type Collector struct {
	admissions    *prometheus.CounterVec
	retries       prometheus.Counter
	availability  prometheus.Histogram
	transitions   *prometheus.CounterVec
	outboxSent    prometheus.Counter
	outboxFailure prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slotdesk_admissions_total",
			Help: "Booking admission attempts by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slotdesk_admission_conflict_retries_total",
			Help: "Admissions retried after a write conflict.",
		}),
		availability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "slotdesk_availability_seconds",
			Help:    "Latency of availability computations including the snapshot read.",
			Buckets: prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slotdesk_status_transitions_total",
			Help: "Appointment status transitions by target status.",
		}, []string{"to"}),
		outboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slotdesk_outbox_published_total",
			Help: "Outbox events delivered to the broker.",
		}),
		outboxFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slotdesk_outbox_publish_failures_total",
			Help: "Outbox batches that failed to publish.",
		}),
	}

	reg.MustRegister(
		c.admissions,
		c.retries,
		c.availability,
		c.transitions,
		c.outboxSent,
		c.outboxFailure,
	)
	return c
}

func (c *Collector) AdmissionOutcome(kind string) { c.admissions.WithLabelValues(kind).Inc() }
func (c *Collector) ConflictRetry()               { c.retries.Inc() }
func (c *Collector) AvailabilityComputed(d time.Duration) {
	c.availability.Observe(d.Seconds())
}
func (c *Collector) StatusTransition(to string) { c.transitions.WithLabelValues(to).Inc() }
func (c *Collector) OutboxPublished(n int)      { c.outboxSent.Add(float64(n)) }
func (c *Collector) OutboxFailed()              { c.outboxFailure.Inc() }

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type Nop struct{}

func (Nop) AdmissionOutcome(string)            {}
func (Nop) ConflictRetry()                     {}
func (Nop) AvailabilityComputed(time.Duration) {}
func (Nop) StatusTransition(string)            {}
func (Nop) OutboxPublished(int)                {}
func (Nop) OutboxFailed()                      {}
