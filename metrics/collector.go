// Package metrics exposes Prometheus collectors for the bus gateway: publish
// outcomes, publish latency, and validator worker activity.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BusMetrics tracks gateway activity. All methods are nil-safe so wiring
// metrics stays optional.
type BusMetrics struct {
	mu         sync.Mutex
	registered bool

	publishOutcomes   *prometheus.CounterVec
	publishDuration   *prometheus.HistogramVec
	validatorMessages *prometheus.CounterVec
}

// NewBusMetrics creates the collectors without registering them.
func NewBusMetrics() *BusMetrics {
	return &BusMetrics{
		publishOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicebus",
				Subsystem: "publisher",
				Name:      "outcomes_total",
				Help:      "Publish attempts by event type and outcome.",
			},
			[]string{"event", "outcome"},
		),
		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "servicebus",
				Subsystem: "publisher",
				Name:      "duration_seconds",
				Help:      "Wall time of publish calls, validation through confirmation.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
			},
			[]string{"outcome"},
		),
		validatorMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicebus",
				Subsystem: "validator",
				Name:      "messages_total",
				Help:      "Messages seen by the validator worker, by result.",
			},
			[]string{"result"},
		),
	}
}

// Register attaches the collectors to a Prometheus registerer. Calling it
// again is a no-op.
func (m *BusMetrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.publishOutcomes, m.publishDuration, m.validatorMessages} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	m.registered = true
	return nil
}

// ObservePublish records one publish attempt.
func (m *BusMetrics) ObservePublish(event, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.publishOutcomes.WithLabelValues(event, outcome).Inc()
	m.publishDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveValidator records one message handled by the validator worker.
// Result is one of "acked", "dead_lettered".
func (m *BusMetrics) ObserveValidator(result string) {
	if m == nil {
		return
	}
	m.validatorMessages.WithLabelValues(result).Inc()
}
