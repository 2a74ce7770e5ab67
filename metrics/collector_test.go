package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusMetrics(t *testing.T) {
	t.Run("Register attaches collectors once", func(t *testing.T) {
		m := NewBusMetrics()
		reg := prometheus.NewRegistry()

		require.NoError(t, m.Register(reg))
		require.NoError(t, m.Register(reg), "second registration is a no-op")
	})

	t.Run("ObservePublish counts by event and outcome", func(t *testing.T) {
		m := NewBusMetrics()
		reg := prometheus.NewRegistry()
		require.NoError(t, m.Register(reg))

		m.ObservePublish("transit.recorded", "confirmed", 5*time.Millisecond)
		m.ObservePublish("transit.recorded", "confirmed", 7*time.Millisecond)
		m.ObservePublish("payment.recorded", "unroutable", 3*time.Millisecond)

		confirmed := testutil.ToFloat64(m.publishOutcomes.WithLabelValues("transit.recorded", "confirmed"))
		unroutable := testutil.ToFloat64(m.publishOutcomes.WithLabelValues("payment.recorded", "unroutable"))
		assert.Equal(t, 2.0, confirmed)
		assert.Equal(t, 1.0, unroutable)
	})

	t.Run("ObserveValidator counts results", func(t *testing.T) {
		m := NewBusMetrics()
		reg := prometheus.NewRegistry()
		require.NoError(t, m.Register(reg))

		m.ObserveValidator("acked")
		m.ObserveValidator("dead_lettered")
		m.ObserveValidator("dead_lettered")

		assert.Equal(t, 2.0, testutil.ToFloat64(m.validatorMessages.WithLabelValues("dead_lettered")))
	})

	t.Run("nil receiver is safe", func(t *testing.T) {
		var m *BusMetrics

		assert.NotPanics(t, func() {
			m.ObservePublish("transit.recorded", "confirmed", time.Millisecond)
			m.ObserveValidator("acked")
			_ = m.Register(prometheus.NewRegistry())
		})
	})
}
