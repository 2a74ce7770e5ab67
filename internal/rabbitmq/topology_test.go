package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johannson17/tolling-service-bus/config"
)

// fakeDeclareChannel records declarations and can be told to fail on a
// specific name.
type fakeDeclareChannel struct {
	exchanges []string
	queues    []string
	queueArgs map[string]amqp.Table
	bindings  []string // "queue|key|exchange"
	failOn    string
	failWith  error
}

func newFakeDeclareChannel() *fakeDeclareChannel {
	return &fakeDeclareChannel{queueArgs: make(map[string]amqp.Table)}
}

func (f *fakeDeclareChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if name == f.failOn {
		return f.failWith
	}
	f.exchanges = append(f.exchanges, name+":"+kind)
	if !durable {
		return fmt.Errorf("exchange %s declared non-durable", name)
	}
	return nil
}

func (f *fakeDeclareChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if name == f.failOn {
		return amqp.Queue{}, f.failWith
	}
	if !durable {
		return amqp.Queue{}, fmt.Errorf("queue %s declared non-durable", name)
	}
	f.queues = append(f.queues, name)
	f.queueArgs[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeDeclareChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	if name == f.failOn {
		return f.failWith
	}
	f.bindings = append(f.bindings, fmt.Sprintf("%s|%s|%s", name, key, exchange))
	return nil
}

func testTopology() (config.Broker, config.Topology) {
	broker := config.Broker{
		URL:          "amqp://localhost:5672",
		Exchange:     "tolling.bus",
		ExchangeType: "topic",
	}
	topology := config.Topology{
		DLX:        "tolling.dlx",
		MessageTTL: 168 * time.Hour,
		Queues: []config.QueueSpec{
			{Name: "ops.q", Bindings: []string{"transit.*", "toll.status.*"}},
			{Name: "billing.q", Bindings: []string{"payment.recorded"}},
		},
	}
	return broker, topology
}

func TestProvisionerApply(t *testing.T) {
	t.Run("Apply declares exchanges, queues, bindings and DLQs in order", func(t *testing.T) {
		broker, topology := testTopology()
		p := NewProvisioner(broker, topology, nil)
		ch := newFakeDeclareChannel()

		err := p.Apply(context.Background(), ch)

		require.NoError(t, err)
		assert.Equal(t, []string{"tolling.dlx:fanout", "tolling.bus:topic"}, ch.exchanges)
		assert.Equal(t, []string{"ops.q", "ops.q.dlq", "billing.q", "billing.q.dlq"}, ch.queues)
		assert.Equal(t, []string{
			"ops.q|transit.*|tolling.bus",
			"ops.q|toll.status.*|tolling.bus",
			"ops.q.dlq||tolling.dlx",
			"billing.q|payment.recorded|tolling.bus",
			"billing.q.dlq||tolling.dlx",
		}, ch.bindings)
	})

	t.Run("queues carry dead-letter and TTL arguments", func(t *testing.T) {
		broker, topology := testTopology()
		p := NewProvisioner(broker, topology, nil)
		ch := newFakeDeclareChannel()

		require.NoError(t, p.Apply(context.Background(), ch))

		args := ch.queueArgs["ops.q"]
		assert.Equal(t, "tolling.dlx", args["x-dead-letter-exchange"])
		assert.Equal(t, int64(604800000), args["x-message-ttl"])
		assert.Nil(t, ch.queueArgs["ops.q.dlq"], "DLQs are plain durable queues")
	})

	t.Run("Apply is idempotent against the same channel", func(t *testing.T) {
		broker, topology := testTopology()
		p := NewProvisioner(broker, topology, nil)
		ch := newFakeDeclareChannel()

		require.NoError(t, p.Apply(context.Background(), ch))
		first := len(ch.queues)
		require.NoError(t, p.Apply(context.Background(), ch))

		// Same declarations again: the broker treats identical re-declares
		// as no-ops, and no error surfaces.
		assert.Equal(t, first*2, len(ch.queues))
	})

	t.Run("declaration failure aborts the whole pass", func(t *testing.T) {
		broker, topology := testTopology()
		p := NewProvisioner(broker, topology, nil)
		ch := newFakeDeclareChannel()
		ch.failOn = "billing.q"
		ch.failWith = errors.New("channel gone")

		err := p.Apply(context.Background(), ch)

		var topoErr *TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "billing.q", topoErr.Name)
		assert.Equal(t, "queue", topoErr.Component)
		assert.False(t, topoErr.Fatal())
		assert.NotContains(t, ch.queues, "billing.q.dlq", "nothing declared past the failure")
	})

	t.Run("precondition-failed marks the error fatal", func(t *testing.T) {
		broker, topology := testTopology()
		p := NewProvisioner(broker, topology, nil)
		ch := newFakeDeclareChannel()
		ch.failOn = "tolling.bus"
		ch.failWith = &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg 'type'"}

		err := p.Apply(context.Background(), ch)

		var topoErr *TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.True(t, topoErr.Fatal())
		assert.False(t, IsRetryable(err), "configuration drift is not retried")
	})

	t.Run("cancelled context stops before declaring", func(t *testing.T) {
		broker, topology := testTopology()
		p := NewProvisioner(broker, topology, nil)
		ch := newFakeDeclareChannel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := p.Apply(ctx, ch)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, ch.exchanges)
	})
}

func TestDeclareValidatorQueue(t *testing.T) {
	t.Run("validator queue binds catch-all to the primary exchange", func(t *testing.T) {
		broker, topology := testTopology()
		p := NewProvisioner(broker, topology, nil)
		ch := newFakeDeclareChannel()

		err := p.DeclareValidatorQueue(ch, "bus.validator.q")

		require.NoError(t, err)
		assert.Equal(t, []string{"bus.validator.q"}, ch.queues)
		assert.Equal(t, []string{"bus.validator.q|#|tolling.bus"}, ch.bindings)
		assert.Equal(t, "tolling.dlx", ch.queueArgs["bus.validator.q"]["x-dead-letter-exchange"])
	})
}
