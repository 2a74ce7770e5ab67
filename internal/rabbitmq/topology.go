package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Johannson17/tolling-service-bus/config"
)

// DeclareChannel is the subset of the AMQP channel the provisioner needs.
// *amqp.Channel satisfies it.
type DeclareChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Provisioner applies the declarative topology spec against a live broker
// channel. Declarations are idempotent: re-declaring an existing exchange or
// queue with identical arguments is a no-op on the broker, while conflicting
// arguments surface as a fatal TopologyError.
type Provisioner struct {
	exchange     string
	exchangeType string
	topology     config.Topology
	logger       *slog.Logger
}

// NewProvisioner creates a provisioner for the given broker and topology
// configuration.
func NewProvisioner(broker config.Broker, topology config.Topology, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		exchange:     broker.Exchange,
		exchangeType: broker.ExchangeType,
		topology:     topology,
		logger:       logger,
	}
}

// Apply declares the dead-letter exchange, the primary exchange, and every
// queue with its bindings and paired DLQ. Safe to call repeatedly; on any
// declaration failure the whole pass fails and the caller may retry the full
// sequence later.
func (p *Provisioner) Apply(ctx context.Context, ch DeclareChannel) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(p.topology.DLX, "fanout", true, false, false, false, nil); err != nil {
		return p.wrap("declare", "exchange", p.topology.DLX, err)
	}
	if err := ch.ExchangeDeclare(p.exchange, p.exchangeType, true, false, false, false, nil); err != nil {
		return p.wrap("declare", "exchange", p.exchange, err)
	}

	queueArgs := amqp.Table{
		"x-dead-letter-exchange": p.topology.DLX,
		"x-message-ttl":          p.topology.MessageTTL.Milliseconds(),
	}
	for _, q := range p.topology.Queues {
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, queueArgs); err != nil {
			return p.wrap("declare", "queue", q.Name, err)
		}
		for _, pattern := range q.Bindings {
			if err := ch.QueueBind(q.Name, pattern, p.exchange, false, nil); err != nil {
				return p.wrap("bind", "queue", q.Name, err)
			}
		}

		dlq := q.DLQName()
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return p.wrap("declare", "queue", dlq, err)
		}
		// catch-all binding: the DLX is a fanout exchange
		if err := ch.QueueBind(dlq, "", p.topology.DLX, false, nil); err != nil {
			return p.wrap("bind", "queue", dlq, err)
		}
	}

	p.logger.Info("topology applied",
		"exchange", p.exchange,
		"dlx", p.topology.DLX,
		"queues", len(p.topology.Queues))
	return nil
}

// DeclareValidatorQueue declares the worker's catch-all queue and binds it to
// the primary exchange with the # pattern so it observes all traffic.
func (p *Provisioner) DeclareValidatorQueue(ch DeclareChannel, name string) error {
	args := amqp.Table{
		"x-dead-letter-exchange": p.topology.DLX,
		"x-message-ttl":          p.topology.MessageTTL.Milliseconds(),
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return p.wrap("declare", "queue", name, err)
	}
	if err := ch.QueueBind(name, "#", p.exchange, false, nil); err != nil {
		return p.wrap("bind", "queue", name, err)
	}
	return nil
}

func (p *Provisioner) wrap(op, component, name string, err error) error {
	if isPreconditionFailed(err) {
		err = fmt.Errorf("%w: %v", ErrTopologyConflict, err)
	}
	return &TopologyError{
		Component: component,
		Name:      name,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}
