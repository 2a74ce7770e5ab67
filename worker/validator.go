// Package worker runs the bus validator: a catch-all consumer that
// re-validates every message crossing the primary exchange, acks conforming
// traffic, and dead-letters the rest with an audit trail.
package worker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Johannson17/tolling-service-bus/config"
	"github.com/Johannson17/tolling-service-bus/contracts"
	"github.com/Johannson17/tolling-service-bus/internal/rabbitmq"
	"github.com/Johannson17/tolling-service-bus/metrics"
	"github.com/Johannson17/tolling-service-bus/schema"
)

const (
	prefetchCount = 100
	restartDelay  = 5 * time.Second
	auditProducer = "validator-worker"
)

// AuditPublisher publishes audit envelopes for rejected messages. The
// gateway Client satisfies it.
type AuditPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, raw []byte) contracts.PublishOutcome
}

// Validator consumes the catch-all queue and gates traffic through the
// schema registry. It holds its own broker connection so a consumer stall
// never blocks publishers.
type Validator struct {
	cfg      *config.Config
	registry *schema.Registry
	audit    AuditPublisher
	metrics  *metrics.BusMetrics
	logger   *slog.Logger
	delay    time.Duration
}

// ValidatorOption configures the worker.
type ValidatorOption func(*Validator)

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = logger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.BusMetrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// WithRestartDelay overrides the pause between consume sessions.
func WithRestartDelay(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.delay = d }
}

// NewValidator builds a worker. audit may be nil to disable audit events.
func NewValidator(cfg *config.Config, audit AuditPublisher, options ...ValidatorOption) *Validator {
	v := &Validator{
		cfg:      cfg,
		registry: schema.NewRegistry(),
		audit:    audit,
		logger:   slog.Default(),
		delay:    restartDelay,
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// Run consumes until ctx is cancelled. Each broken session is restarted
// after a fixed delay; the returned error is always ctx.Err().
func (v *Validator) Run(ctx context.Context) error {
	for {
		if err := v.consumeSession(ctx); err != nil && ctx.Err() == nil {
			v.logger.Warn("consumer session ended, restarting",
				"error", err,
				"delay", v.delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.delay):
		}
	}
}

// consumeSession dials, provisions, and consumes until the channel dies or
// ctx is cancelled.
func (v *Validator) consumeSession(ctx context.Context) error {
	conn, err := amqp.DialConfig(v.cfg.Broker.URL, amqp.Config{
		Heartbeat: v.cfg.Broker.Heartbeat,
		Properties: amqp.Table{
			"connection_name": "tolling-service-bus-validator",
		},
	})
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	provisioner := rabbitmq.NewProvisioner(v.cfg.Broker, v.cfg.Topology, v.logger)
	if err := provisioner.Apply(ctx, ch); err != nil {
		return fmt.Errorf("apply topology: %w", err)
	}
	queue := v.cfg.Topology.ValidatorQueue
	if err := provisioner.DeclareValidatorQueue(ch, queue); err != nil {
		return fmt.Errorf("declare validator queue: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming %s: %w", queue, err)
	}

	v.logger.Info("validator consuming", "queue", queue, "prefetch", prefetchCount)

	for delivery := range deliveries {
		v.HandleDelivery(ctx, delivery)
	}
	return errors.New("delivery channel closed")
}

// HandleDelivery validates one message. Valid messages are acked; invalid
// ones are rejected without requeue so they dead-letter, and a best-effort
// audit event records the rejection.
func (v *Validator) HandleDelivery(ctx context.Context, delivery amqp.Delivery) {
	_, err := v.registry.Validate(delivery.Body)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			v.logger.Warn("ack failed", "error", ackErr, "routing_key", delivery.RoutingKey)
		}
		v.metrics.ObserveValidator("valid")
		return
	}

	v.logger.Warn("rejecting invalid message",
		"routing_key", delivery.RoutingKey,
		"error", err)
	if nackErr := delivery.Nack(false, false); nackErr != nil {
		v.logger.Warn("nack failed", "error", nackErr, "routing_key", delivery.RoutingKey)
	}
	v.metrics.ObserveValidator("invalid")

	v.publishAudit(ctx, delivery, err)
}

// publishAudit emits an audit.logged event for a rejected message. Failures
// are logged and swallowed; auditing never interferes with consumption.
func (v *Validator) publishAudit(ctx context.Context, delivery amqp.Delivery, cause error) {
	if v.audit == nil {
		return
	}

	eventType := "unknown"
	var probe struct {
		Event string `json:"event"`
	}
	if json.Unmarshal(delivery.Body, &probe) == nil && probe.Event != "" {
		eventType = probe.Event
	}

	now := time.Now().UTC()
	data, err := json.Marshal(map[string]any{
		"event_id":   ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		"event_type": eventType,
		"timestamp":  now.Format(time.RFC3339),
		"toll_name":  "bus-validator",
		"details":    fmt.Sprintf("rejected message on %q: %v", delivery.RoutingKey, cause),
	})
	if err != nil {
		v.logger.Warn("audit payload marshal failed", "error", err)
		return
	}

	audit := &contracts.Envelope{
		Event:   "audit.logged",
		Version: "1.0",
		Data:    data,
		Meta: contracts.Meta{
			OccurredAt:    now.Format(time.RFC3339),
			Producer:      auditProducer,
			CorrelationID: delivery.CorrelationId,
		},
	}
	raw, err := audit.Marshal()
	if err != nil {
		v.logger.Warn("audit envelope marshal failed", "error", err)
		return
	}

	if outcome := v.audit.PublishJSON(ctx, "audit.logged", raw); !outcome.Confirmed() {
		v.logger.Warn("audit publish not confirmed",
			"status", outcome.Status,
			"error", outcome.Err)
	}
}
