// Package servicebus is the gateway between application modules and the
// shared topic-based message bus. It enforces the mandatory message envelope,
// validates per-event payload schemas, provisions broker topology
// idempotently, and publishes with delivery confirmation and unroutable
// detection.
package servicebus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Johannson17/tolling-service-bus/config"
	"github.com/Johannson17/tolling-service-bus/contracts"
	"github.com/Johannson17/tolling-service-bus/internal/rabbitmq"
	"github.com/Johannson17/tolling-service-bus/metrics"
	"github.com/Johannson17/tolling-service-bus/schema"
)

const defaultPublishTimeout = 30 * time.Second

// Client is the main entry point for the bus gateway.
type Client struct {
	cfg            *config.Config
	registry       *schema.Registry
	manager        *rabbitmq.ConnectionManager
	metrics        *metrics.BusMetrics
	logger         *slog.Logger
	publishTimeout time.Duration
}

type clientConfig struct {
	logger         *slog.Logger
	metrics        *metrics.BusMetrics
	publishTimeout time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithMetrics attaches a metrics collector. The caller registers it with a
// Prometheus registerer.
func WithMetrics(m *metrics.BusMetrics) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = m
	}
}

// WithPublishTimeout bounds publish calls whose context carries no deadline.
func WithPublishTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.publishTimeout = timeout
	}
}

// WithReconnectBackoff sets the reconnect backoff bounds.
func WithReconnectBackoff(initial, max time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.backoffInitial = initial
		cfg.backoffMax = max
	}
}

// NewClient builds a gateway client from a validated configuration.
func NewClient(cfg *config.Config, options ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	cc := &clientConfig{
		logger:         slog.Default(),
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range options {
		opt(cc)
	}

	provisioner := rabbitmq.NewProvisioner(cfg.Broker, cfg.Topology, cc.logger)
	managerOpts := []rabbitmq.ConnectionOption{
		rabbitmq.WithLogger(cc.logger),
		rabbitmq.WithHeartbeat(cfg.Broker.Heartbeat),
	}
	if cc.backoffInitial > 0 {
		managerOpts = append(managerOpts, rabbitmq.WithBackoff(cc.backoffInitial, cc.backoffMax))
	}

	return &Client{
		cfg:            cfg,
		registry:       schema.NewRegistry(),
		manager:        rabbitmq.NewConnectionManager(cfg.Broker.URL, provisioner, managerOpts...),
		metrics:        cc.metrics,
		logger:         cc.logger,
		publishTimeout: cc.publishTimeout,
	}, nil
}

// ValidateEnvelope checks a raw message against the envelope schema and the
// payload schema registered for its event. Pure, no I/O.
func (c *Client) ValidateEnvelope(raw []byte) (*contracts.Envelope, error) {
	return c.registry.Validate(raw)
}

// RegisteredEvents lists all event names the bus accepts, sorted.
func (c *Client) RegisteredEvents() []string {
	return c.registry.Events()
}

// EnsureTopology provisions the broker topology for the current connection
// epoch. Repeated calls after success are free; after a reconnect the next
// call re-provisions.
func (c *Client) EnsureTopology(ctx context.Context) error {
	return c.manager.EnsureTopology(ctx)
}

// Ready reports whether the gateway can accept publishes right now: broker
// reachable and topology applied. Used by health-check collaborators.
func (c *Client) Ready(ctx context.Context) bool {
	return c.manager.EnsureTopology(ctx) == nil
}

// Publish validates the envelope and publishes its canonical JSON form.
func (c *Client) Publish(ctx context.Context, routingKey string, env *contracts.Envelope) contracts.PublishOutcome {
	raw, err := env.Marshal()
	if err != nil {
		return contracts.PublishOutcome{
			Status:     contracts.StatusValidationFailed,
			Exchange:   c.cfg.Broker.Exchange,
			RoutingKey: routingKey,
			Err:        fmt.Errorf("marshal envelope: %w", err),
		}
	}
	return c.PublishJSON(ctx, routingKey, raw)
}

// PublishJSON validates a raw envelope and publishes those exact bytes to the
// primary exchange, persistent and mandatory. An empty routing key defaults
// to the envelope's event name; that equivalence is a caller convention, not
// something the gateway enforces.
//
// Each call is exactly one network attempt with one definitive outcome. A
// context deadline bounds the whole call, reconnect backoff included; on
// expiry the outcome is connection-failed and deliberately ambiguous, since
// a message already handed to the broker cannot be recalled.
func (c *Client) PublishJSON(ctx context.Context, routingKey string, raw []byte) contracts.PublishOutcome {
	start := time.Now()
	outcome := c.publishJSON(ctx, routingKey, raw)
	c.metrics.ObservePublish(outcomeEvent(outcome), string(outcome.Status), time.Since(start))
	return outcome
}

func (c *Client) publishJSON(ctx context.Context, routingKey string, raw []byte) contracts.PublishOutcome {
	env, err := c.registry.Validate(raw)
	if err != nil {
		return contracts.PublishOutcome{
			Status:     contracts.StatusValidationFailed,
			Event:      peekEvent(raw),
			Exchange:   c.cfg.Broker.Exchange,
			RoutingKey: routingKey,
			Err:        err,
		}
	}

	if routingKey == "" {
		routingKey = env.Event
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.publishTimeout)
		defer cancel()
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         raw,
	}
	if env.Meta.CorrelationID != "" {
		// Downstream consumers deduplicate on the message id.
		msg.MessageId = env.Meta.CorrelationID
		msg.CorrelationId = env.Meta.CorrelationID
	}

	base := contracts.PublishOutcome{
		Event:      env.Event,
		Exchange:   c.cfg.Broker.Exchange,
		RoutingKey: routingKey,
	}

	res, err := c.manager.PublishWithConfirm(ctx, routingKey, msg)
	if err != nil {
		base.Status = contracts.StatusConnectionFailed
		base.Err = err
		return base
	}

	if res.Unroutable() {
		base.Status = contracts.StatusUnroutable
		base.ReplyCode = res.Returned.ReplyCode
		base.ReplyText = res.Returned.ReplyText
		return base
	}
	if !res.Acked {
		base.Status = contracts.StatusConnectionFailed
		base.Err = rabbitmq.ErrPublishNacked
		return base
	}
	base.Status = contracts.StatusConfirmed
	return base
}

// Close releases the broker connection. The client cannot be reused.
func (c *Client) Close() error {
	return c.manager.Close()
}

// Manager exposes the connection manager to health checkers and the
// validator worker.
func (c *Client) Manager() *rabbitmq.ConnectionManager {
	return c.manager
}

func outcomeEvent(o contracts.PublishOutcome) string {
	if o.Event == "" {
		return "unknown"
	}
	return o.Event
}

// peekEvent extracts the event name from an envelope that failed validation,
// for outcome reporting only.
func peekEvent(raw []byte) string {
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Event
}
