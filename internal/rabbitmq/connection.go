package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// State describes the connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
)

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 15 * time.Second
	// buffer sizes for broker notification channels; one publish is in
	// flight at a time, slack absorbs late confirms after a timeout
	notifyBuffer = 16
)

// ConnectionManager owns the single broker connection/channel pair shared by
// all callers. The broker channel is not safe for interleaved publishes, so
// every operation that touches it runs inside the manager's critical section:
// one operation completes, including observing its confirmation or return,
// before the next begins.
//
// Reconnection is on demand with exponential backoff, retried until the
// caller's context expires. A gateway keeps trying rather than giving up: a
// dropped message costs more than a delayed one.
type ConnectionManager struct {
	url          string
	heartbeat    time.Duration
	provisioner  *Provisioner
	logger       *slog.Logger
	initialDelay time.Duration
	maxDelay     time.Duration

	// sem serializes connect, topology, and publish. A channel instead of a
	// mutex so waiters can give up when their context expires.
	sem chan struct{}

	// guarded by sem
	state           State
	conn            *amqp.Connection
	channel         *amqp.Channel
	confirms        chan amqp.Confirmation
	returns         chan amqp.Return
	closeCh         chan *amqp.Error
	topologyApplied bool
	publishSeq      uint64
	epoch           string
	closed          bool
}

// ConnectionOption configures the ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithHeartbeat sets the AMQP heartbeat interval.
func WithHeartbeat(interval time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.heartbeat = interval
	}
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(initial, max time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.initialDelay = initial
		cm.maxDelay = max
	}
}

// NewConnectionManager creates a manager for the given broker URL. The
// provisioner is applied once per connection epoch via EnsureTopology.
func NewConnectionManager(url string, provisioner *Provisioner, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:          url,
		heartbeat:    10 * time.Second,
		provisioner:  provisioner,
		logger:       slog.Default(),
		initialDelay: defaultInitialBackoff,
		maxDelay:     defaultMaxBackoff,
		sem:          make(chan struct{}, 1),
		state:        StateDisconnected,
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// acquire enters the critical section, honoring the caller's context.
func (cm *ConnectionManager) acquire(ctx context.Context) error {
	select {
	case cm.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &ConnectionError{
			Op:        "acquire",
			URL:       SanitizeURL(cm.url),
			Err:       ctx.Err(),
			Timestamp: time.Now(),
		}
	}
}

func (cm *ConnectionManager) release() {
	<-cm.sem
}

// State reports the current lifecycle state. A torn-down connection is
// reported as disconnected even before the next acquire notices it.
func (cm *ConnectionManager) State() State {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := cm.acquire(ctx); err != nil {
		// Critical section busy: a connect or publish is in progress.
		return StateConnecting
	}
	defer cm.release()
	return cm.stateLocked()
}

func (cm *ConnectionManager) stateLocked() State {
	if cm.state == StateReady && (cm.conn == nil || cm.conn.IsClosed() || cm.channel.IsClosed()) {
		return StateDisconnected
	}
	return cm.state
}

// IsConnected reports whether a live channel is available right now.
func (cm *ConnectionManager) IsConnected() bool {
	return cm.State() == StateReady
}

// AcquireChannel returns the live channel, (re)connecting if necessary. The
// caller's context bounds the whole wait, backoff included. The returned
// channel remains owned by the manager; publishes must go through
// PublishWithConfirm, which serializes access.
func (cm *ConnectionManager) AcquireChannel(ctx context.Context) (*amqp.Channel, error) {
	if err := cm.acquire(ctx); err != nil {
		return nil, err
	}
	defer cm.release()

	if err := cm.ensureConnectedLocked(ctx); err != nil {
		return nil, err
	}
	return cm.channel, nil
}

// EnsureTopology provisions the broker topology once per connection epoch.
// Repeated calls after success are free; after a reconnect the epoch flag
// resets and the next call re-provisions, since broker-side state may have
// been lost if the broker itself restarted.
func (cm *ConnectionManager) EnsureTopology(ctx context.Context) error {
	if err := cm.acquire(ctx); err != nil {
		return err
	}
	defer cm.release()

	if err := cm.ensureConnectedLocked(ctx); err != nil {
		return err
	}
	return cm.ensureTopologyLocked(ctx)
}

func (cm *ConnectionManager) ensureTopologyLocked(ctx context.Context) error {
	if cm.topologyApplied {
		return nil
	}
	if err := cm.provisioner.Apply(ctx, cm.channel); err != nil {
		return err
	}
	cm.topologyApplied = true
	return nil
}

// Close tears down the connection. The manager cannot be reused afterwards.
func (cm *ConnectionManager) Close() error {
	cm.sem <- struct{}{}
	defer cm.release()

	if cm.closed {
		return nil
	}
	cm.closed = true
	cm.teardownLocked()
	cm.logger.Info("connection manager closed")
	return nil
}

// ensureConnectedLocked dials until a channel is live or ctx expires. Must be
// called inside the critical section.
func (cm *ConnectionManager) ensureConnectedLocked(ctx context.Context) error {
	if cm.closed {
		return &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: ErrManagerClosed, Timestamp: time.Now()}
	}
	if cm.stateLocked() == StateReady {
		return nil
	}
	cm.teardownLocked()
	cm.state = StateConnecting

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cm.initialDelay
	bo.MaxInterval = cm.maxDelay

	attempts := 0
	for {
		attempts++
		err := cm.connectOnceLocked()
		if err == nil {
			cm.logger.Info("connected to broker",
				"url", SanitizeURL(cm.url),
				"epoch", cm.epoch,
				"attempts", attempts)
			return nil
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			delay = cm.maxDelay
		}
		cm.logger.Warn("broker connection failed",
			"error", err,
			"attempt", attempts,
			"nextRetryIn", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			cm.state = StateDisconnected
			return &ConnectionError{
				Op:        "connect",
				URL:       SanitizeURL(cm.url),
				Err:       ErrConnectionTimeout,
				Timestamp: time.Now(),
				Attempts:  attempts,
			}
		}
	}
}

// connectOnceLocked performs a single dial and channel setup. On success the
// new epoch starts with confirm mode on, the return listener registered, and
// the topology flag reset.
func (cm *ConnectionManager) connectOnceLocked() error {
	conn, err := amqp.DialConfig(cm.url, amqp.Config{
		Heartbeat: cm.heartbeat,
		Properties: amqp.Table{
			"connection_name": "tolling-service-bus",
		},
	})
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return err
	}

	cm.conn = conn
	cm.channel = ch
	cm.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, notifyBuffer))
	cm.returns = ch.NotifyReturn(make(chan amqp.Return, notifyBuffer))
	cm.closeCh = conn.NotifyClose(make(chan *amqp.Error, 1))
	cm.topologyApplied = false
	cm.publishSeq = 0
	cm.epoch = uuid.NewString()
	cm.state = StateReady
	return nil
}

// teardownLocked discards the current connection/channel pair entirely. No
// partial reuse: reconnection always builds a fresh pair.
func (cm *ConnectionManager) teardownLocked() {
	if cm.conn != nil && !cm.conn.IsClosed() {
		cm.conn.Close()
	}
	cm.conn = nil
	cm.channel = nil
	cm.confirms = nil
	cm.returns = nil
	cm.closeCh = nil
	cm.topologyApplied = false
	cm.state = StateDisconnected
}

// Ping verifies broker liveness with a passive declare of the primary
// exchange, (re)connecting first if needed.
func (cm *ConnectionManager) Ping(ctx context.Context) error {
	if err := cm.acquire(ctx); err != nil {
		return err
	}
	defer cm.release()

	if err := cm.ensureConnectedLocked(ctx); err != nil {
		return err
	}
	if err := cm.channel.ExchangeDeclarePassive(cm.provisioner.exchange, cm.provisioner.exchangeType, true, false, false, false, nil); err != nil {
		cm.teardownLocked()
		return &ConnectionError{Op: "ping", URL: SanitizeURL(cm.url), Err: err, Timestamp: time.Now()}
	}
	return nil
}

// TopologyApplied reports whether the current epoch has been provisioned.
func (cm *ConnectionManager) TopologyApplied() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := cm.acquire(ctx); err != nil {
		return false
	}
	defer cm.release()
	return cm.topologyApplied && cm.stateLocked() == StateReady
}
