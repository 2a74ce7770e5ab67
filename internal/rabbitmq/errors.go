package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// Connection errors
	ErrConnectionClosed  = errors.New("rabbitmq: connection is closed")
	ErrConnectionTimeout = errors.New("rabbitmq: connection timeout")
	ErrManagerClosed     = errors.New("rabbitmq: connection manager is closed")

	// Publisher errors
	ErrPublishNacked  = errors.New("rabbitmq: publish was nacked by the broker")
	ErrConfirmTimeout = errors.New("rabbitmq: timeout waiting for publish confirmation")

	// Topology errors
	ErrTopologyConflict = errors.New("rabbitmq: declaration conflicts with existing broker state")
)

// ConnectionError represents a connection-related error.
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
	Attempts  int       // Number of attempts made
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("rabbitmq connection error: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PublishError represents a publish operation error.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s: %v", e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// TopologyError represents a topology declaration error. Fatal topology
// errors indicate configuration drift between code and a live broker; they
// are reported, not retried, because retrying cannot fix a mismatch.
type TopologyError struct {
	Component string // exchange, queue, binding
	Name      string
	Op        string
	Err       error
	Timestamp time.Time
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: failed to %s %s '%s': %v", e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error is a declaration conflict that operators
// must reconcile by hand.
func (e *TopologyError) Fatal() bool {
	return errors.Is(e.Err, ErrTopologyConflict) || isPreconditionFailed(e.Err)
}

// isPreconditionFailed detects the broker's 406 reply: an exchange or queue
// already exists with incompatible arguments.
func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}

// IsRetryable classifies an error as transient (retry with backoff) or
// permanent (surface to the operator).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var topoErr *TopologyError
	if errors.As(err, &topoErr) {
		return !topoErr.Fatal()
	}
	if isPreconditionFailed(err) {
		return false
	}
	if errors.Is(err, ErrManagerClosed) {
		return false
	}
	return true
}

// SanitizeURL strips credentials from a connection URL before logging.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
