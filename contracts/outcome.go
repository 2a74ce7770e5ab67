package contracts

import "fmt"

// PublishStatus tags the result of one publish attempt.
type PublishStatus string

const (
	// StatusConfirmed means the broker durably accepted the message and at
	// least one queue matched the routing key.
	StatusConfirmed PublishStatus = "confirmed"
	// StatusUnroutable means the broker processed the publish but no queue
	// was bound to receive it.
	StatusUnroutable PublishStatus = "unroutable"
	// StatusValidationFailed means the envelope or payload violated its
	// schema; the message never reached the network.
	StatusValidationFailed PublishStatus = "validation_failed"
	// StatusConnectionFailed means no live channel could be obtained, or the
	// confirmation did not arrive within the operation's time budget. The
	// publish may or may not have reached the broker.
	StatusConnectionFailed PublishStatus = "connection_failed"
)

// PublishOutcome is the only thing that crosses the publisher's boundary.
// Exactly one outcome is produced per publish call; no partial states leak.
type PublishOutcome struct {
	Status     PublishStatus
	Event      string
	Exchange   string
	RoutingKey string

	// ReplyCode and ReplyText echo the broker's basic.return for unroutable
	// messages.
	ReplyCode uint16
	ReplyText string

	// Err carries the validation, connection, or topology error behind a
	// non-confirmed outcome.
	Err error
}

// Confirmed reports whether the broker acknowledged durable receipt.
func (o PublishOutcome) Confirmed() bool {
	return o.Status == StatusConfirmed
}

func (o PublishOutcome) String() string {
	if o.Status == StatusUnroutable {
		return fmt.Sprintf("%s: %s/%s (%d %s)", o.Status, o.Exchange, o.RoutingKey, o.ReplyCode, o.ReplyText)
	}
	if o.Err != nil {
		return fmt.Sprintf("%s: %s/%s: %v", o.Status, o.Exchange, o.RoutingKey, o.Err)
	}
	return fmt.Sprintf("%s: %s/%s", o.Status, o.Exchange, o.RoutingKey)
}
