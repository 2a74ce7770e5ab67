package rabbitmq

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishResult reports what the broker said about a single publish: whether
// it was acked durably, and the basic.return echoed back when no queue
// matched the routing key.
type PublishResult struct {
	Acked    bool
	Returned *amqp.Return
}

// Unroutable reports whether the broker returned the message as unroutable.
func (r *PublishResult) Unroutable() bool {
	return r.Returned != nil
}

// PublishWithConfirm publishes one message to the primary exchange, persistent
// and mandatory, and waits for the broker's verdict. Exactly one network
// attempt: no internal retry. The whole operation, publish through
// confirmation, runs inside the manager's critical section, so the observed
// confirm and return belong to this publish and no other.
//
// Topology is ensured first; if provisioning fails the publish is still
// attempted (a previously provisioned broker may already satisfy the need)
// and the topology error is attached only if the publish also fails.
func (cm *ConnectionManager) PublishWithConfirm(ctx context.Context, routingKey string, msg amqp.Publishing) (*PublishResult, error) {
	if err := cm.acquire(ctx); err != nil {
		return nil, err
	}
	defer cm.release()

	if err := cm.ensureConnectedLocked(ctx); err != nil {
		return nil, err
	}
	topoErr := cm.ensureTopologyLocked(ctx)
	if topoErr != nil {
		cm.logger.Warn("topology provisioning failed, attempting publish anyway", "error", topoErr)
	}

	res, err := cm.publishLocked(ctx, routingKey, msg)
	if err != nil {
		if topoErr != nil {
			err = errors.Join(err, topoErr)
		}
		return nil, err
	}
	return res, nil
}

func (cm *ConnectionManager) publishLocked(ctx context.Context, routingKey string, msg amqp.Publishing) (*PublishResult, error) {
	// Stale confirms and returns from a previous timed-out publish are
	// drained up front; awaitConfirm additionally filters by delivery tag
	// and message id so a late arrival cannot be misattributed.
	cm.drainLocked()

	err := cm.channel.PublishWithContext(ctx, cm.provisioner.exchange, routingKey, true, false, msg)
	if err != nil {
		cm.teardownLocked()
		return nil, &PublishError{
			Exchange:   cm.provisioner.exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}
	cm.publishSeq++

	res, err := awaitConfirm(ctx, cm.confirms, cm.returns, cm.closeCh, cm.publishSeq, msg.MessageId)
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			cm.teardownLocked()
		}
		return nil, &PublishError{
			Exchange:   cm.provisioner.exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}
	return res, nil
}

// drainLocked empties the notification channels without blocking.
func (cm *ConnectionManager) drainLocked() {
	for {
		select {
		case <-cm.confirms:
		case <-cm.returns:
		default:
			return
		}
	}
}

// awaitConfirm waits for the confirmation of the publish carrying expectedTag.
// Confirms with older tags are stale and skipped. A basic.return observed
// while waiting is kept only if its message id matches (mandatory returns
// arrive before the matching ack on the same channel dispatch goroutine).
// On ctx expiry the outcome is genuinely ambiguous: the publish may or may
// not have reached the broker, which ErrConfirmTimeout signals distinctly.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, returns <-chan amqp.Return, closeCh <-chan *amqp.Error, expectedTag uint64, messageID string) (*PublishResult, error) {
	var returned *amqp.Return

	for {
		select {
		case confirm, ok := <-confirms:
			if !ok {
				return nil, ErrConnectionClosed
			}
			if expectedTag != 0 && confirm.DeliveryTag < expectedTag {
				continue // stale confirm from an abandoned publish
			}
			if returned == nil {
				returned = sweepReturns(returns, messageID)
			}
			return &PublishResult{Acked: confirm.Ack, Returned: returned}, nil

		case ret, ok := <-returns:
			if !ok {
				return nil, ErrConnectionClosed
			}
			if returnMatches(&ret, messageID) {
				returned = &ret
			}

		case amqpErr, ok := <-closeCh:
			if !ok || amqpErr == nil {
				return nil, ErrConnectionClosed
			}
			return nil, amqpErr

		case <-ctx.Done():
			return nil, ErrConfirmTimeout
		}
	}
}

// sweepReturns does a final non-blocking pass over the return channel in case
// the return was dispatched but not yet read when the ack arrived.
func sweepReturns(returns <-chan amqp.Return, messageID string) *amqp.Return {
	for {
		select {
		case ret, ok := <-returns:
			if !ok {
				return nil
			}
			if returnMatches(&ret, messageID) {
				return &ret
			}
		default:
			return nil
		}
	}
}

// returnMatches attributes a broker return to the in-flight publish. When
// both sides carry a message id they must agree; without ids the serialized
// publish window makes the return ours.
func returnMatches(ret *amqp.Return, messageID string) bool {
	if messageID != "" && ret.MessageId != "" {
		return ret.MessageId == messageID
	}
	return true
}
