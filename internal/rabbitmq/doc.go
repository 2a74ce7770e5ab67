// Package rabbitmq owns the broker connection lifecycle for the bus gateway.
//
// It provides:
//   - ConnectionManager: the single connection/channel pair shared by all
//     callers, with on-demand reconnection and exponential backoff
//   - Provisioner: idempotent declaration of exchanges, queues, bindings,
//     and dead-letter routing from the topology spec
//   - PublishWithConfirm: serialized publishing with delivery confirmation
//     and unroutable (basic.return) detection
//
// This package is internal; callers interact through the servicebus Client.
package rabbitmq
