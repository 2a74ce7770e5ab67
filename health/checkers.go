package health

import (
	"context"
	"fmt"
	"time"

	"github.com/Johannson17/tolling-service-bus/internal/rabbitmq"
)

// BrokerChecker verifies the AMQP connection by issuing a passive exchange
// declaration over the live channel.
type BrokerChecker struct {
	manager *rabbitmq.ConnectionManager
}

func NewBrokerChecker(manager *rabbitmq.ConnectionManager) *BrokerChecker {
	return &BrokerChecker{manager: manager}
}

func (c *BrokerChecker) Name() string { return "broker" }

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]any{"state": string(c.manager.State())},
	}

	if err := c.manager.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "broker unreachable"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusHealthy
	result.Message = "broker reachable"
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// TopologyChecker reports whether declarations have been applied on the
// current connection epoch. Connected but not yet provisioned is degraded,
// since the next publish will provision on demand.
type TopologyChecker struct {
	manager *rabbitmq.ConnectionManager
}

func NewTopologyChecker(manager *rabbitmq.ConnectionManager) *TopologyChecker {
	return &TopologyChecker{manager: manager}
}

func (c *TopologyChecker) Name() string { return "topology" }

func (c *TopologyChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start}

	if c.manager.TopologyApplied() {
		result.Status = StatusHealthy
		result.Message = "topology applied"
		result.Duration = time.Since(start)
		return result
	}

	if err := c.manager.EnsureTopology(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "topology provisioning failed"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusHealthy
	result.Message = "topology applied"
	result.Duration = time.Since(start)
	return result
}

// ComponentChecker wraps an arbitrary probe for deployment-specific
// dependencies.
type ComponentChecker struct {
	name string
	fn   func(ctx context.Context) (Status, string, error)
}

func NewComponentChecker(name string, fn func(ctx context.Context) (Status, string, error)) *ComponentChecker {
	return &ComponentChecker{name: name, fn: fn}
}

func (c *ComponentChecker) Name() string { return c.name }

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.fn(ctx)
	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Duration:  time.Since(start),
		Timestamp: start,
	}
	if err != nil {
		result.Error = fmt.Sprintf("%v", err)
	}
	return result
}
