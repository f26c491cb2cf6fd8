package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Checkable is implemented by object store adapters and the bank itself
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker reports unhealthy when the wrapped component's HealthCheck fails
type AdapterChecker struct {
	name     string
	adapter  Checkable
	timeout  time.Duration
	metadata map[string]any
}

// NewAdapterChecker creates a new health checker for an adapter
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &AdapterChecker{
		name:    name,
		adapter: adapter,
		timeout: timeout,
	}
}

// NewObjectStoreChecker wraps the object store behind a bank container with a 3s budget. The
// container is reported in the result metadata.
func NewObjectStoreChecker(name, container string, store Checkable) *AdapterChecker {
	c := NewAdapterChecker(name, store, 3*time.Second)
	c.metadata = map[string]any{"container": container}
	return c
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.adapter.HealthCheck(checkCtx)
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Metadata:  c.metadata,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			result.Message = fmt.Sprintf("no answer within %s", c.timeout)
		}
	}
	return result
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// CustomChecker builds a checker from a function returning status, message and error
type CustomChecker struct {
	name      string
	checkFunc func(ctx context.Context) (Status, string, error)
	metadata  func() map[string]any
}

// NewCustomChecker creates a new custom health checker
func NewCustomChecker(name string, checkFunc func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{
		name:      name,
		checkFunc: checkFunc,
	}
}

// WithMetadata attaches a metadata snapshot to every result
func (c *CustomChecker) WithMetadata(fn func() map[string]any) *CustomChecker {
	c.metadata = fn
	return c
}

// Check executes the custom check function
func (c *CustomChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.checkFunc(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	if c.metadata != nil {
		result.Metadata = c.metadata()
	}
	return result
}

// Name returns the name of the health check
func (c *CustomChecker) Name() string {
	return c.name
}
