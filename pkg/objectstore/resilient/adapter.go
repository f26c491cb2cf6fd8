// Package resilient wraps an object store adapter with a circuit breaker and a hard call timeout.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/observability/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrTimeout is returned when the wrapped store does not return within the call timeout
var ErrTimeout = errors.New("object store call timed out")

var circuitState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "objectbank_object_store_circuit_state",
		Help: "Object store circuit breaker state (0 closed, 1 open, 2 half-open)",
	},
	[]string{"store"},
)

// Config configures the resilient wrapper
type Config struct {
	// Name labels logs and metrics, usually the object store type
	Name         string
	MaxFailures  int
	ResetTimeout time.Duration
	// CallTimeout bounds each call even when the backend ignores its context. Zero disables it.
	CallTimeout time.Duration
	Clock       clock.Clock
}

// Adapter guards another adapter. Not-found, invalid-key and caller cancellation outcomes do not
// count as store failures.
type Adapter struct {
	inner   objectstore.Adapter
	breaker *Breaker
	cfg     Config
	logger  logger.Logger
}

// New wraps inner.
func New(inner objectstore.Adapter, cfg Config, log logger.Logger) (*Adapter, error) {
	if inner == nil {
		return nil, errors.New("inner object store is required")
	}
	if cfg.MaxFailures <= 0 {
		return nil, fmt.Errorf("max failures must be > 0, got %d", cfg.MaxFailures)
	}
	if cfg.ResetTimeout <= 0 {
		return nil, fmt.Errorf("reset timeout must be > 0, got %s", cfg.ResetTimeout)
	}
	if cfg.Name == "" {
		cfg.Name = "object_store"
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("store", cfg.Name)

	breaker := NewBreaker(cfg.MaxFailures, cfg.ResetTimeout, cfg.Clock)
	gauge := circuitState.WithLabelValues(cfg.Name)
	gauge.Set(float64(StateClosed))
	breaker.OnStateChange(func(from, to State) {
		gauge.Set(float64(to))
		log.Warn("object store circuit breaker state changed", "from", from.String(), "to", to.String())
	})

	return &Adapter{inner: inner, breaker: breaker, cfg: cfg, logger: log}, nil
}

// Breaker exposes the circuit breaker.
func (a *Adapter) Breaker() *Breaker {
	return a.breaker
}

// Put implements objectstore.Adapter.
func (a *Adapter) Put(ctx context.Context, container, key string, value []byte) error {
	return a.execute(ctx, func(ctx context.Context) error {
		return a.inner.Put(ctx, container, key, value)
	})
}

// Get implements objectstore.Adapter.
func (a *Adapter) Get(ctx context.Context, container, key string) ([]byte, error) {
	var value []byte
	err := a.execute(ctx, func(ctx context.Context) error {
		v, err := a.inner.Get(ctx, container, key)
		value = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete implements objectstore.Adapter.
func (a *Adapter) Delete(ctx context.Context, container, key string) error {
	return a.execute(ctx, func(ctx context.Context) error {
		return a.inner.Delete(ctx, container, key)
	})
}

// List implements objectstore.Adapter.
func (a *Adapter) List(ctx context.Context, container, prefix string) ([]string, error) {
	var keys []string
	err := a.execute(ctx, func(ctx context.Context) error {
		k, err := a.inner.List(ctx, container, prefix)
		keys = k
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// HeadContainer implements objectstore.Adapter.
func (a *Adapter) HeadContainer(ctx context.Context, container string) (bool, error) {
	var exists bool
	err := a.execute(ctx, func(ctx context.Context) error {
		ok, err := a.inner.HeadContainer(ctx, container)
		exists = ok
		return err
	})
	return exists, err
}

// CreateContainer delegates to the wrapped store when it can create containers.
func (a *Adapter) CreateContainer(ctx context.Context, container string) error {
	creator, ok := a.inner.(objectstore.ContainerCreator)
	if !ok {
		return fmt.Errorf("container %q: %w", container, objectstore.ErrContainerNotFound)
	}
	return a.execute(ctx, func(ctx context.Context) error {
		return creator.CreateContainer(ctx, container)
	})
}

// HealthCheck fails fast while the circuit is open; otherwise the probe result feeds the breaker.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.execute(ctx, a.inner.HealthCheck)
}

// Close closes the wrapped store.
func (a *Adapter) Close() error {
	return a.inner.Close()
}

func (a *Adapter) execute(ctx context.Context, fn func(context.Context) error) error {
	if !a.breaker.Allow() {
		return ErrCircuitOpen
	}
	err := a.call(ctx, fn)
	a.breaker.Record(isStoreFailure(ctx, err))
	return err
}

// call runs fn and gives up after CallTimeout even if fn has not returned.
func (a *Adapter) call(ctx context.Context, fn func(context.Context) error) error {
	if a.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			a.logger.Warn("object store call timed out", "timeout", a.cfg.CallTimeout)
			return ErrTimeout
		}
		return timeoutCtx.Err()
	}
}

func isStoreFailure(ctx context.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, objectstore.ErrNotFound),
		errors.Is(err, objectstore.ErrInvalidKey),
		errors.Is(err, objectstore.ErrClosed):
		return false
	case ctx.Err() != nil:
		// the caller gave up; says nothing about the store
		return false
	default:
		return true
	}
}
