package resilient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/objectstore/memory"
	"github.com/nimburion/objectbank/pkg/objectstore/objectstoretest"
)

// flakyStore fails every call while down is set.
type flakyStore struct {
	*memory.Adapter
	down  bool
	calls int
}

var errBackendDown = errors.New("backend down")

func (s *flakyStore) Put(ctx context.Context, container, key string, value []byte) error {
	s.calls++
	if s.down {
		return errBackendDown
	}
	return s.Adapter.Put(ctx, container, key, value)
}

func (s *flakyStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	s.calls++
	if s.down {
		return nil, errBackendDown
	}
	return s.Adapter.Get(ctx, container, key)
}

// blockingStore ignores its context and blocks Get until released.
type blockingStore struct {
	*memory.Adapter
	release chan struct{}
}

func (s *blockingStore) Get(context.Context, string, string) ([]byte, error) {
	<-s.release
	return []byte("late"), nil
}

// plainStore hides CreateContainer.
type plainStore struct {
	objectstore.Adapter
}

func newAdapter(t *testing.T, inner objectstore.Adapter, cfg Config) *Adapter {
	t.Helper()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = time.Minute
	}
	a, err := New(inner, cfg, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func TestAdapter_Conformance(t *testing.T) {
	objectstoretest.RunConformance(t, newAdapter(t, memory.NewAdapter("objects"), Config{Name: "memory"}), "objects")
}

func TestNew_Validation(t *testing.T) {
	inner := memory.NewAdapter("objects")
	if _, err := New(nil, Config{MaxFailures: 1, ResetTimeout: time.Second}, nil); err == nil {
		t.Fatal("expected error for nil inner store")
	}
	if _, err := New(inner, Config{MaxFailures: 0, ResetTimeout: time.Second}, nil); err == nil {
		t.Fatal("expected error for zero max failures")
	}
	if _, err := New(inner, Config{MaxFailures: 1}, nil); err == nil {
		t.Fatal("expected error for zero reset timeout")
	}
}

func TestAdapter_OpensOnStoreFailures(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(epoch)
	inner := &flakyStore{Adapter: memory.NewAdapter("objects"), down: true}
	a := newAdapter(t, inner, Config{MaxFailures: 2, ResetTimeout: 30 * time.Second, Clock: clk})

	for i := 0; i < 2; i++ {
		if err := a.Put(ctx, "objects", "k", []byte("v")); !errors.Is(err, errBackendDown) {
			t.Fatalf("expected backend error, got %v", err)
		}
	}
	if err := a.Put(ctx, "objects", "k", []byte("v")); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("open circuit must not reach the store, got %d calls", inner.calls)
	}
	if err := a.HealthCheck(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected health check to fail fast, got %v", err)
	}

	inner.down = false
	clk.Advance(30 * time.Second)
	if err := a.Put(ctx, "objects", "k", []byte("v")); err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if a.Breaker().State() != StateClosed {
		t.Fatalf("expected closed circuit after recovery, got %s", a.Breaker().State())
	}
}

func TestAdapter_NotFoundIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t, memory.NewAdapter("objects"), Config{MaxFailures: 1})

	for i := 0; i < 3; i++ {
		if _, err := a.Get(ctx, "objects", "missing"); !errors.Is(err, objectstore.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if a.Breaker().State() != StateClosed {
		t.Fatalf("not-found must not open the circuit, got %s", a.Breaker().State())
	}
}

func TestAdapter_CallerCancellationIsNotAFailure(t *testing.T) {
	inner := &flakyStore{Adapter: memory.NewAdapter("objects"), down: true}
	a := newAdapter(t, inner, Config{MaxFailures: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.Put(ctx, "objects", "k", []byte("v"))
	if a.Breaker().State() != StateClosed {
		t.Fatalf("cancelled callers must not open the circuit, got %s", a.Breaker().State())
	}
}

func TestAdapter_CallTimeout(t *testing.T) {
	inner := &blockingStore{Adapter: memory.NewAdapter("objects"), release: make(chan struct{})}
	defer close(inner.release)
	a := newAdapter(t, inner, Config{MaxFailures: 1, CallTimeout: 20 * time.Millisecond})

	_, err := a.Get(context.Background(), "objects", "k")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if a.Breaker().State() != StateOpen {
		t.Fatalf("expected timeout to count as a failure, got %s", a.Breaker().State())
	}
}

func TestAdapter_CreateContainer(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewAdapter()
	a := newAdapter(t, inner, Config{})

	if err := a.CreateContainer(ctx, "fresh"); err != nil {
		t.Fatalf("create container: %v", err)
	}
	if ok, _ := inner.HeadContainer(ctx, "fresh"); !ok {
		t.Fatal("expected container to be created on the wrapped store")
	}

	plain := newAdapter(t, plainStore{memory.NewAdapter()}, Config{})
	if err := plain.CreateContainer(ctx, "fresh"); !errors.Is(err, objectstore.ErrContainerNotFound) {
		t.Fatalf("expected ErrContainerNotFound, got %v", err)
	}
}

func TestAdapter_CloseClosesInner(t *testing.T) {
	inner := memory.NewAdapter("objects")
	a := newAdapter(t, inner, Config{})
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := inner.HealthCheck(context.Background()); !errors.Is(err, objectstore.ErrClosed) {
		t.Fatalf("expected inner store closed, got %v", err)
	}
}
