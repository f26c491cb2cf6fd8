package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimburion/objectbank/pkg/objectstore/memory"
	"github.com/nimburion/objectbank/pkg/observability/logger"
)

const testWait = 5 * time.Second

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRenewer_Interval(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	if got := NewRenewer(m, nil, RenewerConfig{}).Interval(); got != DefaultExpireWindow-DefaultRenewWindow {
		t.Fatalf("expected derived interval, got %v", got)
	}
	if got := NewRenewer(m, nil, RenewerConfig{Interval: time.Minute}).Interval(); got != time.Minute {
		t.Fatalf("expected explicit interval, got %v", got)
	}
	if got := NewRenewer(m, nil, RenewerConfig{Interval: time.Millisecond}).Interval(); got != time.Second {
		t.Fatalf("expected interval clamped to 1s, got %v", got)
	}
}

func TestRenewer_RenewsBeforeValidityEnds(t *testing.T) {
	cfg := Config{ExpireWindow: 600 * time.Second, RenewWindow: 50 * time.Second, ValidityWindow: 100 * time.Second}
	m, clk := newTestManager(t, cfg)
	r := NewRenewer(m, logger.Nop(), RenewerConfig{})
	if got, want := r.Interval(), 499*time.Second; got != want {
		t.Fatalf("expected interval %v, got %v", want, got)
	}

	r.Start(context.Background())
	defer r.Stop()
	waitFor(t, "initial renewal", func() bool { return m.ExpireTime().Equal(epoch.Add(600 * time.Second)) })

	if err := clk.WaitAdvance(r.Interval(), testWait, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	waitFor(t, "renewal before the validity deadline", func() bool {
		return m.ExpireTime().Equal(epoch.Add(499*time.Second + 600*time.Second))
	})

	// Past the first validity deadline (500s) the renewed lease is still valid.
	clk.Advance(11 * time.Second)
	if !m.CheckValidity() || m.State() != StateActive {
		t.Fatalf("lease kept alive by the renewer must stay valid, state %s", m.State())
	}
}

func TestRenewer_RenewsOnEachTick(t *testing.T) {
	cfg := Config{ExpireWindow: 10 * time.Second, RenewWindow: 4 * time.Second}
	m, clk := newTestManager(t, cfg)
	r := NewRenewer(m, logger.Nop(), RenewerConfig{})

	errs := r.Start(context.Background())
	defer r.Stop()

	waitFor(t, "initial renewal", func() bool { return m.ExpireTime().Equal(epoch.Add(10 * time.Second)) })

	for tick := 1; tick <= 3; tick++ {
		if err := clk.WaitAdvance(6*time.Second, testWait, 1); err != nil {
			t.Fatalf("advance: %v", err)
		}
		want := epoch.Add(time.Duration(tick)*6*time.Second + 10*time.Second)
		waitFor(t, "tick renewal", func() bool { return m.ExpireTime().Equal(want) })
	}
	if !m.CheckValidity() {
		t.Fatal("lease kept alive by the renewer must be valid")
	}

	r.Stop()
	if _, open := <-errs; open {
		t.Fatal("expected error channel to be closed after Stop")
	}
}

func TestRenewer_ReportsErrorsAndKeepsGoing(t *testing.T) {
	cfg := Config{ExpireWindow: 10 * time.Second, RenewWindow: 4 * time.Second}
	store := &failingStore{Adapter: memory.NewAdapter("objects"), putErr: errors.New("store down")}
	m, clk := newTestManager(t, cfg, WithRecordStore(store, "objects", ""))
	r := NewRenewer(m, logger.Nop(), RenewerConfig{})

	errs := r.Start(context.Background())
	defer r.Stop()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrRecordStore) {
			t.Fatalf("expected ErrRecordStore, got %v", err)
		}
	case <-time.After(testWait):
		t.Fatal("expected initial renewal error")
	}

	if err := clk.WaitAdvance(6*time.Second, testWait, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, ErrRecordStore) {
			t.Fatalf("expected ErrRecordStore, got %v", err)
		}
	case <-time.After(testWait):
		t.Fatal("expected the loop to keep renewing after a failure")
	}
	if !m.CheckValidity() {
		t.Fatal("in-memory lease must stay valid while the record store is down")
	}
}

func TestRenewer_StopsWithContext(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	r := NewRenewer(m, nil, RenewerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	errs := r.Start(ctx)
	if again := r.Start(ctx); again != errs {
		t.Fatal("expected Start on a running renewer to return the same channel")
	}
	cancel()

	select {
	case _, open := <-errs:
		if open {
			t.Fatal("expected no errors")
		}
	case <-time.After(testWait):
		t.Fatal("expected loop to exit on context cancellation")
	}

	restarted := r.Start(context.Background())
	if restarted == errs {
		t.Fatal("expected a new loop after the previous one ended")
	}
	r.Stop()
	r.Stop()
}
