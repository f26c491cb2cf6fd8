package bank

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/nimburion/objectbank/pkg/bank/lease"
	"github.com/nimburion/objectbank/pkg/config"
	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/objectstore/memory"
	"github.com/nimburion/objectbank/pkg/observability/logger"
)

var epoch = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestBank(t *testing.T, cfg Config, store objectstore.Adapter) (*Bank, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(epoch)
	if store == nil {
		store = memory.NewAdapter()
	}
	b, err := New(context.Background(), cfg, store, WithClock(clk), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("new bank: %v", err)
	}
	return b, clk
}

// faultyStore fails selected operations of an otherwise working memory store.
type faultyStore struct {
	*memory.Adapter
	putErr    error
	getErr    error
	deleteErr error
	listErr   error
	healthErr error
}

func (s *faultyStore) Put(ctx context.Context, container, key string, value []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.Adapter.Put(ctx, container, key, value)
}

func (s *faultyStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Adapter.Get(ctx, container, key)
}

func (s *faultyStore) Delete(ctx context.Context, container, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Adapter.Delete(ctx, container, key)
}

func (s *faultyStore) List(ctx context.Context, container, prefix string) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Adapter.List(ctx, container, prefix)
}

func (s *faultyStore) HealthCheck(ctx context.Context) error {
	if s.healthErr != nil {
		return s.healthErr
	}
	return s.Adapter.HealthCheck(ctx)
}

// plainStore hides CreateContainer from the wrapped adapter.
type plainStore struct {
	objectstore.Adapter
}

func TestNew_CreatesMissingContainer(t *testing.T) {
	store := memory.NewAdapter()
	b, _ := newTestBank(t, DefaultConfig(), store)

	exists, err := store.HeadContainer(context.Background(), "objects")
	if err != nil || !exists {
		t.Fatalf("expected container to be created, exists=%v err=%v", exists, err)
	}
	if b.Container() != "objects" {
		t.Fatalf("unexpected container %q", b.Container())
	}
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     Config
		store   objectstore.Adapter
		wantErr error
	}{
		{name: "nil store", cfg: DefaultConfig(), wantErr: ErrInvalidArgument},
		{name: "empty container", cfg: Config{Container: " ", Lease: lease.DefaultConfig()}, store: memory.NewAdapter(), wantErr: ErrInvalidArgument},
		{name: "invalid lease", cfg: Config{Container: "objects"}, store: memory.NewAdapter(), wantErr: lease.ErrInvalidConfig},
		{name: "unknown policy", cfg: Config{Container: "objects", Lease: lease.DefaultConfig(), CreatePolicy: "merge"}, store: memory.NewAdapter(), wantErr: ErrInvalidArgument},
		{name: "missing container without creator", cfg: DefaultConfig(), store: plainStore{memory.NewAdapter()}, wantErr: objectstore.ErrContainerNotFound},
		{name: "head fails", cfg: DefaultConfig(), store: func() objectstore.Adapter {
			a := memory.NewAdapter()
			_ = a.Close()
			return a
		}(), wantErr: ErrStorageUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(ctx, tt.cfg, tt.store)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if b != nil {
				t.Fatal("expected nil bank on error")
			}
		})
	}
}

func TestNew_ExistingContainerWithoutCreator(t *testing.T) {
	_, err := New(context.Background(), DefaultConfig(), plainStore{memory.NewAdapter("objects")})
	if err != nil {
		t.Fatalf("expected existing container to be accepted: %v", err)
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.DefaultConfig().Bank)
	want := DefaultConfig()
	if cfg != want {
		t.Fatalf("expected %+v, got %+v", want, cfg)
	}
}

func TestObjectRoundTrip(t *testing.T) {
	b, _ := newTestBank(t, DefaultConfig(), nil)
	ctx := context.Background()

	if err := b.CreateObject(ctx, "key1", []byte("value1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := b.GetObject(ctx, "key1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "value1" {
		t.Fatalf("expected value1, got %q", got)
	}
}

func TestUpdateObject(t *testing.T) {
	b, _ := newTestBank(t, DefaultConfig(), nil)
	ctx := context.Background()

	if err := b.CreateObject(ctx, "key-3", []byte("value-3")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.UpdateObject(ctx, "key-3", []byte("value-new")); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := b.GetObject(ctx, "key-3")
	if err != nil || string(got) != "value-new" {
		t.Fatalf("expected value-new, got %q err=%v", got, err)
	}

	if err := b.UpdateObject(ctx, "fresh", []byte("v")); err != nil {
		t.Fatalf("update of a missing key writes through: %v", err)
	}
}

func TestDeleteObject_Idempotent(t *testing.T) {
	b, _ := newTestBank(t, DefaultConfig(), nil)
	ctx := context.Background()

	if err := b.CreateObject(ctx, "key-1", []byte("value-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.DeleteObject(ctx, "key-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.GetObject(ctx, "key-1"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := b.DeleteObject(ctx, "key-1"); err != nil {
		t.Fatalf("second delete must succeed: %v", err)
	}
}

func TestListObjects(t *testing.T) {
	b, _ := newTestBank(t, DefaultConfig(), nil)
	ctx := context.Background()

	for _, key := range []string{"key-1", "key-2", "plan/1"} {
		if err := b.CreateObject(ctx, key, []byte(key)); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{prefix: "key-", want: []string{"key-1", "key-2"}},
		{prefix: "plan/", want: []string{"plan/1"}},
		{prefix: "", want: []string{"key-1", "key-2", "plan/1"}},
		{prefix: "none", want: []string{}},
	}
	for _, tt := range tests {
		keys, err := b.ListObjects(ctx, tt.prefix)
		if err != nil {
			t.Fatalf("list %q: %v", tt.prefix, err)
		}
		sort.Strings(keys)
		if len(keys) != len(tt.want) {
			t.Fatalf("prefix %q: expected %v, got %v", tt.prefix, tt.want, keys)
		}
		for i := range keys {
			if keys[i] != tt.want[i] {
				t.Fatalf("prefix %q: expected %v, got %v", tt.prefix, tt.want, keys)
			}
		}
	}
}

func TestCreateObject_UpsertByDefault(t *testing.T) {
	b, _ := newTestBank(t, DefaultConfig(), nil)
	ctx := context.Background()

	_ = b.CreateObject(ctx, "key", []byte("first"))
	if err := b.CreateObject(ctx, "key", []byte("second")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ := b.GetObject(ctx, "key")
	if string(got) != "second" {
		t.Fatalf("expected second, got %q", got)
	}
}

func TestCreateObject_CreateOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CreatePolicy = CreatePolicyCreateOnly
	b, _ := newTestBank(t, cfg, nil)
	ctx := context.Background()

	if err := b.CreateObject(ctx, "key", []byte("first")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.CreateObject(ctx, "key", []byte("second")); !errors.Is(err, ErrObjectAlreadyExists) {
		t.Fatalf("expected ErrObjectAlreadyExists, got %v", err)
	}
	got, _ := b.GetObject(ctx, "key")
	if string(got) != "first" {
		t.Fatalf("existing value must be kept, got %q", got)
	}
}

func TestInvalidKeys(t *testing.T) {
	b, _ := newTestBank(t, DefaultConfig(), nil)
	ctx := context.Background()

	if err := b.CreateObject(ctx, "", []byte("v")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := b.GetObject(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestObjectKeysAreUsedVerbatim(t *testing.T) {
	b, _ := newTestBank(t, DefaultConfig(), nil)
	ctx := context.Background()

	if err := b.CreateObject(ctx, " k", []byte("v1")); err != nil {
		t.Fatalf("create %q: %v", " k", err)
	}
	keys, err := b.ListObjects(ctx, " k")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0] != " k" {
		t.Fatalf("expected [%q], got %q", " k", keys)
	}

	if err := b.CreateObject(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("create %q: %v", "k", err)
	}
	got, err := b.GetObject(ctx, " k")
	if err != nil || string(got) != "v1" {
		t.Fatalf("get %q: expected v1, got %q, %v", " k", got, err)
	}
	got, err = b.GetObject(ctx, "k")
	if err != nil || string(got) != "v2" {
		t.Fatalf("get %q: expected v2, got %q, %v", "k", got, err)
	}

	all, err := b.ListObjects(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || all[0] != " k" || all[1] != "k" {
		t.Fatalf("expected both keys, got %q", all)
	}

	if err := b.DeleteObject(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.GetObject(ctx, " k"); err != nil {
		t.Fatalf("deleting %q must keep %q: %v", "k", " k", err)
	}
}

func TestLeaseLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lease = lease.Config{ExpireWindow: 600 * time.Second}
	b, clk := newTestBank(t, cfg, nil)
	ctx := context.Background()

	if b.CheckLeaseValidity() {
		t.Fatal("lease must be invalid before acquire")
	}
	if err := b.AcquireLease(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !b.CheckLeaseValidity() {
		t.Fatal("lease must be valid after acquire")
	}
	if !b.LeaseExpireTime().Equal(epoch.Add(600 * time.Second)) {
		t.Fatalf("unexpected expiry %v", b.LeaseExpireTime())
	}

	clk.Advance(601 * time.Second)
	if b.CheckLeaseValidity() {
		t.Fatal("lease must be invalid after the expire window")
	}
	if err := b.RenewLease(ctx); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !b.CheckLeaseValidity() || b.Lease().State() != lease.StateActive {
		t.Fatal("lease must be active again after renew")
	}
}

func TestLeaseGating(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LeaseGating = true
	b, clk := newTestBank(t, cfg, nil)
	ctx := context.Background()

	if err := b.CreateObject(ctx, "key", []byte("v")); !errors.Is(err, ErrLeaseExpired) {
		t.Fatalf("expected ErrLeaseExpired before acquire, got %v", err)
	}
	if _, err := b.ListObjects(ctx, ""); !errors.Is(err, ErrLeaseExpired) {
		t.Fatalf("expected ErrLeaseExpired for list, got %v", err)
	}

	if err := b.AcquireLease(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := b.CreateObject(ctx, "key", []byte("v")); err != nil {
		t.Fatalf("create with lease: %v", err)
	}

	clk.Advance(lease.DefaultExpireWindow + time.Second)
	for name, op := range map[string]func() error{
		"create": func() error { return b.CreateObject(ctx, "key", []byte("v")) },
		"get":    func() error { _, err := b.GetObject(ctx, "key"); return err },
		"update": func() error { return b.UpdateObject(ctx, "key", []byte("v")) },
		"delete": func() error { return b.DeleteObject(ctx, "key") },
		"list":   func() error { _, err := b.ListObjects(ctx, ""); return err },
	} {
		if err := op(); !errors.Is(err, ErrLeaseExpired) {
			t.Errorf("%s: expected ErrLeaseExpired, got %v", name, err)
		}
	}

	if err := b.AcquireLease(ctx); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if _, err := b.GetObject(ctx, "key"); err != nil {
		t.Fatalf("get after re-acquire: %v", err)
	}
}

func TestWithoutGating_OperationsIgnoreLease(t *testing.T) {
	b, _ := newTestBank(t, DefaultConfig(), nil)
	if err := b.CreateObject(context.Background(), "key", []byte("v")); err != nil {
		t.Fatalf("expected ungated create to succeed without a lease: %v", err)
	}
}

func TestDurableLease(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DurableLease = true
	store := memory.NewAdapter("objects")
	b, _ := newTestBank(t, cfg, store)
	ctx := context.Background()

	if err := b.AcquireLease(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := store.Get(ctx, "objects", lease.DefaultRecordKey); err != nil {
		t.Fatalf("expected lease record in the container: %v", err)
	}
	record, found, err := b.Lease().LoadRecord(ctx)
	if err != nil || !found || record.Owner != b.Lease().Owner() {
		t.Fatalf("unexpected record %+v found=%v err=%v", record, found, err)
	}

	_ = b.CreateObject(ctx, "key", []byte("v"))
	keys, err := b.ListObjects(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0] != "key" {
		t.Fatalf("lease record must be hidden from listings, got %v", keys)
	}
	if err := b.DeleteObject(ctx, lease.DefaultRecordKey); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected reserved key to be rejected, got %v", err)
	}
}

func TestDurableLease_StoreFailure(t *testing.T) {
	cause := errors.New("503 slow down")
	cfg := DefaultConfig()
	cfg.DurableLease = true
	store := &faultyStore{Adapter: memory.NewAdapter("objects"), putErr: cause}
	b, _ := newTestBank(t, cfg, store)

	err := b.AcquireLease(context.Background())
	if !errors.Is(err, ErrStorageUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("expected ErrStorageUnavailable wrapping the cause, got %v", err)
	}
	if !b.CheckLeaseValidity() {
		t.Fatal("in-memory lease must be acquired despite the record failure")
	}
}

func TestStorageUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	store := &faultyStore{Adapter: memory.NewAdapter("objects")}
	b, _ := newTestBank(t, DefaultConfig(), store)
	ctx := context.Background()

	store.putErr, store.getErr, store.deleteErr, store.listErr = cause, cause, cause, cause
	for name, op := range map[string]func() error{
		"create": func() error { return b.CreateObject(ctx, "key", []byte("v")) },
		"get":    func() error { _, err := b.GetObject(ctx, "key"); return err },
		"update": func() error { return b.UpdateObject(ctx, "key", []byte("v")) },
		"delete": func() error { return b.DeleteObject(ctx, "key") },
		"list":   func() error { _, err := b.ListObjects(ctx, ""); return err },
	} {
		err := op()
		if !errors.Is(err, ErrStorageUnavailable) || !errors.Is(err, cause) {
			t.Errorf("%s: expected ErrStorageUnavailable wrapping the cause, got %v", name, err)
		}
	}
}

func TestCreateOnly_StoreFailureOnExistenceCheck(t *testing.T) {
	cause := errors.New("timeout")
	cfg := DefaultConfig()
	cfg.CreatePolicy = CreatePolicyCreateOnly
	store := &faultyStore{Adapter: memory.NewAdapter("objects"), getErr: cause}
	b, _ := newTestBank(t, cfg, store)

	if err := b.CreateObject(context.Background(), "key", []byte("v")); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestClose(t *testing.T) {
	b, _ := newTestBank(t, DefaultConfig(), nil)
	ctx := context.Background()

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := b.CreateObject(ctx, "key", []byte("v")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := b.AcquireLease(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := b.HealthCheck(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBanksHaveIndependentLeases(t *testing.T) {
	store := memory.NewAdapter()
	first, _ := newTestBank(t, Config{Container: "first", Lease: lease.DefaultConfig()}, store)
	second, _ := newTestBank(t, Config{Container: "second", Lease: lease.DefaultConfig()}, store)

	if err := first.AcquireLease(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !first.CheckLeaseValidity() || second.CheckLeaseValidity() {
		t.Fatal("leases of different banks must be independent")
	}
}

func TestKeepAlive(t *testing.T) {
	b, _ := newTestBank(t, DefaultConfig(), nil)

	renewer, errs := b.KeepAlive(context.Background(), lease.RenewerConfig{})
	deadline := time.Now().Add(5 * time.Second)
	for !b.CheckLeaseValidity() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !b.CheckLeaseValidity() {
		t.Fatal("expected keep-alive to acquire the lease")
	}
	renewer.Stop()
	if _, open := <-errs; open {
		t.Fatal("expected no renewal errors")
	}
}
