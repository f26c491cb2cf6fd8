// Package bank stores opaque key/value objects in a backing object store while tracking
// whether this process holds a fresh lease over the bank instance.
//
// Lease state lives on each Bank value; several banks over different containers or backends
// can coexist in one process. With LeaseGating enabled every object operation first checks the
// lease and fails with ErrLeaseExpired when it is not valid.
package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/objectbank/pkg/bank/lease"
	"github.com/nimburion/objectbank/pkg/config"
	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/observability/logger"
	"github.com/nimburion/objectbank/pkg/observability/tracing"
)

// CreatePolicy decides what CreateObject does with an existing key.
type CreatePolicy string

const (
	// CreatePolicyUpsert overwrites an existing key.
	CreatePolicyUpsert CreatePolicy = config.CreatePolicyUpsert
	// CreatePolicyCreateOnly fails with ErrObjectAlreadyExists on an existing key. The check is a
	// read before the write, so two processes racing on one key can both succeed.
	CreatePolicyCreateOnly CreatePolicy = config.CreatePolicyCreateOnly
)

// Config configures a Bank.
type Config struct {
	Container    string
	Lease        lease.Config
	LeaseGating  bool
	CreatePolicy CreatePolicy
	// DurableLease writes a lease.Record under LeaseObjectKey on every acquire and renew.
	DurableLease   bool
	LeaseObjectKey string
}

// DefaultConfig returns an upsert bank over the "objects" container with default lease windows.
func DefaultConfig() Config {
	return Config{
		Container:      "objects",
		Lease:          lease.DefaultConfig(),
		CreatePolicy:   CreatePolicyUpsert,
		LeaseObjectKey: lease.DefaultRecordKey,
	}
}

// ConfigFrom maps the bank section of the service configuration.
func ConfigFrom(cfg config.BankConfig) Config {
	return Config{
		Container: cfg.Container,
		Lease: lease.Config{
			ExpireWindow:   cfg.LeaseExpireWindow,
			RenewWindow:    cfg.LeaseRenewWindow,
			ValidityWindow: cfg.LeaseValidityWindow,
		},
		LeaseGating:    cfg.LeaseGating,
		CreatePolicy:   CreatePolicy(cfg.CreatePolicy),
		DurableLease:   cfg.DurableLease,
		LeaseObjectKey: cfg.LeaseObjectKey,
	}
}

type options struct {
	clock  clock.Clock
	logger logger.Logger
}

// Option configures a Bank.
type Option func(*options)

// WithClock sets the lease time source.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// WithLogger sets the bank logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// Bank is the lease-guarded object bank over one container.
type Bank struct {
	cfg    Config
	store  objectstore.Adapter
	lease  *lease.Manager
	logger logger.Logger
	closed atomic.Bool
}

// New creates a bank over store. The container is created when missing and the store can create
// containers; otherwise a missing container is an error. The bank takes ownership of store and
// closes it on Close.
func New(ctx context.Context, cfg Config, store objectstore.Adapter, opts ...Option) (*Bank, error) {
	if store == nil {
		return nil, bankError(ErrInvalidArgument, "object store is required")
	}
	cfg.Container = strings.TrimSpace(cfg.Container)
	if cfg.Container == "" {
		return nil, bankError(ErrInvalidArgument, "container is required")
	}
	if cfg.CreatePolicy == "" {
		cfg.CreatePolicy = CreatePolicyUpsert
	}
	if cfg.CreatePolicy != CreatePolicyUpsert && cfg.CreatePolicy != CreatePolicyCreateOnly {
		return nil, bankError(ErrInvalidArgument, fmt.Sprintf("unknown create policy %q", cfg.CreatePolicy))
	}
	cfg.LeaseObjectKey = strings.TrimSpace(cfg.LeaseObjectKey)
	if cfg.LeaseObjectKey == "" {
		cfg.LeaseObjectKey = lease.DefaultRecordKey
	}

	o := options{clock: clock.WallClock, logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Nop()
	}
	log := o.logger.With("container", cfg.Container)

	leaseOpts := []lease.Option{
		lease.WithClock(o.clock),
		lease.WithLogger(log),
		lease.WithName(cfg.Container),
	}
	if cfg.DurableLease {
		leaseOpts = append(leaseOpts, lease.WithRecordStore(store, cfg.Container, cfg.LeaseObjectKey))
	}
	manager, err := lease.New(cfg.Lease, leaseOpts...)
	if err != nil {
		return nil, errors.Join(ErrInvalidArgument, err)
	}

	if err := ensureContainer(ctx, store, cfg.Container, log); err != nil {
		return nil, err
	}

	log.Info("object bank ready",
		"lease_gating", cfg.LeaseGating,
		"create_policy", string(cfg.CreatePolicy),
		"durable_lease", cfg.DurableLease,
	)
	return &Bank{cfg: cfg, store: store, lease: manager, logger: log}, nil
}

func ensureContainer(ctx context.Context, store objectstore.Adapter, container string, log logger.Logger) error {
	exists, err := store.HeadContainer(ctx, container)
	if err != nil {
		return storageError("head container", err)
	}
	if exists {
		return nil
	}
	creator, ok := store.(objectstore.ContainerCreator)
	if !ok {
		return storageError("head container", fmt.Errorf("container %q: %w", container, objectstore.ErrContainerNotFound))
	}
	if err := creator.CreateContainer(ctx, container); err != nil {
		return storageError("create container", err)
	}
	log.Info("container created")
	return nil
}

// AcquireLease sets the lease expiry to now + expire window.
//
// With a durable lease a failed record write returns ErrStorageUnavailable, but the in-memory
// lease is already acquired.
func (b *Bank) AcquireLease(ctx context.Context) (err error) {
	ctx, span := tracing.StartLeaseSpan(ctx, tracing.SpanOperationLeaseAcquire, b.cfg.Container)
	defer func() { tracing.End(span, err) }()

	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.lease.Acquire(ctx); err != nil {
		return storageError("acquire lease", err)
	}
	return nil
}

// RenewLease is AcquireLease for keep-alive callers.
func (b *Bank) RenewLease(ctx context.Context) (err error) {
	ctx, span := tracing.StartLeaseSpan(ctx, tracing.SpanOperationLeaseRenew, b.cfg.Container)
	defer func() { tracing.End(span, err) }()

	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.lease.Renew(ctx); err != nil {
		return storageError("renew lease", err)
	}
	return nil
}

// CheckLeaseValidity reports whether the lease is valid. It has no side effects.
func (b *Bank) CheckLeaseValidity() bool {
	return b.lease.CheckValidity()
}

// LeaseExpireTime returns the current lease expiry, zero if never acquired.
func (b *Bank) LeaseExpireTime() time.Time {
	return b.lease.ExpireTime()
}

// Lease exposes the lease manager.
func (b *Bank) Lease() *lease.Manager {
	return b.lease
}

// KeepAlive starts a renewer for this bank's lease. Stop the returned renewer when done.
func (b *Bank) KeepAlive(ctx context.Context, cfg lease.RenewerConfig) (*lease.Renewer, <-chan error) {
	renewer := lease.NewRenewer(b.lease, b.logger, cfg)
	return renewer, renewer.Start(ctx)
}

// Container returns the container this bank writes to.
func (b *Bank) Container() string {
	return b.cfg.Container
}

// Config returns the normalized bank configuration.
func (b *Bank) Config() Config {
	return b.cfg
}

// CreateObject stores value under key. Under the upsert policy an existing key is overwritten.
func (b *Bank) CreateObject(ctx context.Context, key string, value []byte) (err error) {
	const operation = "create"
	ctx, span := b.startSpan(ctx, tracing.SpanOperationObjectCreate, key, tracing.WithPayloadSize(len(value)))
	defer func() { tracing.End(span, err, ErrObjectAlreadyExists, ErrLeaseExpired) }()

	if err = b.begin(operation, key); err != nil {
		return err
	}
	started := time.Now()

	if b.cfg.CreatePolicy == CreatePolicyCreateOnly {
		_, err := b.store.Get(ctx, b.cfg.Container, key)
		switch {
		case err == nil:
			recordObjectOperation(b.cfg.Container, operation, "conflict", started)
			return bankError(ErrObjectAlreadyExists, key)
		case !errors.Is(err, objectstore.ErrNotFound):
			return b.fail(operation, key, started, err)
		}
	}

	if err := b.store.Put(ctx, b.cfg.Container, key, value); err != nil {
		return b.fail(operation, key, started, err)
	}
	recordObjectOperation(b.cfg.Container, operation, "success", started)
	return nil
}

// GetObject returns the value stored under key, or ErrObjectNotFound.
func (b *Bank) GetObject(ctx context.Context, key string) (value []byte, err error) {
	const operation = "get"
	ctx, span := b.startSpan(ctx, tracing.SpanOperationObjectGet, key)
	defer func() { tracing.End(span, err, ErrObjectNotFound, ErrLeaseExpired) }()

	if err = b.begin(operation, key); err != nil {
		return nil, err
	}
	started := time.Now()

	value, err = b.store.Get(ctx, b.cfg.Container, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		recordObjectOperation(b.cfg.Container, operation, "not_found", started)
		return nil, bankError(ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, b.fail(operation, key, started, err)
	}
	recordObjectOperation(b.cfg.Container, operation, "success", started)
	return value, nil
}

// UpdateObject writes value under key whether or not it exists.
func (b *Bank) UpdateObject(ctx context.Context, key string, value []byte) (err error) {
	const operation = "update"
	ctx, span := b.startSpan(ctx, tracing.SpanOperationObjectUpdate, key, tracing.WithPayloadSize(len(value)))
	defer func() { tracing.End(span, err, ErrLeaseExpired) }()

	if err = b.begin(operation, key); err != nil {
		return err
	}
	started := time.Now()

	if err := b.store.Put(ctx, b.cfg.Container, key, value); err != nil {
		return b.fail(operation, key, started, err)
	}
	recordObjectOperation(b.cfg.Container, operation, "success", started)
	return nil
}

// DeleteObject removes key. Deleting a missing key succeeds.
func (b *Bank) DeleteObject(ctx context.Context, key string) (err error) {
	const operation = "delete"
	ctx, span := b.startSpan(ctx, tracing.SpanOperationObjectDelete, key)
	defer func() { tracing.End(span, err, ErrLeaseExpired) }()

	if err = b.begin(operation, key); err != nil {
		return err
	}
	started := time.Now()

	if err := b.store.Delete(ctx, b.cfg.Container, key); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return b.fail(operation, key, started, err)
	}
	recordObjectOperation(b.cfg.Container, operation, "success", started)
	return nil
}

// ListObjects returns every key starting with prefix, without duplicates and in no particular
// order. An empty prefix lists the whole container. The durable lease record is never listed.
func (b *Bank) ListObjects(ctx context.Context, prefix string) (_ []string, err error) {
	const operation = "list"
	ctx, span := tracing.StartObjectSpan(ctx, tracing.SpanOperationObjectList,
		tracing.WithContainer(b.cfg.Container), tracing.WithPrefix(prefix))
	defer func() { tracing.End(span, err, ErrLeaseExpired) }()

	if err = b.gate(operation, prefix); err != nil {
		return nil, err
	}
	started := time.Now()

	keys, err := b.store.List(ctx, b.cfg.Container, prefix)
	if err != nil {
		return nil, b.fail(operation, prefix, started, err)
	}
	visible := make([]string, 0, len(keys))
	for _, key := range keys {
		if b.reserved(key) {
			continue
		}
		visible = append(visible, key)
	}
	recordObjectOperation(b.cfg.Container, operation, "success", started)
	return objectstore.UniqueKeys(visible), nil
}

// HealthCheck reports whether the backing store is reachable.
func (b *Bank) HealthCheck(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.store.HealthCheck(ctx); err != nil {
		return storageError("health check", err)
	}
	return nil
}

// Close closes the backing store. Further operations return ErrClosed.
func (b *Bank) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.logger.Info("closing object bank")
	if err := b.store.Close(); err != nil {
		return fmt.Errorf("failed to close object store: %w", err)
	}
	return nil
}

func (b *Bank) startSpan(ctx context.Context, operation tracing.SpanOperation, key string, opts ...tracing.SpanOption) (context.Context, trace.Span) {
	opts = append([]tracing.SpanOption{tracing.WithContainer(b.cfg.Container), tracing.WithObjectKey(key)}, opts...)
	return tracing.StartObjectSpan(ctx, operation, opts...)
}

// begin validates key and applies the lease gate. Keys are used exactly as given.
func (b *Bank) begin(operation, key string) error {
	if _, err := objectstore.ValidateKey(key); err != nil {
		recordObjectOperation(b.cfg.Container, operation, "invalid", time.Time{})
		return bankError(ErrInvalidArgument, "object key is required")
	}
	if b.reserved(key) {
		recordObjectOperation(b.cfg.Container, operation, "invalid", time.Time{})
		return bankError(ErrInvalidArgument, fmt.Sprintf("key %q is reserved for the lease record", key))
	}
	return b.gate(operation, key)
}

func (b *Bank) gate(operation, subject string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if b.cfg.LeaseGating && !b.lease.CheckValidity() {
		recordObjectOperation(b.cfg.Container, operation, "lease_expired", time.Time{})
		b.logger.Warn("object operation rejected without a valid lease", "operation", operation, "key", subject)
		return bankError(ErrLeaseExpired, fmt.Sprintf("%s %q", operation, subject))
	}
	return nil
}

func (b *Bank) reserved(key string) bool {
	return b.cfg.DurableLease && key == b.cfg.LeaseObjectKey
}

func (b *Bank) fail(operation, key string, started time.Time, cause error) error {
	recordObjectOperation(b.cfg.Container, operation, "error", started)
	if errors.Is(cause, objectstore.ErrInvalidKey) {
		return errors.Join(ErrInvalidArgument, cause)
	}
	b.logger.Error("object store operation failed", "operation", operation, "key", key, "error", cause)
	return storageError(operation+" "+key, cause)
}
