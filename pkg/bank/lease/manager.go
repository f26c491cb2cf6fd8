// Package lease tracks whether this process holds a fresh lease over a bank instance.
//
// The lease is process-local: a Manager records the expiry this process computed on its last
// acquire or renew. It does not arbitrate between processes; an orchestrator above the bank is
// responsible for never running two owners against one container.
//
// Validity is conservative. A lease is valid while now < expire - ValidityWindow, so callers stop
// trusting a lease some time before it actually lapses.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/nimburion/objectbank/pkg/objectstore"
	"github.com/nimburion/objectbank/pkg/observability/logger"
)

const (
	// DefaultExpireWindow is added to now on every acquire or renew.
	DefaultExpireWindow = 600 * time.Second
	// DefaultRenewWindow is how long before expiry a keep-alive should renew.
	DefaultRenewWindow = 120 * time.Second
	// DefaultValidityWindow is subtracted from the expiry when checking validity.
	DefaultValidityWindow = 100 * time.Second
	// DefaultRecordKey is the object key holding the durable lease record.
	DefaultRecordKey = ".bank-lease"

	// validityMargin is how long before the validity deadline a renewal is due when the
	// validity window is not smaller than the renew window.
	validityMargin = time.Second
)

var (
	// ErrInvalidConfig classifies unusable lease windows.
	ErrInvalidConfig = errors.New("invalid lease configuration")
	// ErrRecordStore classifies failures persisting or reading the durable lease record.
	ErrRecordStore = errors.New("lease record store unavailable")
)

// Config holds the lease windows.
type Config struct {
	ExpireWindow   time.Duration
	RenewWindow    time.Duration
	ValidityWindow time.Duration
}

// DefaultConfig returns the default lease windows.
func DefaultConfig() Config {
	return Config{
		ExpireWindow:   DefaultExpireWindow,
		RenewWindow:    DefaultRenewWindow,
		ValidityWindow: DefaultValidityWindow,
	}
}

// Validate rejects windows under which a lease could never be valid.
func (c Config) Validate() error {
	var errs []error
	if c.ExpireWindow <= 0 {
		errs = append(errs, fmt.Errorf("%w: expire window must be > 0, got %s", ErrInvalidConfig, c.ExpireWindow))
	}
	if c.RenewWindow < 0 {
		errs = append(errs, fmt.Errorf("%w: renew window cannot be negative", ErrInvalidConfig))
	}
	if c.ValidityWindow < 0 {
		errs = append(errs, fmt.Errorf("%w: validity window cannot be negative", ErrInvalidConfig))
	}
	if c.ExpireWindow > 0 && c.ValidityWindow >= c.ExpireWindow {
		errs = append(errs, fmt.Errorf("%w: validity window %s must be smaller than expire window %s",
			ErrInvalidConfig, c.ValidityWindow, c.ExpireWindow))
	}
	return errors.Join(errs...)
}

// RenewLead is how long before expiry a renewal is due. It is the renew window, moved earlier
// when needed so the renewal lands before the lease stops being valid at
// expiry - ValidityWindow.
func (c Config) RenewLead() time.Duration {
	lead := c.RenewWindow
	if c.ValidityWindow > 0 && lead < c.ValidityWindow+validityMargin {
		lead = c.ValidityWindow + validityMargin
	}
	return lead
}

// State is the lease lifecycle position as seen by this process.
type State int

const (
	// StateUnacquired means no acquire has happened yet.
	StateUnacquired State = iota
	// StateActive means the lease passes CheckValidity.
	StateActive
	// StateExpired means the lease was acquired but no longer passes CheckValidity.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnacquired:
		return "unacquired"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Manager owns the lease state of one bank instance.
type Manager struct {
	cfg    Config
	name   string
	owner  string
	clock  clock.Clock
	logger logger.Logger

	// expire holds unix nanoseconds; zero means never acquired.
	expire atomic.Int64

	records   objectstore.Adapter
	container string
	recordKey string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source. Defaults to clock.WallClock.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		if clk != nil {
			m.clock = clk
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.logger = log
		}
	}
}

// WithName labels logs and metrics for this lease, usually with the bank container.
func WithName(name string) Option {
	return func(m *Manager) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			m.name = trimmed
		}
	}
}

// WithRecordStore persists a Record under key in container on every acquire and renew.
// An empty key uses DefaultRecordKey.
func WithRecordStore(store objectstore.Adapter, container, key string) Option {
	return func(m *Manager) {
		m.records = store
		m.container = strings.TrimSpace(container)
		m.recordKey = strings.TrimSpace(key)
		if m.recordKey == "" {
			m.recordKey = DefaultRecordKey
		}
	}
}

// New creates a Manager with no lease held.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:    cfg,
		name:   "default",
		owner:  uuid.NewString(),
		clock:  clock.WallClock,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.records != nil && m.container == "" {
		return nil, fmt.Errorf("%w: record store requires a container", ErrInvalidConfig)
	}
	m.logger = m.logger.With("lease", m.name, "owner", m.owner)
	return m, nil
}

// Acquire sets the expiry to now + ExpireWindow.
//
// Expiry never moves backward: if the wall clock steps back, or a concurrent renewal read a
// later clock, the later expiry is kept and expire_time is not now + ExpireWindow. Clock jumps
// are otherwise not compensated.
//
// The in-memory lease is always updated. With a record store configured, a failed write
// returns an ErrRecordStore error while the in-memory lease stays acquired.
func (m *Manager) Acquire(ctx context.Context) error {
	return m.extend(ctx, "acquire")
}

// Renew performs the same computation as Acquire; it exists for keep-alive callers.
func (m *Manager) Renew(ctx context.Context) error {
	return m.extend(ctx, "renew")
}

func (m *Manager) extend(ctx context.Context, operation string) error {
	now := m.clock.Now()
	target := now.Add(m.cfg.ExpireWindow).UnixNano()

	// Keep the later expiry if a concurrent renewal computed it from a newer clock reading.
	for {
		current := m.expire.Load()
		if current >= target || m.expire.CompareAndSwap(current, target) {
			break
		}
	}
	expireAt := m.ExpireTime()
	setLeaseExpiry(m.name, expireAt)
	m.logger.Debug("lease extended", "operation", operation, "expire_time", expireAt)

	if m.records != nil {
		if err := m.writeRecord(ctx, now, expireAt); err != nil {
			recordLeaseOperation(m.name, operation, "record_error")
			m.logger.Error("failed to persist lease record", "operation", operation, "error", err)
			return err
		}
	}
	recordLeaseOperation(m.name, operation, "success")
	return nil
}

// CheckValidity reports whether now < expire - ValidityWindow. It is a pure, lock-free read;
// an unacquired lease is never valid.
func (m *Manager) CheckValidity() bool {
	expire := m.expire.Load()
	if expire == 0 {
		return false
	}
	deadline := time.Unix(0, expire).Add(-m.cfg.ValidityWindow)
	return m.clock.Now().Before(deadline)
}

// ShouldRenew reports whether the lease is unacquired or within RenewLead of its expiry.
func (m *Manager) ShouldRenew() bool {
	expire := m.expire.Load()
	if expire == 0 {
		return true
	}
	renewAt := time.Unix(0, expire).Add(-m.cfg.RenewLead())
	return !m.clock.Now().Before(renewAt)
}

// State returns the lifecycle position at the current clock reading.
func (m *Manager) State() State {
	if m.expire.Load() == 0 {
		return StateUnacquired
	}
	if m.CheckValidity() {
		return StateActive
	}
	return StateExpired
}

// ExpireTime returns the current expiry, or the zero time if never acquired.
func (m *Manager) ExpireTime() time.Time {
	expire := m.expire.Load()
	if expire == 0 {
		return time.Time{}
	}
	return time.Unix(0, expire).UTC()
}

// ExpireUnix returns the expiry in whole seconds since the epoch, 0 if never acquired.
func (m *Manager) ExpireUnix() int64 {
	expire := m.expire.Load()
	if expire == 0 {
		return 0
	}
	return time.Unix(0, expire).Unix()
}

// Remaining returns the time left until expiry, never negative.
func (m *Manager) Remaining() time.Duration {
	expire := m.expire.Load()
	if expire == 0 {
		return 0
	}
	remaining := time.Unix(0, expire).Sub(m.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Config returns the lease windows.
func (m *Manager) Config() Config {
	return m.cfg
}

// Owner returns the identifier written into durable lease records.
func (m *Manager) Owner() string {
	return m.owner
}

// Name returns the label used in logs and metrics.
func (m *Manager) Name() string {
	return m.name
}

// RecordKey returns the durable record key, or "" when no record store is configured.
func (m *Manager) RecordKey() string {
	if m.records == nil {
		return ""
	}
	return m.recordKey
}
