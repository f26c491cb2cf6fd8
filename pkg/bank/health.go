package bank

import (
	"context"
	"errors"
	"time"

	"github.com/nimburion/objectbank/pkg/bank/lease"
	"github.com/nimburion/objectbank/pkg/health"
)

// RegisterHealthChecks adds the object store and lease checkers to registry.
func (b *Bank) RegisterHealthChecks(registry *health.Registry) {
	registry.Register(health.NewObjectStoreChecker("object-store:"+b.cfg.Container, b.cfg.Container, b))
	registry.Register(b.LeaseChecker())
}

// LeaseChecker reports the lease as degraded inside its renew window and unhealthy once expired.
// An unacquired lease is unhealthy only when object operations are gated on it.
func (b *Bank) LeaseChecker() health.Checker {
	return health.NewCustomChecker("lease:"+b.cfg.Container, func(context.Context) (health.Status, string, error) {
		switch b.lease.State() {
		case lease.StateUnacquired:
			if b.cfg.LeaseGating {
				return health.StatusUnhealthy, "lease not acquired", errors.New("object operations are gated on a lease that was never acquired")
			}
			return health.StatusHealthy, "lease not acquired", nil
		case lease.StateExpired:
			return health.StatusUnhealthy, "lease expired", ErrLeaseExpired
		}
		if b.lease.ShouldRenew() {
			return health.StatusDegraded, "lease inside renew window", nil
		}
		return health.StatusHealthy, "lease active", nil
	}).WithMetadata(func() map[string]any {
		return map[string]any{
			"state":       b.lease.State().String(),
			"expire_time": b.lease.ExpireTime().Format(time.RFC3339),
			"remaining":   b.lease.Remaining().String(),
			"gating":      b.cfg.LeaseGating,
		}
	})
}
