package lease

import (
	"context"
	"sync"
	"time"

	"github.com/nimburion/objectbank/pkg/observability/logger"
)

const (
	minRenewInterval     = time.Second
	renewerErrorsBufSize = 16
)

// RenewerConfig configures a keep-alive loop.
type RenewerConfig struct {
	// Interval between renewals. Zero derives ExpireWindow - RenewLead from the lease config, so
	// each renewal happens while the lease is still valid.
	Interval time.Duration
}

// Renewer keeps a lease fresh by renewing it on a fixed interval of the manager's clock.
type Renewer struct {
	manager  *Manager
	logger   logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	errs    chan error
	running bool
}

// NewRenewer creates a keep-alive loop for m. Call Start to run it.
func NewRenewer(m *Manager, log logger.Logger, cfg RenewerConfig) *Renewer {
	if log == nil {
		log = logger.Nop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		leaseCfg := m.Config()
		interval = leaseCfg.ExpireWindow - leaseCfg.RenewLead()
	}
	if interval < minRenewInterval {
		interval = minRenewInterval
	}
	return &Renewer{
		manager:  m,
		logger:   log.With("lease", m.Name()),
		interval: interval,
	}
}

// Interval returns the time between renewals.
func (r *Renewer) Interval() time.Duration {
	return r.interval
}

// Start renews immediately and then once per interval until ctx is cancelled or Stop is called.
//
// Renewal failures are logged, counted and sent on the returned channel; the loop keeps going so a
// transient store outage does not end the keep-alive. Errors are dropped when the channel buffer
// is full. The channel is closed when the loop exits. Calling Start on a running Renewer returns
// the channel of the running loop.
func (r *Renewer) Start(ctx context.Context) <-chan error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		select {
		case <-r.done:
			// the parent context ended the previous loop
		default:
			return r.errs
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.errs = make(chan error, renewerErrorsBufSize)
	r.running = true

	go r.loop(loopCtx, r.errs, r.done)
	return r.errs
}

// Stop cancels the loop and waits for it to exit. It is safe to call more than once.
func (r *Renewer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
}

func (r *Renewer) loop(ctx context.Context, errs chan<- error, done chan<- struct{}) {
	defer close(done)
	defer close(errs)

	r.logger.Info("lease keep-alive started", "interval", r.interval)
	r.renew(ctx, errs)

	clk := r.manager.clock
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("lease keep-alive stopped")
			return
		case <-clk.After(r.interval):
			r.renew(ctx, errs)
		}
	}
}

func (r *Renewer) renew(ctx context.Context, errs chan<- error) {
	if err := r.manager.Renew(ctx); err != nil {
		recordRenewerFailure(r.manager.Name())
		r.logger.Warn("lease renewal failed", "error", err)
		select {
		case errs <- err:
		default:
		}
		return
	}
	r.logger.Debug("lease renewed", "expire_time", r.manager.ExpireTime())
}
