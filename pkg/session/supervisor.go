package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/pagedock/pkg/driver"
	"github.com/entrhq/pagedock/pkg/logging"
)

// Default supervisor timings.
const (
	DefaultIdleTimeout     = 300 * time.Second
	DefaultReclaimInterval = 60 * time.Second
	DefaultShutdownGrace   = 10 * time.Second
)

// SupervisorOptions configures the background lifecycle loop.
type SupervisorOptions struct {
	// IdleTimeout is how long a session may sit Active with no activity
	// before it is reclaimed
	IdleTimeout time.Duration

	// ReclaimInterval is how often the reclamation scan runs
	ReclaimInterval time.Duration

	// ShutdownGrace bounds how long a drain waits for in-flight actions
	ShutdownGrace time.Duration
}

// Supervisor ties the registry to the process lifecycle: it verifies the
// engine before first use, reclaims abandoned and dead sessions in the
// background, and drains everything on shutdown.
type Supervisor struct {
	registry *Registry
	driver   driver.Driver
	log      *logging.Logger

	idleTimeout     time.Duration
	reclaimInterval time.Duration
	shutdownGrace   time.Duration

	mu    sync.Mutex
	ready bool
}

// NewSupervisor creates a supervisor for the registry and driver. Zero
// option fields fall back to the package defaults.
func NewSupervisor(registry *Registry, d driver.Driver, opts SupervisorOptions, log *logging.Logger) *Supervisor {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = DefaultReclaimInterval
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	return &Supervisor{
		registry:        registry,
		driver:          d,
		log:             log,
		idleTimeout:     opts.IdleTimeout,
		reclaimInterval: opts.ReclaimInterval,
		shutdownGrace:   opts.ShutdownGrace,
	}
}

// EnsureReady verifies the browser engine, installing it on the first call,
// and caches success for the process lifetime. A failed attempt leaves the
// flag unset so the next create triggers another verify; that re-verify is
// the only automatic retry anywhere in the service.
func (s *Supervisor) EnsureReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if err := s.driver.Ensure(); err != nil {
		return WrapError(KindDriverUnavailable, err, "browser engine unavailable")
	}
	s.ready = true
	return nil
}

// Ready reports the cached readiness without triggering a verify.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Run reclaims idle and dead sessions on a fixed interval until ctx is
// canceled, then drains the registry and stops the engine. It blocks until
// shutdown completes.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.reclaim()
		}
	}
}

func (s *Supervisor) reclaim() {
	// Bound each sweep so a session that turned busy after the scan cannot
	// stall the loop beyond the grace period
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
	defer cancel()

	if n := s.registry.ReclaimIdle(ctx, s.idleTimeout); n > 0 {
		s.log.Infof("reclaimed %d idle session(s)", n)
	}
	if n := s.registry.ReclaimDead(ctx); n > 0 {
		s.log.Infof("reclaimed %d dead session(s)", n)
	}
}

// Shutdown stops new creates, drains every live session within the grace
// period, then stops the engine. Close failures are logged, never retried,
// and never abort the rest of the drain.
func (s *Supervisor) Shutdown() {
	s.registry.SetDraining()

	ids := s.registry.IDs()
	if len(ids) > 0 {
		s.log.Infof("draining %d session(s)", len(ids))

		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
		defer cancel()

		var g errgroup.Group
		for _, id := range ids {
			id := id
			g.Go(func() error {
				err := s.registry.Close(ctx, id)
				if err != nil && !IsKind(err, KindNotFound) {
					s.log.Warnf("session %s: drain close failed: %v", id, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := s.driver.Stop(); err != nil {
		s.log.Warnf("engine stop failed: %v", err)
	}
	s.log.Infof("shutdown complete")
}
