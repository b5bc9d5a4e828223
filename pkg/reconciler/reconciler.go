package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowctf/burrow/pkg/log"
	"github.com/burrowctf/burrow/pkg/metrics"
	"github.com/burrowctf/burrow/pkg/scheduler"
)

// Reconciler drives the scheduler's background passes on fixed
// intervals: a slow reclaim pass and a fast prestart pass.
type Reconciler struct {
	sched         *scheduler.Scheduler
	cleanupEvery  time.Duration
	prestartEvery time.Duration
	logger        zerolog.Logger
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New creates a reconciler. Intervals must be positive.
func New(sched *scheduler.Scheduler, cleanupEvery, prestartEvery time.Duration) *Reconciler {
	return &Reconciler{
		sched:         sched,
		cleanupEvery:  cleanupEvery,
		prestartEvery: prestartEvery,
		logger:        log.WithComponent("reconciler"),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
	r.logger.Info().
		Dur("cleanup_every", r.cleanupEvery).
		Dur("prestart_every", r.prestartEvery).
		Msg("reconciler started")
}

// Stop stops the loop and waits for an in-flight pass to finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	cleanup := time.NewTicker(r.cleanupEvery)
	defer cleanup.Stop()
	prestart := time.NewTicker(r.prestartEvery)
	defer prestart.Stop()

	for {
		select {
		case <-cleanup.C:
			r.CleanupPass(context.Background())
		case <-prestart.C:
			r.PrestartPass(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// CleanupPass runs one reclaim cycle: surplus instances are stopped and
// orphaned containers are swept.
func (r *Reconciler) CleanupPass(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CleanupDuration)
		metrics.CleanupCyclesTotal.Inc()
	}()

	if err := r.sched.Cleanup(ctx); err != nil {
		r.logger.Error().Err(err).Msg("cleanup pass failed")
	}
	if err := r.sched.SweepOrphans(ctx); err != nil {
		r.logger.Error().Err(err).Msg("orphan sweep failed")
	}
}

// PrestartPass runs one warm-up cycle over the prewarm queue.
func (r *Reconciler) PrestartPass(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.PrestartDuration)
		metrics.PrestartCyclesTotal.Inc()
	}()

	if err := r.sched.Prestart(ctx); err != nil {
		r.logger.Error().Err(err).Msg("prestart pass failed")
	}
}
