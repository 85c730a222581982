package engine

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/pharmacare/permengine/pkg/observability"
)

const (
	jobCacheSweep       = "cache_sweep"
	jobAssignmentExpiry = "assignment_expiry"
	jobStatusSuccess    = "success"
	jobStatusFailure    = "failure"
)

// SweepCaches evicts expired decisions and workspace contexts and returns
// how many entries were removed
func (e *Engine) SweepCaches(ctx context.Context) int {
	return e.resolver.Sweep(ctx) + e.loader.Sweep(ctx)
}

// ExpireAssignments revokes every assignment whose expiry has passed. The
// resolver already ignores expired rows; this keeps the stored state and the
// denormalised user role lists in step.
func (e *Engine) ExpireAssignments(ctx context.Context) (int, error) {
	n, err := e.assignments.ExpireStale(ctx)
	e.metrics.AssignmentsExpiredTotal.Add(float64(n))
	return n, err
}

// Start schedules the background jobs
func (e *Engine) Start() error {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()

	if e.scheduler != nil {
		return fmt.Errorf("engine jobs already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(e.cfg.Cache.SweepSchedule, e.runSweep); err != nil {
		return fmt.Errorf("failed to schedule cache sweep: %w", err)
	}
	if _, err := c.AddFunc(e.cfg.Engine.ExpirySchedule, e.runExpiry); err != nil {
		return fmt.Errorf("failed to schedule assignment expiry: %w", err)
	}
	c.Start()
	e.scheduler = c

	e.log.WithFields(map[string]interface{}{
		"sweep_schedule":  e.cfg.Cache.SweepSchedule,
		"expiry_schedule": e.cfg.Engine.ExpirySchedule,
	}).Info("background jobs started")
	return nil
}

// Stop stops scheduling and waits for running jobs or ctx, whichever ends first
func (e *Engine) Stop(ctx context.Context) error {
	e.schedMu.Lock()
	c := e.scheduler
	e.scheduler = nil
	e.schedMu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) runSweep() {
	defer observability.RecoverPanic(e.log, jobCacheSweep)

	n := e.SweepCaches(context.Background())
	e.metrics.JobRunsTotal.WithLabelValues(jobCacheSweep, jobStatusSuccess).Inc()
	if n > 0 {
		e.log.WithField("removed", n).Debug("swept expired cache entries")
	}
}

func (e *Engine) runExpiry() {
	defer observability.RecoverPanic(e.log, jobAssignmentExpiry)

	n, err := e.ExpireAssignments(context.Background())
	if err != nil {
		e.metrics.JobRunsTotal.WithLabelValues(jobAssignmentExpiry, jobStatusFailure).Inc()
		e.log.WithError(err).WithField("expired", n).Error("assignment expiry failed")
		return
	}
	e.metrics.JobRunsTotal.WithLabelValues(jobAssignmentExpiry, jobStatusSuccess).Inc()
	if n > 0 {
		e.log.WithField("expired", n).Info("expired temporary role assignments")
	}
}
