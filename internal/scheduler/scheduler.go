// Package scheduler triggers linkage runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/couchcryptid/storm-asset-linker/internal/pipeline"
)

// Runner performs one linkage run.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Outcome, error)
}

// Scheduler periodically runs the linkage pipeline.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler. A zero interval disables scheduling.
func New(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the run job and starts the underlying scheduler. The
// first run starts immediately. Runs observe ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("scheduled linkage runs disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		s.runOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduled linkage runs", "interval", s.interval)
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	out, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.Info("skipping scheduled run", "reason", err)
	case err != nil:
		s.logger.Error("scheduled linkage run", "error", err)
	default:
		s.logger.Info("scheduled linkage run finished", "run_id", out.Report.RunID, "linkages", out.Report.LinkageCount)
	}
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
