package sweep

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a Sweeper on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  *Sweeper
	schedule string
	logger   *slog.Logger
}

// NewScheduler creates a scheduler. schedule uses the standard five-field
// cron format, e.g. "0 6 * * *".
func NewScheduler(sweeper *Sweeper, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger.With("component", "sweep_scheduler"),
	}
}

// Start registers the sweep and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunNow); err != nil {
		s.logger.Error("failed to schedule late fee sweep", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled late fee sweep", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops the cron loop. The returned context is done once a running
// sweep finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunNow runs one sweep synchronously.
func (s *Scheduler) RunNow() {
	if _, err := s.sweeper.RunOnce(context.Background()); err != nil {
		s.logger.Warn("late fee sweep finished with errors", "error", err)
	}
}
