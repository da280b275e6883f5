package usecase

import (
	"context"
	"log/slog"
	"time"

	"MedicineCrawler/internal/ports"
)

// Scheduler wires the daily driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	options  func() (RunOptions, error)
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop the daily crawl. options is
// evaluated at every trigger so keyword files and ledgers are re-read.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, options func() (RunOptions, error), logger *slog.Logger) *Scheduler {
	if logger == nil && pipeline != nil {
		logger = pipeline.logger
	}
	return &Scheduler{driver: driver, pipeline: pipeline, options: options, logger: logger}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		opts := RunOptions{Mode: "scheduled"}
		if s.options != nil {
			var err error
			if opts, err = s.options(); err != nil {
				s.logger.Error("scheduled run skipped", "trigger", trigger, "error", err)
				return
			}
			opts.Mode = "scheduled"
		}
		s.logger.Info("scheduled run triggered", "trigger", trigger)
		if _, err := s.pipeline.Run(ctx, opts); err != nil {
			s.logger.Error("scheduled run failed", "trigger", trigger, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
