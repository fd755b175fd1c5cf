package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/metrics"
)

const defaultInterval = time.Minute

// ServiceParams wires the scheduler's collaborators. Registry and Metrics
// are optional, Interval falls back to one minute.
type ServiceParams struct {
	Logger   *logger.Logger
	Lock     Lock
	Registry *Registry
	Interval time.Duration
	Metrics  *metrics.CronJobMetrics
}

// Service executes registered cron jobs on a fixed cadence. A shared
// lock keeps concurrent worker instances from running the same cycle.
type Service struct {
	logg     *logger.Logger
	lock     Lock
	registry *Registry
	interval time.Duration
	metrics  *metrics.CronJobMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.Lock == nil:
		return nil, errors.New("lock is required")
	}

	s := &Service{
		logg:     params.Logger,
		lock:     params.Lock,
		registry: params.Registry,
		interval: params.Interval,
		metrics:  params.Metrics,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// Run fires one cycle immediately, then ticks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.cycle(ctx); err != nil {
		s.logg.Error(ctx, "cron cycle failed", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := s.cycle(ctx); err != nil {
				s.logg.Error(ctx, "cron cycle failed", err)
			}
		}
	}
}

// cycle runs every registered job once, holding the shared lock for the
// duration. A failing job never stops the rest of the cycle.
func (s *Service) cycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another worker instance is running; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "cron lock release failed", relErr)
		}
	}()

	for _, job := range s.registry.Jobs() {
		s.execute(ctx, job)
	}
	return nil
}

func (s *Service) execute(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	started := time.Now()
	err := job.Run(jobCtx)
	elapsed := time.Since(started)
	s.observe(job.Name(), elapsed, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron job failed", err)
		return
	}
	s.logg.Info(jobCtx, "cron job completed")
}

func (s *Service) observe(job string, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDuration(job, elapsed)
	if err != nil {
		s.metrics.IncFailure(job)
		return
	}
	s.metrics.IncSuccess(job)
}
