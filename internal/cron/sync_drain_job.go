package cron

import (
	"context"
	"fmt"

	"github.com/learnlyhq/learnly-backend/internal/syncqueue"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

// SyncDrainJobParams configure the LMS queue drain job.
type SyncDrainJobParams struct {
	Logger    *logger.Logger
	Queue     queueDrainer
	BatchSize int
}

type queueDrainer interface {
	Drain(ctx context.Context, batchSize int) (syncqueue.Stats, error)
}

// NewSyncDrainJob builds the job that works off due LMS sync jobs.
func NewSyncDrainJob(params SyncDrainJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("sync queue required")
	}
	return &syncDrainJob{
		logg:      params.Logger,
		queue:     params.Queue,
		batchSize: params.BatchSize,
	}, nil
}

type syncDrainJob struct {
	logg      *logger.Logger
	queue     queueDrainer
	batchSize int
}

func (j *syncDrainJob) Name() string { return "lms-sync-drain" }

// Run drains one batch. Per-job failures are already folded into the stats
// and the aggregated error; the cycle keeps its cadence either way.
func (j *syncDrainJob) Run(ctx context.Context) error {
	stats, err := j.queue.Drain(ctx, j.batchSize)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"processed": stats.Processed,
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"released":  stats.Released,
	})
	if err != nil {
		j.logg.Error(logCtx, "sync drain finished with errors", err)
		return fmt.Errorf("drain sync queue: %w", err)
	}
	if stats.Processed > 0 || stats.Released > 0 {
		j.logg.Info(logCtx, "sync drain complete")
	}
	return nil
}
