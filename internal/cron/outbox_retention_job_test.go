package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

type recordingRetentionRepo struct {
	cutoffs []time.Time
	err     error
}

func (r *recordingRetentionRepo) DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	r.cutoffs = append(r.cutoffs, cutoff)
	if r.err != nil {
		return 0, r.err
	}
	return 7, nil
}

type bareTxRunner struct{}

func (bareTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func retentionJobWithRepo(t *testing.T, repo *recordingRetentionRepo) *outboxRetentionJob {
	t.Helper()
	built, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:         bareTxRunner{},
		Repository: repo,
	})
	require.NoError(t, err)
	job, ok := built.(*outboxRetentionJob)
	require.True(t, ok, "unexpected job type %T", built)
	return job
}

func TestOutboxRetentionPrunesAtDefaultCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := &recordingRetentionRepo{}
	job := retentionJobWithRepo(t, repo)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	require.Len(t, repo.cutoffs, 1)
	assert.True(t, repo.cutoffs[0].Equal(now.Add(-outboxRetentionDays*24*time.Hour)),
		"cutoff should sit %d days back, got %s", outboxRetentionDays, repo.cutoffs[0])
}

func TestOutboxRetentionPropagatesRepoError(t *testing.T) {
	repo := &recordingRetentionRepo{err: errors.New("boom")}
	job := retentionJobWithRepo(t, repo)

	assert.Error(t, job.Run(context.Background()))
}
