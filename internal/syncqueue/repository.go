package syncqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
	"github.com/learnlyhq/learnly-backend/pkg/pagination"
)

// claimCandidateWindow bounds how many due jobs a single claim scans before
// giving up. Keeps the claim loop cheap when many workers race the same head.
const claimCandidateWindow = 10

// Repository persists sync jobs. Claiming and outcome writes are conditional
// updates so concurrent workers never double-own or resurrect a job.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateJob(ctx context.Context, job *models.SyncJob) error
	FindJob(ctx context.Context, jobID uuid.UUID) (*models.SyncJob, error)
	ClaimNext(ctx context.Context, workerID string, now time.Time, leaseTTL time.Duration) (*models.SyncJob, error)
	ReleaseStale(ctx context.Context, now time.Time) (int64, error)
	MarkCompleted(ctx context.Context, jobID uuid.UUID) error
	Reschedule(ctx context.Context, jobID uuid.UUID, attempts int, nextRetryAt time.Time, lastError string) (bool, error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, attempts int, lastError string) (bool, error)
	CompleteOpenForEnrollment(ctx context.Context, enrollmentID uuid.UUID) (int64, error)
	ListJobs(ctx context.Context, status *enums.SyncJobStatus, params pagination.Params) ([]models.SyncJob, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a sync job repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateJob(ctx context.Context, job *models.SyncJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) FindJob(ctx context.Context, jobID uuid.UUID) (*models.SyncJob, error) {
	var job models.SyncJob
	if err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimNext fetches a small window of due pending jobs ordered
// oldest-next_retry_at-first and races a conditional update per row. The first
// row won is leased to workerID; (nil, nil) means nothing is eligible.
func (r *repository) ClaimNext(ctx context.Context, workerID string, now time.Time, leaseTTL time.Duration) (*models.SyncJob, error) {
	var candidates []models.SyncJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", enums.SyncJobStatusPending, now).
		Order("next_retry_at ASC, created_at ASC").
		Limit(claimCandidateWindow).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	deadline := now.Add(leaseTTL)
	for i := range candidates {
		result := r.db.WithContext(ctx).
			Model(&models.SyncJob{}).
			Where("id = ? AND status = ?", candidates[i].ID, enums.SyncJobStatusPending).
			Updates(map[string]any{
				"status":           enums.SyncJobStatusProcessing,
				"leased_by":        workerID,
				"lease_expires_at": deadline,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			continue
		}

		job := candidates[i]
		job.Status = enums.SyncJobStatusProcessing
		job.LeasedBy = &workerID
		job.LeaseExpiresAt = &deadline
		return &job, nil
	}
	return nil, nil
}

// ReleaseStale returns every job whose lease deadline has passed back to
// pending so another worker can claim it.
func (r *repository) ReleaseStale(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?", enums.SyncJobStatusProcessing, now).
		Updates(map[string]any{
			"status":           enums.SyncJobStatusPending,
			"leased_by":        nil,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":           enums.SyncJobStatusCompleted,
			"leased_by":        nil,
			"lease_expires_at": nil,
		}).Error
}

// Reschedule returns a leased job to pending with an updated retry horizon.
// Zero rows means the job was resolved elsewhere (for example a manual resync
// completed it mid-attempt) and the outcome must not be written back.
func (r *repository) Reschedule(ctx context.Context, jobID uuid.UUID, attempts int, nextRetryAt time.Time, lastError string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, enums.SyncJobStatusProcessing).
		Updates(map[string]any{
			"status":           enums.SyncJobStatusPending,
			"attempts":         attempts,
			"next_retry_at":    nextRetryAt,
			"last_error":       lastError,
			"leased_by":        nil,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkFailed terminally fails a leased job once its attempts are exhausted.
// Same zero-row contract as Reschedule.
func (r *repository) MarkFailed(ctx context.Context, jobID uuid.UUID, attempts int, lastError string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, enums.SyncJobStatusProcessing).
		Updates(map[string]any{
			"status":           enums.SyncJobStatusFailed,
			"attempts":         attempts,
			"last_error":       lastError,
			"leased_by":        nil,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CompleteOpenForEnrollment closes every non-completed job tracking the
// enrollment. Used after a sync succeeded outside the queue so no job is left
// holding a dangling lease or retrying work that is already done.
func (r *repository) CompleteOpenForEnrollment(ctx context.Context, enrollmentID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("enrollment_id = ? AND status IN ?", enrollmentID, []enums.SyncJobStatus{
			enums.SyncJobStatusPending,
			enums.SyncJobStatusProcessing,
			enums.SyncJobStatusFailed,
		}).
		Updates(map[string]any{
			"status":           enums.SyncJobStatusCompleted,
			"leased_by":        nil,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) ListJobs(ctx context.Context, status *enums.SyncJobStatus, params pagination.Params) ([]models.SyncJob, *pagination.Cursor, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, err
	}

	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.SyncJob{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var jobs []models.SyncJob
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, nil, err
	}

	if len(jobs) > normalized {
		next := jobs[normalized]
		jobs = jobs[:normalized]
		return jobs, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return jobs, nil, nil
}
