package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/learnlyhq/learnly-backend/pkg/enums"
)

// SyncJob is a durable, leasable unit of deferred LMS work. Only one worker
// may hold a live lease; a lease past LeaseExpiresAt is reclaimable.
type SyncJob struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JobType        enums.SyncJobType   `gorm:"column:job_type;type:sync_job_type_enum;not null"`
	EnrollmentID   uuid.UUID           `gorm:"column:enrollment_id;type:uuid;not null"`
	Payload        json.RawMessage     `gorm:"column:payload;type:jsonb;not null"`
	Status         enums.SyncJobStatus `gorm:"column:status;type:sync_job_status_enum;not null;default:pending"`
	Attempts       int                 `gorm:"column:attempts;not null;default:0"`
	MaxAttempts    int                 `gorm:"column:max_attempts;not null;default:5"`
	NextRetryAt    time.Time           `gorm:"column:next_retry_at;not null"`
	LeasedBy       *string             `gorm:"column:leased_by"`
	LeaseExpiresAt *time.Time          `gorm:"column:lease_expires_at"`
	LastError      *string             `gorm:"column:last_error"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
