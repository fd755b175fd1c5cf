package enrollments

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
)

// Repository defines persistence operations for the enrollment ledger and
// its processed-event table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, enrollment *models.Enrollment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error)
	FindActiveByCourseAndEmail(ctx context.Context, courseID uuid.UUID, email string) (*models.Enrollment, error)
	AttachStripeSession(ctx context.Context, id uuid.UUID, sessionID string) (bool, error)
	InsertPaymentEvent(ctx context.Context, enrollmentID uuid.UUID, eventID, eventType string) (bool, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time, amountPaid *decimal.Decimal) (bool, error)
	DeletePending(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSyncSucceeded(ctx context.Context, id uuid.UUID, lmsEnrollmentID string) error
	UpdateSyncProgress(ctx context.Context, id uuid.UUID, status enums.SyncStatus, attempts int, lastError *string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an enrollment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	return r.db.WithContext(ctx).Create(enrollment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&enrollment).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindActiveByCourseAndEmail returns the pending or paid row backing the
// duplicate-purchase check. Failed and cancelled attempts do not block a
// retry.
func (r *repository) FindActiveByCourseAndEmail(ctx context.Context, courseID uuid.UUID, email string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND LOWER(email) = ? AND status IN ?",
			courseID, strings.ToLower(strings.TrimSpace(email)),
			[]enums.EnrollmentStatus{enums.EnrollmentStatusPending, enums.EnrollmentStatusPaid}).
		First(&enrollment).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// AttachStripeSession records the hosted session id while the row is still
// pending.
func (r *repository) AttachStripeSession(ctx context.Context, id uuid.UUID, sessionID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", id, enums.EnrollmentStatusPending).
		Update("stripe_session_id", sessionID)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// InsertPaymentEvent appends to the processed-event ledger. The unique
// (enrollment_id, event_id) pair turns redelivery into a zero-row insert,
// which is the idempotency signal the confirmation flow keys on.
func (r *repository) InsertPaymentEvent(ctx context.Context, enrollmentID uuid.UUID, eventID, eventType string) (bool, error) {
	result := r.db.WithContext(ctx).
		Exec(`INSERT INTO payment_events (id, enrollment_id, event_id, event_type, received_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT (enrollment_id, event_id) DO NOTHING`,
			uuid.New(), enrollmentID, eventID, eventType, time.Now().UTC())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkPaid flips pending to paid exactly once. amountPaid overrides the
// stored amount when the provider reports an authoritative figure.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time, amountPaid *decimal.Decimal) (bool, error) {
	updates := map[string]any{
		"status":  enums.EnrollmentStatusPaid,
		"paid_at": paidAt,
	}
	if amountPaid != nil {
		updates["amount"] = *amountPaid
	}

	result := r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", id, enums.EnrollmentStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeletePending removes an unpaid row. Paid rows never match.
func (r *repository) DeletePending(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, enums.EnrollmentStatusPending).
		Delete(&models.Enrollment{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) MarkSyncSucceeded(ctx context.Context, id uuid.UUID, lmsEnrollmentID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sync_status":       enums.SyncStatusSuccess,
			"lms_enrollment_id": lmsEnrollmentID,
			"last_sync_error":   nil,
		}).Error
}

func (r *repository) UpdateSyncProgress(ctx context.Context, id uuid.UUID, status enums.SyncStatus, attempts int, lastError *string) error {
	return r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sync_status":     status,
			"sync_attempts":   attempts,
			"last_sync_error": lastError,
		}).Error
}
