package coupons

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
)

// Repository owns coupon persistence. Every state change is a single-row
// conditional update so concurrent claims resolve inside the database, not
// in process memory.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a coupon repository bound to the provided gorm DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindRedeemable looks up an approved grant by code for a specific buyer and
// course. Used rows are still returned; the caller decides how to report
// them.
func (r *Repository) FindRedeemable(ctx context.Context, code, ownerEmail string, courseID uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).
		Where("UPPER(code) = ? AND LOWER(owner_email) = ? AND course_id = ? AND status = ?",
			strings.ToUpper(code), strings.ToLower(ownerEmail), courseID, enums.CouponStatusApproved).
		First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// FindByID returns the coupon row.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// ClaimFull consumes a 100% grant in one atomic step. Returns false when the
// row was already used.
func (r *Repository) ClaimFull(ctx context.Context, id uuid.UUID, usedBy string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{
			"used":    true,
			"used_by": usedBy,
			"used_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Reserve places a soft lock for a partial grant. The predicate admits the
// unreserved, the expired, and the caller's own prior reservation; a live
// reservation held by someone else loses.
func (r *Repository) Reserve(ctx context.Context, id uuid.UUID, reservedBy string, now, expiry time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND used = ? AND (reserved_by IS NULL OR reservation_expiry <= ? OR reserved_by = ?)",
			id, false, now, reservedBy).
		Updates(map[string]any{
			"reserved_by":        reservedBy,
			"reserved_at":        now,
			"reservation_expiry": expiry,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClearReservation releases a soft lock. Safe to call when no reservation
// exists.
func (r *Repository) ClearReservation(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{
			"reserved_by":        nil,
			"reserved_at":        nil,
			"reservation_expiry": nil,
		}).Error
}

// UnsetUsed rolls back a full claim that never reached an enrollment. Rows
// already attached to an enrollment are left alone.
func (r *Repository) UnsetUsed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND used = ? AND enrollment_id IS NULL", id, true).
		Updates(map[string]any{
			"used":    false,
			"used_by": nil,
			"used_at": nil,
		}).Error
}

// MarkUsed finalizes a reserved grant at payment confirmation. Conditional on
// used=false so webhook redelivery cannot consume twice.
func (r *Repository) MarkUsed(ctx context.Context, id, enrollmentID uuid.UUID, usedBy string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{
			"used":               true,
			"used_by":            usedBy,
			"used_at":            now,
			"enrollment_id":      enrollmentID,
			"reserved_by":        nil,
			"reserved_at":        nil,
			"reservation_expiry": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// AttachEnrollment links a consumed grant to the enrollment it produced.
func (r *Repository) AttachEnrollment(ctx context.Context, id, enrollmentID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND enrollment_id IS NULL", id).
		Update("enrollment_id", enrollmentID).Error
}

// ReleaseExpired bulk-clears reservations whose expiry has passed. Claim-time
// checks already treat them as free; this keeps the table readable for
// operators.
func (r *Repository) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("used = ? AND reservation_expiry IS NOT NULL AND reservation_expiry <= ?", false, now).
		Updates(map[string]any{
			"reserved_by":        nil,
			"reserved_at":        nil,
			"reservation_expiry": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
