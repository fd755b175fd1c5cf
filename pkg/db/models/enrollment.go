package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnlyhq/learnly-backend/pkg/enums"
)

// Enrollment is the authoritative record of a purchase attempt and its
// outcome. A partial unique index on (course_id, email) over pending|paid
// rows backs duplicate prevention; processed payment events live in
// payment_events.
type Enrollment struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CourseID       uuid.UUID              `gorm:"column:course_id;type:uuid;not null"`
	Email          string                 `gorm:"column:email;not null"`
	Status         enums.EnrollmentStatus `gorm:"column:status;type:enrollment_status_enum;not null;default:pending"`
	EnrollmentType enums.EnrollmentType   `gorm:"column:enrollment_type;type:enrollment_type_enum;not null"`

	OriginalPrice  decimal.Decimal `gorm:"column:original_price;type:numeric(12,2);not null"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2);not null;default:0"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency       string          `gorm:"column:currency;not null;default:usd"`

	CouponID        *uuid.UUID `gorm:"column:coupon_id;type:uuid"`
	StripeSessionID *string    `gorm:"column:stripe_session_id"`
	PaidAt          *time.Time `gorm:"column:paid_at"`

	AffiliateID         *uuid.UUID      `gorm:"column:affiliate_id;type:uuid"`
	CommissionRate      decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,2);not null;default:0"`
	CommissionAmount    decimal.Decimal `gorm:"column:commission_amount;type:numeric(12,2);not null;default:0"`
	CommissionProcessed bool            `gorm:"column:commission_processed;not null;default:false"`

	SyncStatus      enums.SyncStatus `gorm:"column:sync_status;type:sync_status_enum;not null;default:pending"`
	LMSEnrollmentID *string          `gorm:"column:lms_enrollment_id"`
	SyncAttempts    int              `gorm:"column:sync_attempts;not null;default:0"`
	LastSyncError   *string          `gorm:"column:last_sync_error"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
