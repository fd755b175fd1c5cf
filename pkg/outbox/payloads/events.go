package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnlyhq/learnly-backend/pkg/enums"
)

// EnrollmentPaidEvent is emitted when a payment confirmation flips an
// enrollment to paid. Amounts are decimal strings to survive JSON round-trips.
type EnrollmentPaidEvent struct {
	EnrollmentID   uuid.UUID            `json:"enrollment_id"`
	CourseID       uuid.UUID            `json:"course_id"`
	Email          string               `json:"email"`
	EnrollmentType enums.EnrollmentType `json:"enrollment_type"`
	OriginalPrice  string               `json:"original_price"`
	DiscountAmount string               `json:"discount_amount"`
	Amount         string               `json:"amount"`
	Currency       string               `json:"currency"`
	CouponID       *uuid.UUID           `json:"coupon_id,omitempty"`
	AffiliateID    *uuid.UUID           `json:"affiliate_id,omitempty"`
	PaidAt         time.Time            `json:"paid_at"`
}

// CommissionRecordedEvent is emitted once per paid enrollment with affiliate
// attribution, after the conditional commission write succeeds.
type CommissionRecordedEvent struct {
	EnrollmentID     uuid.UUID `json:"enrollment_id"`
	AffiliateID      uuid.UUID `json:"affiliate_id"`
	CommissionRate   string    `json:"commission_rate"`
	CommissionAmount string    `json:"commission_amount"`
	BasisAmount      string    `json:"basis_amount"`
	Currency         string    `json:"currency"`
}

// EnrollmentSyncFailedEvent reports a sync job that exhausted its retry budget.
type EnrollmentSyncFailedEvent struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	JobID        uuid.UUID `json:"job_id"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`
	FailedAt     time.Time `json:"failed_at"`
}
