package analytics

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// EnrollmentFactRow mirrors the enrollment_facts BigQuery schema. One row per
// domain event; columns that only apply to one event type stay NULL on the
// rest. Money columns hold decimal strings so NUMERIC values survive exactly
// as the payloads carried them.
type EnrollmentFactRow struct {
	EventID          string             `bigquery:"event_id"`
	EventType        string             `bigquery:"event_type"`
	OccurredAt       time.Time          `bigquery:"occurred_at"`
	EnrollmentID     *string            `bigquery:"enrollment_id"`
	CourseID         *string            `bigquery:"course_id"`
	Email            *string            `bigquery:"email"`
	EnrollmentType   *string            `bigquery:"enrollment_type"`
	OriginalPrice    *string            `bigquery:"original_price"`
	DiscountAmount   *string            `bigquery:"discount_amount"`
	Amount           *string            `bigquery:"amount"`
	Currency         *string            `bigquery:"currency"`
	CouponID         *string            `bigquery:"coupon_id"`
	AffiliateID      *string            `bigquery:"affiliate_id"`
	CommissionRate   *string            `bigquery:"commission_rate"`
	CommissionAmount *string            `bigquery:"commission_amount"`
	BasisAmount      *string            `bigquery:"basis_amount"`
	SyncJobID        *string            `bigquery:"sync_job_id"`
	SyncAttempts     *int64             `bigquery:"sync_attempts"`
	SyncError        *string            `bigquery:"sync_error"`
	Payload          cbigquery.NullJSON `bigquery:"payload"`
}
