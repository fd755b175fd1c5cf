package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEvent is the processed-event ledger. The unique (enrollment_id,
// event_id) pair makes insert-if-absent the idempotency check for webhook
// redelivery.
type PaymentEvent struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EnrollmentID uuid.UUID `gorm:"column:enrollment_id;type:uuid;not null;uniqueIndex:idx_payment_events_enrollment_event"`
	EventID      string    `gorm:"column:event_id;not null;uniqueIndex:idx_payment_events_enrollment_event"`
	EventType    string    `gorm:"column:event_type;not null"`
	ReceivedAt   time.Time `gorm:"column:received_at;autoCreateTime"`
}
