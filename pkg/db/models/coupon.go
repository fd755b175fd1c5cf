package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnlyhq/learnly-backend/pkg/enums"
)

// Coupon is a single-use discount grant tied to one owner email and one
// course. Reservation fields implement the checkout soft lock; Used flips
// true at most once, ever.
type Coupon struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code              string             `gorm:"column:code;not null;uniqueIndex"`
	OwnerEmail        string             `gorm:"column:owner_email;not null"`
	CourseID          uuid.UUID          `gorm:"column:course_id;type:uuid;not null"`
	DiscountPercent   int                `gorm:"column:discount_percent;not null"`
	Status            enums.CouponStatus `gorm:"column:status;type:coupon_status_enum;not null;default:pending"`
	Used              bool               `gorm:"column:used;not null;default:false"`
	ReservedBy        *string            `gorm:"column:reserved_by"`
	ReservedAt        *time.Time         `gorm:"column:reserved_at"`
	ReservationExpiry *time.Time         `gorm:"column:reservation_expiry"`
	UsedAt            *time.Time         `gorm:"column:used_at"`
	UsedBy            *string            `gorm:"column:used_by"`
	EnrollmentID      *uuid.UUID         `gorm:"column:enrollment_id;type:uuid"`
	ExpiresAt         *time.Time         `gorm:"column:expires_at"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
