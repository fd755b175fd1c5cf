package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Affiliate earns a commission on purchases referred through it. TotalEarned
// is a derived aggregate recomputed from paid enrollments, never incremented.
type Affiliate struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email          string          `gorm:"column:email;not null;uniqueIndex"`
	Name           string          `gorm:"column:name;not null"`
	ReferralCode   string          `gorm:"column:referral_code;not null;uniqueIndex"`
	CommissionRate decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	TotalEarned    decimal.Decimal `gorm:"column:total_earned;type:numeric(12,2);not null;default:0"`
	TotalPaidOut   decimal.Decimal `gorm:"column:total_paid_out;type:numeric(12,2);not null;default:0"`
	Active         bool            `gorm:"column:active;not null;default:true"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
