package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Course is the purchasable catalog entry. Catalog management happens in the
// admin tooling; this service only reads it to price checkouts.
type Course struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Slug        string          `gorm:"column:slug;not null;uniqueIndex"`
	Title       string          `gorm:"column:title;not null"`
	Description string          `gorm:"column:description"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Currency    string          `gorm:"column:currency;not null;default:usd"`
	LMSCourseID string          `gorm:"column:lms_course_id;not null"`
	Tags        pq.StringArray  `gorm:"column:tags;type:text[];default:ARRAY[]::text[]"`
	Active      bool            `gorm:"column:active;not null;default:true"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
