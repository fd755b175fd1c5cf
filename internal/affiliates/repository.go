package affiliates

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
)

// Repository reads affiliate partners and maintains their derived earnings
// aggregate. Partner onboarding happens in the admin tooling.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds an affiliate repository bound to the provided gorm DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindActiveByEmail resolves a referral email to its active partner row.
// Matching is case-insensitive; storefront forms are not trusted to
// normalize.
func (r *Repository) FindActiveByEmail(ctx context.Context, email string) (*models.Affiliate, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return nil, gorm.ErrRecordNotFound
	}

	var affiliate models.Affiliate
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ? AND active = ?", normalized, true).
		First(&affiliate).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// FindByID returns the affiliate row regardless of active state.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Affiliate, error) {
	if id == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}

	var affiliate models.Affiliate
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&affiliate).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// RecomputeTotals rebuilds total_earned from the paid, commission-processed
// enrollments attributed to the affiliate. A full recompute is idempotent
// under webhook redelivery where an incremental counter would drift.
func (r *Repository) RecomputeTotals(ctx context.Context, affiliateID uuid.UUID) error {
	if affiliateID == uuid.Nil {
		return gorm.ErrInvalidValue
	}

	return r.db.WithContext(ctx).Exec(`
UPDATE affiliates
SET total_earned = COALESCE((
    SELECT SUM(e.commission_amount)
    FROM enrollments e
    WHERE e.affiliate_id = affiliates.id
      AND e.status = 'paid'
      AND e.commission_processed = ?
), 0)
WHERE id = ?`, true, affiliateID).Error
}
