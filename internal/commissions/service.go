package commissions

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/internal/affiliates"
	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
)

var percentBase = decimal.NewFromInt(100)

// Result reports whether this call recorded the commission and for how much.
// Recorded=false with no error means another delivery already did it.
type Result struct {
	Recorded bool
	Amount   decimal.Decimal
}

// Service records referral commissions at payment confirmation and keeps
// affiliate aggregates honest.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, enrollment *models.Enrollment) (Result, error)
	Recompute(ctx context.Context, affiliateID uuid.UUID) error
}

// ServiceParams groups dependencies for the commission service.
type ServiceParams struct {
	DB         *gorm.DB
	Affiliates *affiliates.Repository
}

type service struct {
	db         *gorm.DB
	affiliates *affiliates.Repository
}

// NewService builds a commission service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db handle required")
	}
	if params.Affiliates == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "affiliate repo required")
	}
	return &service{
		db:         params.DB,
		affiliates: params.Affiliates,
	}, nil
}

// Record computes the commission on the amount actually paid and writes it
// with a conditional update keyed on commission_processed. Runs inside the
// payment confirmation transaction; webhook redelivery finds the flag set
// and records nothing.
func (s *service) Record(ctx context.Context, tx *gorm.DB, enrollment *models.Enrollment) (Result, error) {
	if enrollment == nil || enrollment.ID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "enrollment required")
	}
	if enrollment.AffiliateID == nil {
		return Result{}, nil
	}

	conn := s.db
	if tx != nil {
		conn = tx
	}

	amount := enrollment.Amount.
		Mul(enrollment.CommissionRate).
		Div(percentBase).
		Round(2)

	result := conn.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("id = ? AND commission_processed = ?", enrollment.ID, false).
		Updates(map[string]any{
			"commission_amount":    amount,
			"commission_processed": true,
		})
	if result.Error != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "record commission")
	}
	if result.RowsAffected == 0 {
		return Result{}, nil
	}

	enrollment.CommissionAmount = amount
	enrollment.CommissionProcessed = true
	return Result{Recorded: true, Amount: amount}, nil
}

// Recompute rebuilds the affiliate's total_earned aggregate. Runs outside
// the confirmation transaction; a missed run self-heals on the next one.
func (s *service) Recompute(ctx context.Context, affiliateID uuid.UUID) error {
	if affiliateID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "affiliate id required")
	}
	if err := s.affiliates.RecomputeTotals(ctx, affiliateID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recompute affiliate totals")
	}
	return nil
}
