package coupons

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
)

// ServiceParams groups dependencies for the coupon service.
type ServiceParams struct {
	Repo           *Repository
	ReservationTTL time.Duration
}

// Claim is the result of a successful ReserveOrConsume. Consumed means the
// grant was burned outright (100% discount); otherwise the caller holds a
// soft reservation until payment confirms or the TTL lapses.
type Claim struct {
	Coupon   *models.Coupon
	Consumed bool
}

// Service exposes the coupon claim lifecycle.
type Service interface {
	ReserveOrConsume(ctx context.Context, code, email string, courseID uuid.UUID, now time.Time) (*Claim, error)
	Release(ctx context.Context, couponID uuid.UUID) error
	RollbackClaim(ctx context.Context, couponID uuid.UUID) error
	MarkUsed(ctx context.Context, tx *gorm.DB, couponID, enrollmentID uuid.UUID, usedBy string, now time.Time) error
	AttachEnrollment(ctx context.Context, tx *gorm.DB, couponID, enrollmentID uuid.UUID) error
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
}

type service struct {
	repo           *Repository
	reservationTTL time.Duration
}

// NewService builds a coupon service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "coupon repo required")
	}
	if params.ReservationTTL <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reservation ttl must be positive")
	}
	return &service{
		repo:           params.Repo,
		reservationTTL: params.ReservationTTL,
	}, nil
}

// ReserveOrConsume claims the grant for a checkout attempt. Full grants are
// consumed in one conditional update; partial grants take a soft reservation
// that the payment webhook later finalizes. The expiry check runs after the
// claim and rolls it back, so an expired grant is never left half-claimed.
func (s *service) ReserveOrConsume(ctx context.Context, code, email string, courseID uuid.UUID, now time.Time) (*Claim, error) {
	normalizedCode := strings.ToUpper(strings.TrimSpace(code))
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	if normalizedCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code required")
	}
	if normalizedEmail == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer email required")
	}
	if courseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "course id required")
	}

	coupon, err := s.repo.FindRedeemable(ctx, normalizedCode, normalizedEmail, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeCouponUnavailable, "coupon not available")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	if coupon.Used {
		return nil, pkgerrors.New(pkgerrors.CodeCouponUnavailable, "coupon already used")
	}

	full := coupon.DiscountPercent >= 100
	if full {
		won, err := s.repo.ClaimFull(ctx, coupon.ID, normalizedEmail, now)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim coupon")
		}
		if !won {
			return nil, pkgerrors.New(pkgerrors.CodeCouponUnavailable, "coupon already used")
		}
		coupon.Used = true
		coupon.UsedBy = &normalizedEmail
		usedAt := now
		coupon.UsedAt = &usedAt
	} else {
		expiry := now.Add(s.reservationTTL)
		won, err := s.repo.Reserve(ctx, coupon.ID, normalizedEmail, now, expiry)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve coupon")
		}
		if !won {
			return nil, s.classifyReservationLoss(ctx, coupon.ID, normalizedEmail, now)
		}
		coupon.ReservedBy = &normalizedEmail
		reservedAt := now
		coupon.ReservedAt = &reservedAt
		coupon.ReservationExpiry = &expiry
	}

	if coupon.ExpiresAt != nil && !now.Before(*coupon.ExpiresAt) {
		if full {
			if err := s.repo.UnsetUsed(ctx, coupon.ID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "roll back expired claim")
			}
		} else {
			if err := s.repo.ClearReservation(ctx, coupon.ID); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release expired reservation")
			}
		}
		return nil, pkgerrors.New(pkgerrors.CodeCouponExpired, "coupon expired")
	}

	return &Claim{Coupon: coupon, Consumed: full}, nil
}

// classifyReservationLoss re-reads the row to report why the conditional
// update matched nothing.
func (s *service) classifyReservationLoss(ctx context.Context, couponID uuid.UUID, email string, now time.Time) error {
	current, err := s.repo.FindByID(ctx, couponID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeCouponUnavailable, "coupon not available")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload coupon")
	}
	if current.Used {
		return pkgerrors.New(pkgerrors.CodeCouponUnavailable, "coupon already used")
	}
	if current.ReservedBy != nil && *current.ReservedBy != email &&
		current.ReservationExpiry != nil && current.ReservationExpiry.After(now) {
		return pkgerrors.New(pkgerrors.CodeCouponReserved, "coupon is held by another checkout")
	}
	return pkgerrors.New(pkgerrors.CodeCouponUnavailable, "coupon not available")
}

// Release idempotently clears a reservation. Cancel and rollback paths call
// it without checking prior state.
func (s *service) Release(ctx context.Context, couponID uuid.UUID) error {
	if couponID == uuid.Nil {
		return nil
	}
	if err := s.repo.ClearReservation(ctx, couponID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release coupon")
	}
	return nil
}

// RollbackClaim undoes a full claim that never produced an enrollment.
func (s *service) RollbackClaim(ctx context.Context, couponID uuid.UUID) error {
	if couponID == uuid.Nil {
		return nil
	}
	if err := s.repo.UnsetUsed(ctx, couponID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "roll back coupon claim")
	}
	return nil
}

// MarkUsed consumes a reserved grant inside the payment confirmation
// transaction. A row already used is a no-op, not an error.
func (s *service) MarkUsed(ctx context.Context, tx *gorm.DB, couponID, enrollmentID uuid.UUID, usedBy string, now time.Time) error {
	if couponID == uuid.Nil || enrollmentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon and enrollment ids required")
	}
	_, err := s.repo.WithTx(tx).MarkUsed(ctx, couponID, enrollmentID, strings.ToLower(strings.TrimSpace(usedBy)), now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark coupon used")
	}
	return nil
}

// AttachEnrollment links a consumed grant to the enrollment row created for
// it.
func (s *service) AttachEnrollment(ctx context.Context, tx *gorm.DB, couponID, enrollmentID uuid.UUID) error {
	if couponID == uuid.Nil || enrollmentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon and enrollment ids required")
	}
	if err := s.repo.WithTx(tx).AttachEnrollment(ctx, couponID, enrollmentID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach enrollment to coupon")
	}
	return nil
}

// ReleaseExpired sweeps lapsed reservations; the janitor job runs it on a
// schedule.
func (s *service) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	released, err := s.repo.ReleaseExpired(ctx, now)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release expired reservations")
	}
	return released, nil
}
