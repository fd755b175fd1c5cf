package enrollments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/internal/commissions"
	dbpkg "github.com/learnlyhq/learnly-backend/pkg/db"
	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/outbox"
	"github.com/learnlyhq/learnly-backend/pkg/outbox/payloads"
)

const activeEnrollmentIndex = "idx_enrollments_active_course_email"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type couponFinalizer interface {
	MarkUsed(ctx context.Context, tx *gorm.DB, couponID, enrollmentID uuid.UUID, usedBy string, now time.Time) error
	AttachEnrollment(ctx context.Context, tx *gorm.DB, couponID, enrollmentID uuid.UUID) error
	Release(ctx context.Context, couponID uuid.UUID) error
}

type commissionRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, enrollment *models.Enrollment) (commissions.Result, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CreateInput carries the priced checkout decision into the ledger.
type CreateInput struct {
	CourseID       uuid.UUID
	Email          string
	Status         enums.EnrollmentStatus
	Type           enums.EnrollmentType
	OriginalPrice  decimal.Decimal
	DiscountAmount decimal.Decimal
	Amount         decimal.Decimal
	Currency       string
	CouponID       *uuid.UUID
	AffiliateID    *uuid.UUID
	CommissionRate decimal.Decimal
	PaidAt         *time.Time
}

// ConfirmInput identifies the provider event driving a payment confirmation.
type ConfirmInput struct {
	EnrollmentID uuid.UUID
	EventID      string
	EventType    string
	PaidAt       time.Time
	AmountPaid   *decimal.Decimal
}

// ConfirmResult reports what the confirmation transaction actually did.
// DuplicateEvent and Transitioned=false are both success shapes; callers
// must not re-run side effects for them.
type ConfirmResult struct {
	Enrollment     *models.Enrollment
	DuplicateEvent bool
	Transitioned   bool
	Commission     commissions.Result
}

// Service owns enrollment lifecycle transitions.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Enrollment, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Enrollment, error)
	BeginPaymentSession(ctx context.Context, enrollmentID uuid.UUID, sessionID string) error
	ConfirmPayment(ctx context.Context, input ConfirmInput) (*ConfirmResult, error)
	Cancel(ctx context.Context, enrollmentID uuid.UUID) error
}

// ServiceParams groups dependencies for the enrollment service.
type ServiceParams struct {
	Repo        Repository
	TxRunner    txRunner
	Coupons     couponFinalizer
	Commissions commissionRecorder
	Events      eventEmitter
}

type service struct {
	repo        Repository
	tx          txRunner
	coupons     couponFinalizer
	commissions commissionRecorder
	events      eventEmitter
}

// NewService builds an enrollment service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "enrollment repo required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Coupons == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "coupon finalizer required")
	}
	if params.Commissions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "commission recorder required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event emitter required")
	}
	return &service{
		repo:        params.Repo,
		tx:          params.TxRunner,
		coupons:     params.Coupons,
		commissions: params.Commissions,
		events:      params.Events,
	}, nil
}

// Create writes a new ledger row after the duplicate-purchase check. The
// check-then-insert race is closed by the partial unique index on active
// rows; a violation maps to the same duplicate error the check produces.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Enrollment, error) {
	if input.CourseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "course id required")
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email required")
	}
	if !input.Status.IsValid() || !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid enrollment state")
	}

	_, err := s.repo.FindActiveByCourseAndEmail(ctx, input.CourseID, email)
	if err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDuplicateEnrollment, "course already purchased or purchase in progress")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing enrollment")
	}

	enrollment := &models.Enrollment{
		ID:             uuid.New(),
		CourseID:       input.CourseID,
		Email:          email,
		Status:         input.Status,
		EnrollmentType: input.Type,
		OriginalPrice:  input.OriginalPrice,
		DiscountAmount: input.DiscountAmount,
		Amount:         input.Amount,
		Currency:       input.Currency,
		CouponID:       input.CouponID,
		AffiliateID:    input.AffiliateID,
		CommissionRate: input.CommissionRate,
		PaidAt:         input.PaidAt,
		SyncStatus:     enums.SyncStatusPending,
	}
	if enrollment.Currency == "" {
		enrollment.Currency = "usd"
	}

	if enrollment.Status == enums.EnrollmentStatusPaid {
		if enrollment.PaidAt == nil {
			now := time.Now().UTC()
			enrollment.PaidAt = &now
		}
		if err := s.createPaid(ctx, enrollment); err != nil {
			return nil, err
		}
		return enrollment, nil
	}

	if err := s.repo.Create(ctx, enrollment); err != nil {
		if dbpkg.IsUniqueViolation(err, activeEnrollmentIndex) {
			return nil, pkgerrors.New(pkgerrors.CodeDuplicateEnrollment, "course already purchased or purchase in progress")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create enrollment")
	}
	return enrollment, nil
}

// createPaid lands a row that is paid from the start, the free grant path.
// The insert, the coupon linkage, the commission and the outbox events commit
// or roll back as one.
func (s *service) createPaid(ctx context.Context, enrollment *models.Enrollment) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, enrollment); err != nil {
			return err
		}
		if enrollment.CouponID != nil {
			if err := s.coupons.AttachEnrollment(ctx, tx, *enrollment.CouponID, enrollment.ID); err != nil {
				return err
			}
		}
		commission, err := s.commissions.Record(ctx, tx, enrollment)
		if err != nil {
			return err
		}
		return s.emitPaid(ctx, tx, enrollment, commission)
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, activeEnrollmentIndex) {
			return pkgerrors.New(pkgerrors.CodeDuplicateEnrollment, "course already purchased or purchase in progress")
		}
		if coded := pkgerrors.As(err); coded != nil {
			return coded
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create paid enrollment")
	}
	return nil
}

// emitPaid queues the outbox events for a payment that just landed, inside
// the same transaction as the state change.
func (s *service) emitPaid(ctx context.Context, tx *gorm.DB, enrollment *models.Enrollment, commission commissions.Result) error {
	paidAt := time.Now().UTC()
	if enrollment.PaidAt != nil {
		paidAt = *enrollment.PaidAt
	}
	err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEnrollmentPaid,
		AggregateType: enums.AggregateEnrollment,
		AggregateID:   enrollment.ID,
		Data: payloads.EnrollmentPaidEvent{
			EnrollmentID:   enrollment.ID,
			CourseID:       enrollment.CourseID,
			Email:          enrollment.Email,
			EnrollmentType: enrollment.EnrollmentType,
			OriginalPrice:  enrollment.OriginalPrice.StringFixed(2),
			DiscountAmount: enrollment.DiscountAmount.StringFixed(2),
			Amount:         enrollment.Amount.StringFixed(2),
			Currency:       enrollment.Currency,
			CouponID:       enrollment.CouponID,
			AffiliateID:    enrollment.AffiliateID,
			PaidAt:         paidAt,
		},
		Version: 1,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit enrollment paid event")
	}

	if !commission.Recorded || enrollment.AffiliateID == nil {
		return nil
	}
	err = s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCommissionRecorded,
		AggregateType: enums.AggregateAffiliate,
		AggregateID:   *enrollment.AffiliateID,
		Data: payloads.CommissionRecordedEvent{
			EnrollmentID:     enrollment.ID,
			AffiliateID:      *enrollment.AffiliateID,
			CommissionRate:   enrollment.CommissionRate.StringFixed(2),
			CommissionAmount: commission.Amount.StringFixed(2),
			BasisAmount:      enrollment.Amount.StringFixed(2),
			Currency:         enrollment.Currency,
		},
		Version: 1,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit commission recorded event")
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "enrollment id required")
	}
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "enrollment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment")
	}
	return enrollment, nil
}

// BeginPaymentSession attaches the hosted session id to a still-pending row.
func (s *service) BeginPaymentSession(ctx context.Context, enrollmentID uuid.UUID, sessionID string) error {
	if enrollmentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "enrollment id required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	attached, err := s.repo.AttachStripeSession(ctx, enrollmentID, sessionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach payment session")
	}
	if !attached {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "enrollment is no longer pending")
	}
	return nil
}

// ConfirmPayment is the financial transition, one transaction end to end:
// record the provider event, flip pending to paid, consume the reserved
// coupon, record the commission, queue the outbox events. Redelivered events
// stop at the first step;
// a row already paid through a different event stops at the second. Both
// come back as nil errors so providers are never asked to retry work that
// is already done.
func (s *service) ConfirmPayment(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	if input.EnrollmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "enrollment id required")
	}
	if strings.TrimSpace(input.EventID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	if input.PaidAt.IsZero() {
		input.PaidAt = time.Now().UTC()
	}

	out := &ConfirmResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		recorded, err := repo.InsertPaymentEvent(ctx, input.EnrollmentID, input.EventID, input.EventType)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment event")
		}
		if !recorded {
			out.DuplicateEvent = true
			return nil
		}

		enrollment, err := repo.FindByID(ctx, input.EnrollmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "enrollment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment")
		}
		out.Enrollment = enrollment

		transitioned, err := repo.MarkPaid(ctx, enrollment.ID, input.PaidAt, input.AmountPaid)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark enrollment paid")
		}
		if !transitioned {
			return nil
		}

		enrollment.Status = enums.EnrollmentStatusPaid
		paidAt := input.PaidAt
		enrollment.PaidAt = &paidAt
		if input.AmountPaid != nil {
			enrollment.Amount = *input.AmountPaid
		}

		if enrollment.EnrollmentType == enums.EnrollmentTypePartialGrant && enrollment.CouponID != nil {
			if err := s.coupons.MarkUsed(ctx, tx, *enrollment.CouponID, enrollment.ID, enrollment.Email, input.PaidAt); err != nil {
				return err
			}
		}

		commission, err := s.commissions.Record(ctx, tx, enrollment)
		if err != nil {
			return err
		}
		out.Commission = commission

		if err := s.emitPaid(ctx, tx, enrollment, commission); err != nil {
			return err
		}
		out.Transitioned = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel abandons a pending purchase: release the coupon hold, delete the
// row. Rows already paid or already gone make this a no-op success; buyers
// hitting cancel twice should not see errors.
func (s *service) Cancel(ctx context.Context, enrollmentID uuid.UUID) error {
	if enrollmentID == uuid.Nil {
		return nil
	}

	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment")
	}
	if enrollment.Status != enums.EnrollmentStatusPending {
		return nil
	}

	if enrollment.CouponID != nil {
		if err := s.coupons.Release(ctx, *enrollment.CouponID); err != nil {
			return err
		}
	}

	if _, err := s.repo.DeletePending(ctx, enrollmentID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete pending enrollment")
	}
	return nil
}
