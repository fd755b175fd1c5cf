package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/internal/coupons"
	"github.com/learnlyhq/learnly-backend/internal/enrollments"
	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

type courseCatalog interface {
	FindActiveByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
}

type affiliateDirectory interface {
	FindActiveByEmail(ctx context.Context, email string) (*models.Affiliate, error)
}

type couponClaims interface {
	ReserveOrConsume(ctx context.Context, code, email string, courseID uuid.UUID, now time.Time) (*coupons.Claim, error)
	Release(ctx context.Context, couponID uuid.UUID) error
	RollbackClaim(ctx context.Context, couponID uuid.UUID) error
}

type enrollmentWriter interface {
	Create(ctx context.Context, input enrollments.CreateInput) (*models.Enrollment, error)
	BeginPaymentSession(ctx context.Context, enrollmentID uuid.UUID, sessionID string) error
	Cancel(ctx context.Context, enrollmentID uuid.UUID) error
}

type commissionTotals interface {
	Recompute(ctx context.Context, affiliateID uuid.UUID) error
}

type accessNotifier interface {
	EnrollmentPaid(ctx context.Context, enrollment *models.Enrollment, course *models.Course)
}

type lmsSyncer interface {
	SyncNow(ctx context.Context, enrollment *models.Enrollment, course *models.Course) error
}

// BeginInput is a checkout request after transport validation.
type BeginInput struct {
	CourseID       uuid.UUID
	Email          string
	CouponCode     string
	AffiliateEmail string
}

// Service drives a purchase from request to hosted payment page, or straight
// to a paid enrollment when a full grant covers the price.
type Service interface {
	Begin(ctx context.Context, input BeginInput) (Outcome, error)
	Cancel(ctx context.Context, enrollmentID uuid.UUID) error
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	Courses     courseCatalog
	Affiliates  affiliateDirectory
	Coupons     couponClaims
	Enrollments enrollmentWriter
	Commissions commissionTotals
	Notifier    accessNotifier
	Sync        lmsSyncer
	Stripe      StripeSessionClient
	Logger      *logger.Logger
	Config      config.CheckoutConfig
}

type service struct {
	courses     courseCatalog
	affiliates  affiliateDirectory
	coupons     couponClaims
	enrollments enrollmentWriter
	commissions commissionTotals
	notifier    accessNotifier
	sync        lmsSyncer
	stripe      StripeSessionClient
	logg        *logger.Logger
	cfg         config.CheckoutConfig
}

// NewService builds a checkout service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Courses == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "course catalog required")
	}
	if params.Affiliates == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "affiliate directory required")
	}
	if params.Coupons == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "coupon service required")
	}
	if params.Enrollments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "enrollment service required")
	}
	if params.Commissions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "commission service required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	}
	if params.Sync == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lms sync service required")
	}
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe session client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		courses:     params.Courses,
		affiliates:  params.Affiliates,
		coupons:     params.Coupons,
		enrollments: params.Enrollments,
		commissions: params.Commissions,
		notifier:    params.Notifier,
		sync:        params.Sync,
		stripe:      params.Stripe,
		logg:        params.Logger,
		cfg:         params.Config,
	}, nil
}

// Begin prices the purchase and either enrolls the buyer outright or opens a
// hosted payment session. The coupon claim is the only state taken before
// the enrollment row exists; every exit after it keeps both or unwinds both.
func (s *service) Begin(ctx context.Context, input BeginInput) (Outcome, error) {
	if input.CourseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "course id required")
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email required")
	}
	logCtx := s.logg.WithCourseID(ctx, input.CourseID.String())

	course, err := s.courses.FindActiveByID(ctx, input.CourseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Rejected{Code: pkgerrors.CodeCourseNotFound, Message: "course not found"}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load course")
	}

	affiliate, rejection, err := s.resolveAffiliate(logCtx, email, input.AffiliateEmail)
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		return *rejection, nil
	}

	now := time.Now().UTC()
	var claim *coupons.Claim
	if code := strings.TrimSpace(input.CouponCode); code != "" {
		claim, err = s.coupons.ReserveOrConsume(ctx, code, email, course.ID, now)
		if err != nil {
			if rejection := rejectionFor(err); rejection != nil {
				return *rejection, nil
			}
			return nil, err
		}
	}

	quote := coupons.ComputeDiscount(discountPercent(claim), course.Price)

	createInput := enrollments.CreateInput{
		CourseID:       course.ID,
		Email:          email,
		Status:         enums.EnrollmentStatusPending,
		Type:           enums.EnrollmentTypePaid,
		OriginalPrice:  quote.OriginalPrice,
		DiscountAmount: quote.DiscountAmount,
		Amount:         quote.FinalPrice,
		Currency:       s.currencyFor(course),
	}
	if claim != nil {
		createInput.CouponID = &claim.Coupon.ID
		createInput.Type = enums.EnrollmentTypePartialGrant
	}
	if affiliate != nil {
		createInput.AffiliateID = &affiliate.ID
		createInput.CommissionRate = affiliate.CommissionRate
	}
	if !quote.RequiresPayment {
		createInput.Status = enums.EnrollmentStatusPaid
		createInput.Type = enums.EnrollmentTypeFreeGrant
		createInput.PaidAt = &now
	}

	enrollment, err := s.enrollments.Create(ctx, createInput)
	if err != nil {
		s.unwindClaim(logCtx, claim)
		if rejection := rejectionFor(err); rejection != nil {
			return *rejection, nil
		}
		return nil, err
	}
	logCtx = s.logg.WithEnrollmentID(logCtx, enrollment.ID.String())

	if !quote.RequiresPayment {
		s.afterPaid(logCtx, enrollment, course)
		s.logg.Info(logCtx, "free grant enrollment completed")
		return FreeEnrollment{EnrollmentID: enrollment.ID, RedirectURL: s.cfg.FreeRedirectURL}, nil
	}

	sess, err := s.stripe.CreateSession(ctx, s.sessionParams(enrollment, course, email))
	if err != nil {
		s.unwindCheckout(logCtx, enrollment.ID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe checkout session")
	}
	if err := s.enrollments.BeginPaymentSession(ctx, enrollment.ID, sess.ID); err != nil {
		s.unwindCheckout(logCtx, enrollment.ID)
		return nil, err
	}

	s.logg.Info(s.logg.WithField(logCtx, "session_id", sess.ID), "checkout session created")
	return PaymentSessionCreated{
		EnrollmentID: enrollment.ID,
		SessionID:    sess.ID,
		CheckoutURL:  sess.URL,
	}, nil
}

// Cancel abandons a pending checkout. Buyers land here from the hosted
// page's cancel link; repeats and unknown ids succeed quietly.
func (s *service) Cancel(ctx context.Context, enrollmentID uuid.UUID) error {
	return s.enrollments.Cancel(ctx, enrollmentID)
}

// resolveAffiliate turns an optional referrer email into attribution. A
// buyer referring themselves is rejected; an unknown or inactive referrer is
// dropped and the purchase continues unattributed.
func (s *service) resolveAffiliate(ctx context.Context, buyerEmail, affiliateEmail string) (*models.Affiliate, *Rejected, error) {
	referrer := strings.ToLower(strings.TrimSpace(affiliateEmail))
	if referrer == "" {
		return nil, nil, nil
	}
	if referrer == buyerEmail {
		return nil, &Rejected{Code: pkgerrors.CodeSelfReferral, Message: "self referral is not allowed"}, nil
	}

	affiliate, err := s.affiliates.FindActiveByEmail(ctx, referrer)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Info(s.logg.WithField(ctx, "affiliate_email", referrer), "referral skipped, no active affiliate")
			return nil, nil, nil
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve affiliate")
	}
	return affiliate, nil, nil
}

// afterPaid runs the post-payment steps in order: affiliate totals, access
// email, LMS sync. The paid row is already durable; each step logs its own
// failure and the next one still runs.
func (s *service) afterPaid(ctx context.Context, enrollment *models.Enrollment, course *models.Course) {
	if enrollment.AffiliateID != nil {
		if err := s.commissions.Recompute(ctx, *enrollment.AffiliateID); err != nil {
			s.logg.Error(ctx, "recompute affiliate totals", err)
		}
	}
	s.notifier.EnrollmentPaid(ctx, enrollment, course)
	if err := s.sync.SyncNow(ctx, enrollment, course); err != nil {
		s.logg.Error(ctx, "start lms sync", err)
	}
}

func (s *service) sessionParams(enrollment *models.Enrollment, course *models.Course, email string) *stripe.CheckoutSessionParams {
	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(enrollment.Currency),
		UnitAmount: stripe.Int64(enrollment.Amount.Shift(2).IntPart()),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(course.Title),
		},
	}
	if course.Description != "" {
		priceData.ProductData.Description = stripe.String(course.Description)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(email),
		SuccessURL:    stripe.String(s.cfg.SuccessURL),
		CancelURL:     stripe.String(s.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity:  stripe.Int64(1),
				PriceData: priceData,
			},
		},
	}
	params.AddMetadata("enrollment_id", enrollment.ID.String())
	params.AddMetadata("course_id", course.ID.String())
	return params
}

// unwindClaim undoes whatever ReserveOrConsume took when no enrollment row
// was created for it. Errors are logged, not returned.
func (s *service) unwindClaim(ctx context.Context, claim *coupons.Claim) {
	if claim == nil {
		return
	}
	var err error
	if claim.Consumed {
		err = s.coupons.RollbackClaim(ctx, claim.Coupon.ID)
	} else {
		err = s.coupons.Release(ctx, claim.Coupon.ID)
	}
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "coupon_id", claim.Coupon.ID.String()), "unwind coupon claim", err)
	}
}

// unwindCheckout abandons the pending enrollment after the payment session
// could not be established. Cancel releases the coupon hold through the row.
func (s *service) unwindCheckout(ctx context.Context, enrollmentID uuid.UUID) {
	if err := s.enrollments.Cancel(ctx, enrollmentID); err != nil {
		s.logg.Error(ctx, "unwind pending checkout", err)
	}
}

func (s *service) currencyFor(course *models.Course) string {
	if course.Currency != "" {
		return course.Currency
	}
	return s.cfg.Currency
}

func discountPercent(claim *coupons.Claim) int {
	if claim == nil {
		return 0
	}
	return claim.Coupon.DiscountPercent
}

// rejectionFor converts conflict-class errors into their typed outcome.
// Anything else stays an error for the transport layer to map.
func rejectionFor(err error) *Rejected {
	coded := pkgerrors.As(err)
	if coded == nil {
		return nil
	}
	switch coded.Code() {
	case pkgerrors.CodeCouponUnavailable,
		pkgerrors.CodeCouponExpired,
		pkgerrors.CodeCouponReserved,
		pkgerrors.CodeDuplicateEnrollment:
		return &Rejected{Code: coded.Code(), Message: coded.Message()}
	}
	return nil
}
