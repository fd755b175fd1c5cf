package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/learnlyhq/learnly-backend/internal/enrollments"
	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

type paymentConfirmer interface {
	ConfirmPayment(ctx context.Context, input enrollments.ConfirmInput) (*enrollments.ConfirmResult, error)
	Cancel(ctx context.Context, enrollmentID uuid.UUID) error
}

type courseCatalog interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
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

type ServiceParams struct {
	Enrollments paymentConfirmer
	Courses     courseCatalog
	Commissions commissionTotals
	Notifier    accessNotifier
	Sync        lmsSyncer
	Logger      *logger.Logger
}

// Service turns verified Stripe checkout events into enrollment
// transitions.
type Service struct {
	enrollments paymentConfirmer
	courses     courseCatalog
	commissions commissionTotals
	notifier    accessNotifier
	sync        lmsSyncer
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Enrollments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "enrollment service required")
	}
	if params.Courses == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "course catalog required")
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
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		enrollments: params.Enrollments,
		courses:     params.Courses,
		commissions: params.Commissions,
		notifier:    params.Notifier,
		sync:        params.Sync,
		logg:        params.Logger,
	}, nil
}

// HandleEvent routes the two checkout session events this platform
// consumes. Unrecognized event types are acknowledged without work so the
// endpoint can be subscribed broadly.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return s.handleCompleted(ctx, event)
	case stripe.EventTypeCheckoutSessionExpired:
		return s.handleExpired(ctx, event)
	default:
		return nil
	}
}

func (s *Service) handleCompleted(ctx context.Context, event *stripe.Event) error {
	sess, enrollmentID, err := decodeSession(event)
	if err != nil {
		return err
	}
	logCtx := s.logg.WithEnrollmentID(ctx, enrollmentID.String())

	input := enrollments.ConfirmInput{
		EnrollmentID: enrollmentID,
		EventID:      event.ID,
		EventType:    string(event.Type),
	}
	if event.Created > 0 {
		input.PaidAt = time.Unix(event.Created, 0).UTC()
	}
	if sess.AmountTotal > 0 {
		paid := decimal.NewFromInt(sess.AmountTotal).Shift(-2)
		input.AmountPaid = &paid
	}

	result, err := s.enrollments.ConfirmPayment(ctx, input)
	if err != nil {
		return err
	}
	if result.DuplicateEvent {
		s.logg.Info(logCtx, "payment event already recorded")
		return nil
	}
	if !result.Transitioned {
		s.logg.Info(logCtx, "enrollment already paid, side effects skipped")
		return nil
	}

	s.afterPaid(logCtx, result.Enrollment)
	s.logg.Info(logCtx, "payment confirmed")
	return nil
}

// handleExpired abandons the pending purchase behind an expired hosted
// session. Cancel is a no-op for rows already paid or already gone.
func (s *Service) handleExpired(ctx context.Context, event *stripe.Event) error {
	_, enrollmentID, err := decodeSession(event)
	if err != nil {
		return err
	}
	if err := s.enrollments.Cancel(ctx, enrollmentID); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithEnrollmentID(ctx, enrollmentID.String()), "expired checkout abandoned")
	return nil
}

// afterPaid runs the post-payment steps in order: affiliate totals, access
// email, LMS sync. The transition is already committed; failures here are
// logged and left to the recompute and resync surfaces.
func (s *Service) afterPaid(ctx context.Context, enrollment *models.Enrollment) {
	if enrollment.AffiliateID != nil {
		if err := s.commissions.Recompute(ctx, *enrollment.AffiliateID); err != nil {
			s.logg.Error(ctx, "recompute affiliate totals", err)
		}
	}

	course, err := s.courses.FindByID(ctx, enrollment.CourseID)
	if err != nil {
		s.logg.Error(ctx, "load course for post-payment steps", err)
		return
	}
	s.notifier.EnrollmentPaid(ctx, enrollment, course)
	if err := s.sync.SyncNow(ctx, enrollment, course); err != nil {
		s.logg.Error(ctx, "start lms sync", err)
	}
}

func decodeSession(event *stripe.Event) (*stripe.CheckoutSession, uuid.UUID, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
	}
	raw := strings.TrimSpace(sess.Metadata["enrollment_id"])
	if raw == "" {
		return nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeMissingCorrelation, "session metadata lacks enrollment id")
	}
	enrollmentID, err := uuid.Parse(raw)
	if err != nil {
		return nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeMissingCorrelation, err, "session metadata enrollment id invalid")
	}
	return &sess, enrollmentID, nil
}
