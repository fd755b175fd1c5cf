package notify

import (
	"context"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/sendgrid"
)

type templateSender interface {
	SendTemplate(ctx context.Context, params sendgrid.SendTemplateParams) error
	EnrollmentTemplateID() string
}

// Service sends transactional mail around enrollment state changes. Every
// send is fire-and-forget: failures are logged and swallowed, a missing mail
// client skips the send entirely.
type Service struct {
	mail templateSender
	logg *logger.Logger
}

// NewService builds the notifier. A nil mail client disables sending, which
// keeps local environments working without SendGrid credentials.
func NewService(mail templateSender, logg *logger.Logger) *Service {
	return &Service{mail: mail, logg: logg}
}

// EnrollmentPaid sends the purchase confirmation. Access email must never
// gate or unwind a paid enrollment, so nothing is returned.
func (s *Service) EnrollmentPaid(ctx context.Context, enrollment *models.Enrollment, course *models.Course) {
	if s == nil || enrollment == nil || course == nil {
		return
	}

	logCtx := s.logg.WithEnrollmentID(ctx, enrollment.ID.String())
	if s.mail == nil {
		s.logg.Info(logCtx, "mail client not configured, skipping confirmation email")
		return
	}

	err := s.mail.SendTemplate(ctx, sendgrid.SendTemplateParams{
		TemplateID: s.mail.EnrollmentTemplateID(),
		ToEmail:    enrollment.Email,
		Data: map[string]any{
			"course_title":    course.Title,
			"amount":          enrollment.Amount.StringFixed(2),
			"currency":        enrollment.Currency,
			"enrollment_type": string(enrollment.EnrollmentType),
		},
	})
	if err != nil {
		s.logg.Error(logCtx, "send enrollment confirmation", err)
		return
	}
	s.logg.Info(logCtx, "enrollment confirmation sent")
}
