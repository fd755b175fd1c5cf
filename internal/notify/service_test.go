package notify

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/sendgrid"
)

type recordingSender struct {
	params []sendgrid.SendTemplateParams
	err    error
}

func (r *recordingSender) SendTemplate(ctx context.Context, params sendgrid.SendTemplateParams) error {
	r.params = append(r.params, params)
	return r.err
}

func (r *recordingSender) EnrollmentTemplateID() string {
	return "d-enroll-123"
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "notify-test", Output: io.Discard})
}

func paidEnrollment() (*models.Enrollment, *models.Course) {
	course := &models.Course{
		ID:          uuid.New(),
		Title:       "Go Fundamentals",
		LMSCourseID: "EDU-GO-101",
	}
	enrollment := &models.Enrollment{
		ID:             uuid.New(),
		CourseID:       course.ID,
		Email:          "buyer@example.com",
		Status:         enums.EnrollmentStatusPaid,
		EnrollmentType: enums.EnrollmentTypePartialGrant,
		Amount:         decimal.RequireFromString("399.20"),
		Currency:       "usd",
	}
	return enrollment, course
}

func TestEnrollmentPaidSendsTemplate(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, testLogger())
	enrollment, course := paidEnrollment()

	svc.EnrollmentPaid(context.Background(), enrollment, course)

	require.Len(t, sender.params, 1)
	sent := sender.params[0]
	assert.Equal(t, "d-enroll-123", sent.TemplateID)
	assert.Equal(t, "buyer@example.com", sent.ToEmail)
	assert.Equal(t, "Go Fundamentals", sent.Data["course_title"])
	assert.Equal(t, "399.20", sent.Data["amount"])
	assert.Equal(t, "usd", sent.Data["currency"])
}

func TestEnrollmentPaidSwallowsSendFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("sendgrid 500")}
	svc := NewService(sender, testLogger())
	enrollment, course := paidEnrollment()

	svc.EnrollmentPaid(context.Background(), enrollment, course)
	assert.Len(t, sender.params, 1, "failure is logged, not surfaced")
}

func TestEnrollmentPaidSkipsWithoutMailClient(t *testing.T) {
	svc := NewService(nil, testLogger())
	enrollment, course := paidEnrollment()

	svc.EnrollmentPaid(context.Background(), enrollment, course)
	svc.EnrollmentPaid(context.Background(), nil, course)
	svc.EnrollmentPaid(context.Background(), enrollment, nil)
}
