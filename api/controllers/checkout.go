package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/learnlyhq/learnly-backend/api/middleware"
	"github.com/learnlyhq/learnly-backend/api/responses"
	"github.com/learnlyhq/learnly-backend/api/validators"
	checkoutsvc "github.com/learnlyhq/learnly-backend/internal/checkout"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

// Checkout starts a purchase for the authenticated buyer. The token identifies
// the buyer; a body email that disagrees with the token is refused outright.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		callerEmail := middleware.CallerEmailFromContext(r.Context())
		if callerEmail == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		email := strings.ToLower(validators.SanitizeString(payload.Email, 254))
		if email != callerEmail {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "email does not match authenticated caller"))
			return
		}

		outcome, err := svc.Begin(r.Context(), checkoutsvc.BeginInput{
			CourseID:       payload.CourseID,
			Email:          email,
			CouponCode:     validators.SanitizeString(payload.CouponCode, 64),
			AffiliateEmail: strings.ToLower(validators.SanitizeString(payload.AffiliateEmail, 254)),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		switch v := outcome.(type) {
		case checkoutsvc.Rejected:
			responses.WriteRejection(w, v.Code, v.Message)
		case checkoutsvc.PaymentSessionCreated:
			responses.WriteSuccessStatus(w, http.StatusCreated, paymentSessionResponse{
				CheckoutURL:  v.CheckoutURL,
				SessionID:    v.SessionID,
				EnrollmentID: v.EnrollmentID,
			})
		case checkoutsvc.FreeEnrollment:
			responses.WriteSuccessStatus(w, http.StatusCreated, directEnrollmentResponse{
				DirectEnrollment: true,
				EnrollmentID:     v.EnrollmentID,
				RedirectURL:      v.RedirectURL,
			})
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "unknown checkout outcome"))
		}
	}
}

// CancelCheckout abandons a pending enrollment. Cancelling an enrollment that
// is already paid or already gone is a success; the caller only learns the
// record is no longer pending.
func CancelCheckout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		enrollmentID, err := uuid.Parse(chi.URLParam(r, "enrollmentID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid enrollment id"))
			return
		}

		if err := svc.Cancel(r.Context(), enrollmentID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, cancelCheckoutResponse{Cancelled: true, EnrollmentID: enrollmentID})
	}
}

type checkoutRequest struct {
	CourseID       uuid.UUID `json:"course_id" validate:"required,uuid4"`
	Email          string    `json:"email" validate:"required,email"`
	CouponCode     string    `json:"coupon_code,omitempty" validate:"omitempty,max=64"`
	AffiliateEmail string    `json:"affiliate_email,omitempty" validate:"omitempty,email"`
}

type paymentSessionResponse struct {
	CheckoutURL  string    `json:"checkout_url"`
	SessionID    string    `json:"session_id"`
	EnrollmentID uuid.UUID `json:"enrollment_id"`
}

type directEnrollmentResponse struct {
	DirectEnrollment bool      `json:"direct_enrollment"`
	EnrollmentID     uuid.UUID `json:"enrollment_id"`
	RedirectURL      string    `json:"redirect_url,omitempty"`
}

type cancelCheckoutResponse struct {
	Cancelled    bool      `json:"cancelled"`
	EnrollmentID uuid.UUID `json:"enrollment_id"`
}
