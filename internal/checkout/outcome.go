package checkout

import (
	"github.com/google/uuid"

	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
)

// Outcome is the closed result set of a checkout attempt. Business
// rejections are a variant rather than an error; only validation and
// infrastructure failures surface through the error return.
type Outcome interface {
	checkoutOutcome()
}

// FreeEnrollment reports a 100% grant that enrolled the buyer with no
// payment step.
type FreeEnrollment struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	RedirectURL  string    `json:"redirect_url,omitempty"`
}

// PaymentSessionCreated carries the hosted payment page for a priced
// checkout.
type PaymentSessionCreated struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	SessionID    string    `json:"session_id"`
	CheckoutURL  string    `json:"checkout_url"`
}

// Rejected names the business rule that stopped this checkout. Retrying with
// the same input rejects again.
type Rejected struct {
	Code    pkgerrors.Code `json:"code"`
	Message string         `json:"message"`
}

func (FreeEnrollment) checkoutOutcome()        {}
func (PaymentSessionCreated) checkoutOutcome() {}
func (Rejected) checkoutOutcome()              {}
