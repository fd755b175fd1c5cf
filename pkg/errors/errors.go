// Package errors defines the coded error type the whole platform shares.
// Each code carries response metadata so HTTP handlers, loggers, and retry
// policies all read the same classification.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Checkout pipeline codes surfaced to the storefront.
	CodeCourseNotFound      Code = "COURSE_NOT_FOUND"
	CodeDuplicateEnrollment Code = "DUPLICATE_ENROLLMENT"
	CodeSelfReferral        Code = "SELF_REFERRAL_NOT_ALLOWED"
	CodeCouponUnavailable   Code = "COUPON_UNAVAILABLE"
	CodeCouponExpired       Code = "COUPON_EXPIRED"
	CodeCouponReserved      Code = "COUPON_RESERVED"

	// Webhook intake codes.
	CodeInvalidSignature   Code = "INVALID_SIGNATURE"
	CodeMissingCorrelation Code = "MISSING_CORRELATION"
)

// Metadata is everything the response layer needs to render a code.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

// meta keeps the table below at one code per line.
func meta(status int, public string, retryable, detailsAllowed bool) Metadata {
	return Metadata{
		HTTPStatus:     status,
		Retryable:      retryable,
		PublicMessage:  public,
		DetailsAllowed: detailsAllowed,
	}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", false, true),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", false, false),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", false, false),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", false, false),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", false, false),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", false, true),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", false, true),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded", false, false),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", true, false),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", true, true),

	CodeCourseNotFound:      meta(http.StatusNotFound, "course not found or not open for enrollment", false, false),
	CodeDuplicateEnrollment: meta(http.StatusConflict, "an enrollment for this course and email already exists", false, false),
	CodeSelfReferral:        meta(http.StatusUnprocessableEntity, "you cannot use your own referral", false, false),
	CodeCouponUnavailable:   meta(http.StatusConflict, "coupon is not available for this purchase", false, false),
	CodeCouponExpired:       meta(http.StatusUnprocessableEntity, "coupon has expired", false, false),
	CodeCouponReserved:      meta(http.StatusConflict, "coupon is reserved by another checkout, try again shortly", false, false),

	CodeInvalidSignature:   meta(http.StatusBadRequest, "invalid webhook signature", false, false),
	CodeMissingCorrelation: meta(http.StatusBadRequest, "event metadata is missing the enrollment reference", false, false),
}

// MetadataFor returns the code's response metadata, falling back to the
// internal error defaults for codes the table does not know.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Error pairs a classification code with an operator-facing message. The
// public message always comes from the code's metadata, never from here.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Code is nil-safe and degrades to CodeInternal.
func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails attaches structured detail data, rendered to clients only for
// codes whose metadata allows it.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// As unwraps err to the platform error type, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
