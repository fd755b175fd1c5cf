package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeIdempotency, status: http.StatusConflict, publicMsg: "idempotency key reused", detailsOK: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeCourseNotFound, status: http.StatusNotFound, publicMsg: "course not found or not open for enrollment"},
		{code: CodeDuplicateEnrollment, status: http.StatusConflict, publicMsg: "an enrollment for this course and email already exists"},
		{code: CodeSelfReferral, status: http.StatusUnprocessableEntity, publicMsg: "you cannot use your own referral"},
		{code: CodeCouponUnavailable, status: http.StatusConflict, publicMsg: "coupon is not available for this purchase"},
		{code: CodeCouponExpired, status: http.StatusUnprocessableEntity, publicMsg: "coupon has expired"},
		{code: CodeCouponReserved, status: http.StatusConflict, publicMsg: "coupon is reserved by another checkout, try again shortly"},
		{code: CodeInvalidSignature, status: http.StatusBadRequest, publicMsg: "invalid webhook signature"},
		{code: CodeMissingCorrelation, status: http.StatusBadRequest, publicMsg: "event metadata is missing the enrollment reference"},
	}

	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			meta := MetadataFor(tc.code)
			assert.Equal(t, tc.status, meta.HTTPStatus)
			assert.Equal(t, tc.publicMsg, meta.PublicMessage)
			assert.Equal(t, tc.retryable, meta.Retryable)
			assert.Equal(t, tc.detailsOK, meta.DetailsAllowed)
		})
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	assert.Equal(t, http.StatusInternalServerError, meta.HTTPStatus)
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	assert.Equal(t, CodeValidation, base.Code())
	assert.Equal(t, "missing foo", base.Message())
	assert.Nil(t, base.Details())

	base.WithDetails(map[string]any{"field": "foo"})
	assert.NotNil(t, base.Details())

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, CodeConflict, wrapped.Code())

	// Wrap without a cause degrades to New.
	assert.NoError(t, Wrap(CodeConflict, nil, "ctx").Unwrap())
}

func TestAsReturnsTypedError(t *testing.T) {
	typed := As(fmt.Errorf("outer: %w", New(CodeForbidden, "no entry")))
	require.NotNil(t, typed)
	assert.Equal(t, CodeForbidden, typed.Code())

	assert.Nil(t, As(nil))
	assert.Nil(t, As(stdErrors.New("plain")))
}

func TestHasCode(t *testing.T) {
	err := Wrap(CodeCouponExpired, stdErrors.New("past expiry"), "claim rolled back")
	assert.True(t, HasCode(err, CodeCouponExpired))
	assert.False(t, HasCode(err, CodeCouponReserved))
	assert.False(t, HasCode(stdErrors.New("plain"), CodeCouponExpired))
}

func TestDumpExtractsPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "enrollments_course_email_key",
		TableName:      "enrollments",
		Message:        "duplicate key value violates unique constraint",
	}
	err := Wrap(CodeDuplicateEnrollment, fmt.Errorf("insert enrollment: %w", pgErr), "enrollment exists")

	dump := Dump(err)
	assert.Equal(t, CodeDuplicateEnrollment, dump.Code)
	assert.Equal(t, "23505", dump.PGCode)
	assert.Equal(t, "enrollments_course_email_key", dump.PGConstraint)
	assert.Equal(t, "enrollments", dump.PGTable)
	assert.GreaterOrEqual(t, len(dump.Chain), 3, "chain should walk through every wrapped error")
}

func TestDumpNilError(t *testing.T) {
	assert.Zero(t, Dump(nil))
}
