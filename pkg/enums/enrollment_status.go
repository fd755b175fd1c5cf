package enums

import (
	"fmt"
	"slices"
)

// EnrollmentStatus tracks the lifecycle of a purchase intent.
type EnrollmentStatus string

const (
	EnrollmentStatusPending   EnrollmentStatus = "pending"
	EnrollmentStatusPaid      EnrollmentStatus = "paid"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

var enrollmentStatuses = []EnrollmentStatus{
	EnrollmentStatusPending,
	EnrollmentStatusPaid,
	EnrollmentStatusFailed,
	EnrollmentStatusCancelled,
}

// String implements fmt.Stringer.
func (s EnrollmentStatus) String() string { return string(s) }

// IsValid reports whether the value is a known EnrollmentStatus.
func (s EnrollmentStatus) IsValid() bool {
	return slices.Contains(enrollmentStatuses, s)
}

// ParseEnrollmentStatus converts raw input into an EnrollmentStatus.
func ParseEnrollmentStatus(value string) (EnrollmentStatus, error) {
	parsed := EnrollmentStatus(value)
	if !parsed.IsValid() {
		return "", fmt.Errorf("invalid enrollment status %q", value)
	}
	return parsed, nil
}
