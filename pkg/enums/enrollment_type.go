package enums

import (
	"fmt"
	"slices"
)

// EnrollmentType distinguishes how an enrollment was paid for.
type EnrollmentType string

const (
	EnrollmentTypePaid         EnrollmentType = "paid"
	EnrollmentTypeFreeGrant    EnrollmentType = "free_grant"
	EnrollmentTypePartialGrant EnrollmentType = "partial_grant"
)

var enrollmentTypes = []EnrollmentType{EnrollmentTypePaid, EnrollmentTypeFreeGrant, EnrollmentTypePartialGrant}

// String implements fmt.Stringer.
func (t EnrollmentType) String() string { return string(t) }

// IsValid reports whether the value is a known EnrollmentType.
func (t EnrollmentType) IsValid() bool {
	return slices.Contains(enrollmentTypes, t)
}

// ParseEnrollmentType converts raw input into an EnrollmentType.
func ParseEnrollmentType(value string) (EnrollmentType, error) {
	parsed := EnrollmentType(value)
	if !parsed.IsValid() {
		return "", fmt.Errorf("invalid enrollment type %q", value)
	}
	return parsed, nil
}
