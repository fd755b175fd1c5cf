package enums

import (
	"fmt"
	"slices"
)

// CouponStatus reflects the admin approval workflow a grant goes through
// before it becomes redeemable.
type CouponStatus string

const (
	CouponStatusPending  CouponStatus = "pending"
	CouponStatusApproved CouponStatus = "approved"
	CouponStatusRejected CouponStatus = "rejected"
)

var couponStatuses = []CouponStatus{CouponStatusPending, CouponStatusApproved, CouponStatusRejected}

// String implements fmt.Stringer.
func (s CouponStatus) String() string { return string(s) }

// IsValid reports whether the value is a known CouponStatus.
func (s CouponStatus) IsValid() bool {
	return slices.Contains(couponStatuses, s)
}

// ParseCouponStatus converts raw input into a CouponStatus.
func ParseCouponStatus(value string) (CouponStatus, error) {
	parsed := CouponStatus(value)
	if !parsed.IsValid() {
		return "", fmt.Errorf("invalid coupon status %q", value)
	}
	return parsed, nil
}
