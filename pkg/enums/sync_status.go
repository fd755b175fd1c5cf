package enums

import (
	"fmt"
	"slices"
)

// SyncStatus tracks the LMS sync leg on an enrollment.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusRetrying SyncStatus = "retrying"
	SyncStatusSuccess  SyncStatus = "success"
	SyncStatusFailed   SyncStatus = "failed"
)

var syncStatuses = []SyncStatus{SyncStatusPending, SyncStatusRetrying, SyncStatusSuccess, SyncStatusFailed}

// String implements fmt.Stringer.
func (s SyncStatus) String() string { return string(s) }

// IsValid reports whether the value is a known SyncStatus.
func (s SyncStatus) IsValid() bool {
	return slices.Contains(syncStatuses, s)
}

// ParseSyncStatus converts raw input into a SyncStatus.
func ParseSyncStatus(value string) (SyncStatus, error) {
	parsed := SyncStatus(value)
	if !parsed.IsValid() {
		return "", fmt.Errorf("invalid sync status %q", value)
	}
	return parsed, nil
}
