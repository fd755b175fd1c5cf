package enums

import (
	"fmt"
	"slices"
)

// SyncJobStatus is the retry-queue state machine for a durable sync job.
type SyncJobStatus string

const (
	SyncJobStatusPending    SyncJobStatus = "pending"
	SyncJobStatusProcessing SyncJobStatus = "processing"
	SyncJobStatusCompleted  SyncJobStatus = "completed"
	SyncJobStatusFailed     SyncJobStatus = "failed"
)

var syncJobStatuses = []SyncJobStatus{
	SyncJobStatusPending,
	SyncJobStatusProcessing,
	SyncJobStatusCompleted,
	SyncJobStatusFailed,
}

// String implements fmt.Stringer.
func (s SyncJobStatus) String() string { return string(s) }

// IsValid reports whether the value is a known SyncJobStatus.
func (s SyncJobStatus) IsValid() bool {
	return slices.Contains(syncJobStatuses, s)
}

// ParseSyncJobStatus converts raw input into a SyncJobStatus.
func ParseSyncJobStatus(value string) (SyncJobStatus, error) {
	parsed := SyncJobStatus(value)
	if !parsed.IsValid() {
		return "", fmt.Errorf("invalid sync job status %q", value)
	}
	return parsed, nil
}

// SyncJobType identifies the kind of deferred work a job carries.
type SyncJobType string

const (
	SyncJobTypeLMSEnroll SyncJobType = "lms_enroll"
)

var syncJobTypes = []SyncJobType{SyncJobTypeLMSEnroll}

// String implements fmt.Stringer.
func (t SyncJobType) String() string { return string(t) }

// IsValid reports whether the value is a known SyncJobType.
func (t SyncJobType) IsValid() bool {
	return slices.Contains(syncJobTypes, t)
}

// ParseSyncJobType converts raw input into a SyncJobType.
func ParseSyncJobType(value string) (SyncJobType, error) {
	parsed := SyncJobType(value)
	if !parsed.IsValid() {
		return "", fmt.Errorf("invalid sync job type %q", value)
	}
	return parsed, nil
}
