package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType mirrors the Postgres aggregate_type enum.
type OutboxAggregateType string

const (
	AggregateEnrollment OutboxAggregateType = "enrollment"
	AggregateAffiliate  OutboxAggregateType = "affiliate"
)

var aggregateTypes = []OutboxAggregateType{AggregateEnrollment, AggregateAffiliate}

// IsValid reports whether the value is a known OutboxAggregateType.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(aggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into an OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	parsed := OutboxAggregateType(value)
	if !parsed.IsValid() {
		return "", fmt.Errorf("invalid aggregate type %q", value)
	}
	return parsed, nil
}

// OutboxEventType mirrors the Postgres event_type enum.
type OutboxEventType string

const (
	EventEnrollmentPaid       OutboxEventType = "enrollment_paid"
	EventEnrollmentSyncFailed OutboxEventType = "enrollment_sync_failed"
	EventCommissionRecorded   OutboxEventType = "commission_recorded"
)

var outboxEventTypes = []OutboxEventType{EventEnrollmentPaid, EventEnrollmentSyncFailed, EventCommissionRecorded}

// IsValid reports whether the value is a known OutboxEventType.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(outboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into an OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	parsed := OutboxEventType(value)
	if !parsed.IsValid() {
		return "", fmt.Errorf("invalid outbox event type %q", value)
	}
	return parsed, nil
}
