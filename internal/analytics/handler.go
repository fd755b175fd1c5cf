package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/learnlyhq/learnly-backend/pkg/enums"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers fact rows produced by the router.
type Writer interface {
	Insert(ctx context.Context, row EnrollmentFactRow) error
}

type handlerEntry struct {
	factory func() any
	build   func(envelope Envelope, payload any) (EnrollmentFactRow, error)
}

// Router decodes each supported event's typed payload and writes one
// enrollment fact row per event.
type Router struct {
	entries map[enums.OutboxEventType]handlerEntry
	writer  Writer
	logg    *logger.Logger
}

// NewRouter wires the per-event row builders.
func NewRouter(writer Writer, logg *logger.Logger) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	entries := map[enums.OutboxEventType]handlerEntry{
		enums.EventEnrollmentPaid: {
			factory: func() any { return &payloads.EnrollmentPaidEvent{} },
			build:   buildPaidRow,
		},
		enums.EventEnrollmentSyncFailed: {
			factory: func() any { return &payloads.EnrollmentSyncFailedEvent{} },
			build:   buildSyncFailedRow,
		},
		enums.EventCommissionRecorded: {
			factory: func() any { return &payloads.CommissionRecordedEvent{} },
			build:   buildCommissionRow,
		},
	}

	return &Router{
		entries: entries,
		writer:  writer,
		logg:    logg,
	}, nil
}

// Handle dispatches the envelope to the matching row builder.
func (r *Router) Handle(ctx context.Context, envelope Envelope) error {
	entry, ok := r.entries[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload := entry.factory()
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	row, err := entry.build(envelope, payload)
	if err != nil {
		return err
	}
	if err := r.writer.Insert(ctx, row); err != nil {
		return fmt.Errorf("insert fact row: %w", err)
	}

	logCtx := r.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": envelope.EventType,
	})
	r.logg.Info(logCtx, "enrollment fact written")
	return nil
}

func baseRow(envelope Envelope) (EnrollmentFactRow, error) {
	payloadJSON, err := EncodeJSON(envelope.Payload)
	if err != nil {
		return EnrollmentFactRow{}, fmt.Errorf("encode payload json: %w", err)
	}
	return EnrollmentFactRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt.UTC(),
		Payload:    payloadJSON,
	}, nil
}

func buildPaidRow(envelope Envelope, payload any) (EnrollmentFactRow, error) {
	event, ok := payload.(*payloads.EnrollmentPaidEvent)
	if !ok {
		return EnrollmentFactRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}

	row, err := baseRow(envelope)
	if err != nil {
		return EnrollmentFactRow{}, err
	}
	if !event.PaidAt.IsZero() {
		row.OccurredAt = event.PaidAt.UTC()
	}
	row.EnrollmentID = stringPtr(event.EnrollmentID.String())
	row.CourseID = stringPtr(event.CourseID.String())
	row.Email = stringPtr(event.Email)
	row.EnrollmentType = stringPtr(string(event.EnrollmentType))
	row.OriginalPrice = stringPtr(event.OriginalPrice)
	row.DiscountAmount = stringPtr(event.DiscountAmount)
	row.Amount = stringPtr(event.Amount)
	row.Currency = stringPtr(event.Currency)
	if event.CouponID != nil {
		row.CouponID = stringPtr(event.CouponID.String())
	}
	if event.AffiliateID != nil {
		row.AffiliateID = stringPtr(event.AffiliateID.String())
	}
	return row, nil
}

func buildSyncFailedRow(envelope Envelope, payload any) (EnrollmentFactRow, error) {
	event, ok := payload.(*payloads.EnrollmentSyncFailedEvent)
	if !ok {
		return EnrollmentFactRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}

	row, err := baseRow(envelope)
	if err != nil {
		return EnrollmentFactRow{}, err
	}
	if !event.FailedAt.IsZero() {
		row.OccurredAt = event.FailedAt.UTC()
	}
	row.EnrollmentID = stringPtr(event.EnrollmentID.String())
	row.SyncJobID = stringPtr(event.JobID.String())
	row.SyncAttempts = int64Ptr(int64(event.Attempts))
	row.SyncError = stringPtr(event.LastError)
	return row, nil
}

func buildCommissionRow(envelope Envelope, payload any) (EnrollmentFactRow, error) {
	event, ok := payload.(*payloads.CommissionRecordedEvent)
	if !ok {
		return EnrollmentFactRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}

	row, err := baseRow(envelope)
	if err != nil {
		return EnrollmentFactRow{}, err
	}
	row.EnrollmentID = stringPtr(event.EnrollmentID.String())
	row.AffiliateID = stringPtr(event.AffiliateID.String())
	row.CommissionRate = stringPtr(event.CommissionRate)
	row.CommissionAmount = stringPtr(event.CommissionAmount)
	row.BasisAmount = stringPtr(event.BasisAmount)
	row.Currency = stringPtr(event.Currency)
	return row, nil
}

// stringPtr returns a trimmed pointer or nil when the input is empty.
func stringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func int64Ptr(value int64) *int64 {
	return &value
}
