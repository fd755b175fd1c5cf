package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
	"github.com/learnlyhq/learnly-backend/pkg/outbox"
	"github.com/learnlyhq/learnly-backend/pkg/outbox/payloads"
)

// EventDescriptor ties an event type to the aggregate it belongs to, the
// topic it publishes on, and a factory for its payload type.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is a fully decoded outbox row, ready for publication.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks rows the dispatcher must park instead of retry.
type NonRetryableError struct {
	Err error
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// EventRegistry knows every event type the platform publishes.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry wires the domain descriptors onto the configured topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, fmt.Errorf("domain topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range domainDescriptors(cfg.DomainTopic) {
		reg.register(desc)
	}
	return reg, nil
}

// domainDescriptors enumerates every event the platform emits. Adding an
// event type here is what makes the dispatcher accept its rows.
func domainDescriptors(topic string) []EventDescriptor {
	return []EventDescriptor{
		{
			EventType:      enums.EventEnrollmentPaid,
			AggregateType:  enums.AggregateEnrollment,
			Topic:          topic,
			PayloadFactory: func() any { return &payloads.EnrollmentPaidEvent{} },
		},
		{
			EventType:      enums.EventEnrollmentSyncFailed,
			AggregateType:  enums.AggregateEnrollment,
			Topic:          topic,
			PayloadFactory: func() any { return &payloads.EnrollmentSyncFailedEvent{} },
		},
		{
			EventType:      enums.EventCommissionRecorded,
			AggregateType:  enums.AggregateAffiliate,
			Topic:          topic,
			PayloadFactory: func() any { return &payloads.CommissionRecordedEvent{} },
		},
	}
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload. Every failure
// is non-retryable: a malformed row stays malformed no matter how often
// the dispatcher re-reads it.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, known := r.entries[event.EventType]
	switch {
	case !known:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := decodeEnvelope(event)
	if err != nil {
		return nil, err
	}

	payload := desc.PayloadFactory()
	if payload == nil {
		return nil, NewNonRetryableError(fmt.Errorf("payload factory not configured for %s", event.EventType))
	}
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

func decodeEnvelope(event models.OutboxEvent) (outbox.PayloadEnvelope, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return envelope, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return envelope, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}
	return envelope, nil
}
