package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/learnlyhq/learnly-backend/pkg/enums"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/outbox"
)

func TestDecodeMessagePrefersBody(t *testing.T) {
	bodyID := uuid.NewString()
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := packMessage(outbox.PayloadEnvelope{
		EventID:    bodyID,
		OccurredAt: occurred,
		Data:       json.RawMessage(`{"enrollment_id":"enr-1"}`),
	}, map[string]string{
		"event_type":     "enrollment_paid",
		"aggregate_type": "enrollment",
		"aggregate_id":   "enr-1",
		"event_id":       uuid.NewString(),
	})

	env, eventID, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if env.EventID != bodyID || eventID.String() != bodyID {
		t.Fatalf("body event id should win, got %s", env.EventID)
	}
	if env.EventType != enums.EventEnrollmentPaid {
		t.Fatalf("unexpected event type %v", env.EventType)
	}
	if env.AggregateType != enums.AggregateEnrollment {
		t.Fatalf("unexpected aggregate type %v", env.AggregateType)
	}
	if env.AggregateID != "enr-1" {
		t.Fatalf("unexpected aggregate id %s", env.AggregateID)
	}
	if !env.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected occurred at %v", env.OccurredAt)
	}
}

func TestDecodeMessageFallsBackToAttributes(t *testing.T) {
	attrID := uuid.NewString()
	msg := packMessage(outbox.PayloadEnvelope{Data: json.RawMessage(`{}`)}, map[string]string{
		"event_type":     "commission_recorded",
		"aggregate_type": "affiliate",
		"aggregate_id":   "aff-1",
		"event_id":       attrID,
		"created_at":     "2026-03-01T12:00:00Z",
	})

	env, eventID, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if eventID.String() != attrID {
		t.Fatalf("expected attribute event id, got %s", env.EventID)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !env.OccurredAt.Equal(want) {
		t.Fatalf("expected created_at fallback, got %v", env.OccurredAt)
	}
}

func TestDecodeMessageRejections(t *testing.T) {
	valid := func() (outbox.PayloadEnvelope, map[string]string) {
		return outbox.PayloadEnvelope{
				EventID: uuid.NewString(),
				Data:    json.RawMessage(`{}`),
			}, map[string]string{
				"event_type":     "enrollment_paid",
				"aggregate_type": "enrollment",
				"aggregate_id":   "enr-1",
			}
	}

	t.Run("bad event type", func(t *testing.T) {
		payload, attrs := valid()
		attrs["event_type"] = "course_published"
		if _, _, err := decodeMessage(packMessage(payload, attrs)); err == nil {
			t.Fatal("expected unknown event type to fail")
		}
	})
	t.Run("missing aggregate id", func(t *testing.T) {
		payload, attrs := valid()
		attrs["aggregate_id"] = "  "
		if _, _, err := decodeMessage(packMessage(payload, attrs)); err == nil {
			t.Fatal("expected blank aggregate id to fail")
		}
	})
	t.Run("event id not a uuid", func(t *testing.T) {
		payload, attrs := valid()
		payload.EventID = "evt-1"
		if _, _, err := decodeMessage(packMessage(payload, attrs)); err == nil {
			t.Fatal("expected malformed event id to fail")
		}
	})
}

func TestConsumeSkipsDuplicates(t *testing.T) {
	manager := &stubManager{checkResult: true}
	handler := &stubHandler{}
	svc := newTestService(t, handler, manager)

	if got := svc.consume(context.Background(), domainMessage(t)); got != ackMessage {
		t.Fatalf("duplicate should ack, got %v", got)
	}
	if handler.called {
		t.Fatal("handler must not run for a duplicate")
	}
	if len(manager.checked) != 1 {
		t.Fatalf("expected one idempotency check, got %d", len(manager.checked))
	}
}

func TestConsumeReleasesClaimOnHandlerError(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{err: errors.New("boom")}
	svc := newTestService(t, handler, manager)

	if got := svc.consume(context.Background(), domainMessage(t)); got != nackMessage {
		t.Fatalf("handler error should nack, got %v", got)
	}
	if !handler.called {
		t.Fatal("handler should have run")
	}
	if len(manager.deleted) != 1 {
		t.Fatal("failed event must release its idempotency claim")
	}
}

func TestConsumeDropsMalformedMessages(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{}
	svc := newTestService(t, handler, manager)

	msg := &gcppubsub.Message{Data: []byte("invalid json")}
	if got := svc.consume(context.Background(), msg); got != ackMessage {
		t.Fatalf("malformed message should ack, got %v", got)
	}
	if handler.called || len(manager.checked) != 0 {
		t.Fatal("malformed message must not reach the pipeline")
	}
}

func TestConsumeDropsUnsupportedEvents(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{err: ErrUnsupportedEventType}
	svc := newTestService(t, handler, manager)

	if got := svc.consume(context.Background(), domainMessage(t)); got != ackMessage {
		t.Fatalf("unsupported event should ack, got %v", got)
	}
	if len(manager.deleted) != 0 {
		t.Fatal("unsupported event must keep its idempotency claim")
	}
}

func TestConsumeNacksWhenIdempotencyUnavailable(t *testing.T) {
	manager := &stubManager{checkErr: errors.New("redis down")}
	handler := &stubHandler{}
	svc := newTestService(t, handler, manager)

	if got := svc.consume(context.Background(), domainMessage(t)); got != nackMessage {
		t.Fatalf("idempotency outage should nack, got %v", got)
	}
	if handler.called {
		t.Fatal("handler must not run without an idempotency claim")
	}
}

func domainMessage(t *testing.T) *gcppubsub.Message {
	t.Helper()
	return packMessage(outbox.PayloadEnvelope{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"foo":"bar"}`),
	}, map[string]string{
		"event_type":     "enrollment_paid",
		"aggregate_type": "enrollment",
		"aggregate_id":   uuid.NewString(),
	})
}

func packMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{
		ID:         "msg-1",
		Data:       data,
		Attributes: attrs,
	}
}

func newTestService(t *testing.T, handler Handler, manager *stubManager) *Service {
	t.Helper()
	return &Service{
		handler: handler,
		manager: manager,
		logg:    logger.New(logger.Options{ServiceName: "analytics-test"}),
	}
}

type stubHandler struct {
	called   bool
	envelope Envelope
	err      error
}

func (h *stubHandler) Handle(ctx context.Context, envelope Envelope) error {
	h.called = true
	h.envelope = envelope
	return h.err
}

type stubManager struct {
	checkResult bool
	checkErr    error
	deleteErr   error
	checked     []uuid.UUID
	deleted     []uuid.UUID
}

func (s *stubManager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	s.checked = append(s.checked, eventID)
	return s.checkResult, s.checkErr
}

func (s *stubManager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	s.deleted = append(s.deleted, eventID)
	return s.deleteErr
}
