package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/learnlyhq/learnly-backend/pkg/enums"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/outbox"
)

const analyticsConsumerName = "analytics"

// Handler processes analytics envelopes.
type Handler interface {
	Handle(ctx context.Context, envelope Envelope) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Service drains the domain-events subscription, handing each decoded
// envelope to the fact pipeline exactly once per event id.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	manager      idempotencyChecker
	logg         *logger.Logger
}

// NewService assembles the consumer loop around a live subscription.
func NewService(subscription *gcppubsub.Subscriber, handler Handler, manager idempotencyChecker, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("nil analytics subscription")
	case handler == nil:
		return nil, errors.New("nil envelope handler")
	case manager == nil:
		return nil, errors.New("nil idempotency manager")
	case logg == nil:
		return nil, errors.New("nil logger")
	}

	return &Service{
		subscription: subscription,
		handler:      handler,
		manager:      manager,
		logg:         logg,
	}, nil
}

// Messages either ack (handled, duplicate, or unfixable) or nack so
// Pub/Sub redelivers after a transient failure.
type disposition int

const (
	ackMessage disposition = iota
	nackMessage
)

// Run blocks on the subscription until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.subscription.Receive(ctx, func(mctx context.Context, msg *gcppubsub.Message) {
		if s.consume(mctx, msg) == nackMessage {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) consume(ctx context.Context, msg *gcppubsub.Message) disposition {
	envelope, eventID, err := decodeMessage(msg)
	if err != nil {
		// Redelivery cannot repair a malformed message.
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"message_id": msg.ID,
			"error":      err.Error(),
		}), "dropping undecodable analytics message")
		return ackMessage
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"message_id":     msg.ID,
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"occurred_at":    envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	seen, err := s.manager.CheckAndMarkProcessed(logCtx, analyticsConsumerName, eventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return nackMessage
	}
	if seen {
		s.logg.Info(logCtx, "duplicate event skipped")
		return ackMessage
	}

	if err := s.handler.Handle(logCtx, *envelope); err != nil {
		if errors.Is(err, ErrUnsupportedEventType) {
			s.logg.Warn(logCtx, "no row mapping for event type, dropping")
			return ackMessage
		}
		// Release the claim so the redelivered copy is not treated
		// as a duplicate.
		s.logg.Error(logCtx, "analytics handler failed", err)
		_ = s.manager.Delete(logCtx, analyticsConsumerName, eventID)
		return nackMessage
	}

	s.logg.Info(logCtx, "analytics event stored")
	return ackMessage
}

// decodeMessage reassembles an Envelope from the message body and its
// attributes. The body is authoritative; attributes fill gaps left by
// older publisher builds.
func decodeMessage(msg *gcppubsub.Message) (*Envelope, uuid.UUID, error) {
	attr := func(key string) string {
		return strings.TrimSpace(msg.Attributes[key])
	}

	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return nil, uuid.Nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return nil, uuid.Nil, errors.New("aggregate_id missing")
	}

	rawID := strings.TrimSpace(stored.EventID)
	if rawID == "" {
		rawID = attr("event_id")
	}
	if rawID == "" {
		return nil, uuid.Nil, errors.New("event_id missing")
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("event_id %q: %w", rawID, err)
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if created := attr("created_at"); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				occurredAt = parsed
			}
		}
	}

	return &Envelope{
		EventID:       rawID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, eventID, nil
}
