package analytics

import (
	"encoding/json"
	"time"

	"github.com/learnlyhq/learnly-backend/pkg/enums"
)

// Envelope is the canonical analytics view of a domain event consumed from
// Pub/Sub: identity and ordering from the message attributes, the typed
// payload still raw for the handler to decode.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}
