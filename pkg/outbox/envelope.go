package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	Email  string `json:"email,omitempty"`
	Source string `json:"source,omitempty"`
}

// PayloadEnvelope is the versioned structure stored in outbox_events.Payload.
// Consumers key dedup off EventID, so the field survives schema changes.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
