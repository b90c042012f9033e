// Package event defines the transient event envelope the dispatcher fans out
// and the static catalog of event types the platform emits.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinicore/webhook-dispatch/validate"
	"github.com/google/uuid"
)

// Wildcard subscribes a destination to every event type.
const Wildcard = "*"

// TestType is the reserved type used by synchronous endpoint probes.
const TestType = "webhook.test"

/* Event is the envelope delivered to subscribers.
 * It is never persisted as its own entity; it exists only as dispatcher
 * input and as the serialized request body.
 */
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// New builds an envelope for the given type and data. The data is marshaled
// once here; the resulting bytes are what gets signed and transmitted.
func New(eventType string, data any, metadata map[string]string) (Event, error) {
	if err := validate.EventType(eventType); err != nil {
		return Event{}, fmt.Errorf("validating event type: %w", err)
	}
	if eventType == Wildcard {
		return Event{}, fmt.Errorf("validating event type: wildcard is not a concrete event type")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling event data: %w", err)
	}

	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
		Metadata:  metadata,
	}, nil
}

// Body returns the serialized envelope, the exact byte sequence that is
// signed and posted to the subscriber.
func (e Event) Body() ([]byte, error) {
	return json.Marshal(e)
}

// Matches reports whether a subscription filter entry selects this event.
func (e Event) Matches(filter string) bool {
	return filter == Wildcard || filter == e.Type
}
