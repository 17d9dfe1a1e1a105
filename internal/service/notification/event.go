package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
)

// DomainEvent is one of EntityStatusChanged, MentionDetected or AdminBroadcast.
type DomainEvent interface {
	EventName() string
}

const (
	eventStatusChanged   = "entity_status_changed"
	eventMentionDetected = "mention_detected"
	eventAdminBroadcast  = "admin_broadcast"
)

// EntityStatusChanged follows every successful moderation transition.
type EntityStatusChanged struct {
	Entity    *model.ModeratableEntity `json:"entity"`
	OldStatus model.Status             `json:"old_status"`
	NewStatus model.Status             `json:"new_status"`
	ActorID   uuid.UUID                `json:"actor_id"`
}

// MentionDetected carries every mention resolved in one piece of text.
// CommentID identifies that text so a retried emission dedupes while a
// later comment mentioning the same user still notifies.
type MentionDetected struct {
	CommentID      uuid.UUID       `json:"comment_id"`
	Mentions       []model.Mention `json:"mentions"`
	SourceText     string          `json:"source_text"`
	SourceEntityID *uuid.UUID      `json:"source_entity_id,omitempty"`
	ActorID        uuid.UUID       `json:"actor_id"`
}

// AdminBroadcast sends one admin_message to each listed recipient.
type AdminBroadcast struct {
	BroadcastID uuid.UUID   `json:"broadcast_id"`
	Recipients  []uuid.UUID `json:"recipients"`
	Title       string      `json:"title"`
	Message     string      `json:"message"`
	ActorID     uuid.UUID   `json:"actor_id"`
}

func (EntityStatusChanged) EventName() string { return eventStatusChanged }
func (MentionDetected) EventName() string     { return eventMentionDetected }
func (AdminBroadcast) EventName() string      { return eventAdminBroadcast }

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalEvent encodes a domain event together with its type so it can be
// stored in the outbox and replayed later.
func MarshalEvent(event DomainEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event.EventName(), err)
	}
	return json.Marshal(envelope{Type: event.EventName(), Payload: payload})
}

func UnmarshalEvent(data []byte) (DomainEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	var (
		event DomainEvent
		err   error
	)
	switch env.Type {
	case eventStatusChanged:
		var e EntityStatusChanged
		err = json.Unmarshal(env.Payload, &e)
		event = e
	case eventMentionDetected:
		var e MentionDetected
		err = json.Unmarshal(env.Payload, &e)
		event = e
	case eventAdminBroadcast:
		var e AdminBroadcast
		err = json.Unmarshal(env.Payload, &e)
		event = e
	default:
		return nil, fmt.Errorf("unknown domain event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return event, nil
}

// ReplayHandler re-emits a domain event stored by a failed emission. Dedupe
// keys make a replay of already stored notifications a no-op.
func ReplayHandler(emitter Emitter) func(ctx context.Context, event *model.OutboxEvent) error {
	return func(ctx context.Context, event *model.OutboxEvent) error {
		domainEvent, err := UnmarshalEvent(event.Payload)
		if err != nil {
			return err
		}
		_, err = emitter.Emit(ctx, domainEvent)
		return err
	}
}
