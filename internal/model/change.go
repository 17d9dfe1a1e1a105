package model

import "github.com/google/uuid"

// ChangeTopic groups committed mutations for live subscribers.
type ChangeTopic string

const (
	TopicEntities      ChangeTopic = "entities"
	TopicNotifications ChangeTopic = "notifications"
)

// Change is the signal a writer publishes after a committed mutation.
// It carries only routing keys; subscribers re-query for the full state.
type Change struct {
	Topic       ChangeTopic `json:"topic"`
	EntityKind  EntityKind  `json:"entity_kind,omitempty"`
	EntityID    uuid.UUID   `json:"entity_id,omitempty"`
	RecipientID uuid.UUID   `json:"recipient_id,omitempty"`
}
