package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

// Topic selects what a subscription watches.
type Topic string

const (
	TopicEntities      Topic = "entities"
	TopicNotifications Topic = "notifications"
	TopicStats         Topic = "stats"
)

// Filter describes the live query. Entity topics use Kind and Status;
// notification and stats topics are scoped to RecipientID.
type Filter struct {
	Topic       Topic                  `json:"topic" form:"-"`
	Kind        model.EntityKind       `json:"kind,omitempty" form:"kind"`
	Status      model.Status           `json:"status,omitempty" form:"status"`
	RecipientID uuid.UUID              `json:"recipient_id,omitempty" form:"-"`
	Type        model.NotificationType `json:"type,omitempty" form:"type"`
	UnreadOnly  bool                   `json:"unread_only,omitempty" form:"unread_only"`
	Limit       int                    `json:"limit,omitempty" form:"limit"`
}

func (f Filter) Validate() error {
	switch f.Topic {
	case TopicEntities:
		if f.Kind != "" && !f.Kind.Valid() {
			return errors.BadRequest(fmt.Sprintf("unknown entity kind %q", f.Kind), nil)
		}
	case TopicNotifications, TopicStats:
		if f.RecipientID == uuid.Nil {
			return errors.BadRequest("recipient is required", nil)
		}
		if f.Type != "" && !f.Type.Valid() {
			return errors.BadRequest(fmt.Sprintf("unknown notification type %q", f.Type), nil)
		}
	default:
		return errors.BadRequest(fmt.Sprintf("unknown topic %q", f.Topic), nil)
	}
	if f.Limit < 0 {
		return errors.BadRequest("limit must not be negative", nil)
	}
	return nil
}

// affectedBy reports whether a change may alter the result set. A status
// filter is not applied here: a transition can move an entity out of it.
func (f Filter) affectedBy(c model.Change) bool {
	switch f.Topic {
	case TopicEntities:
		return c.Topic == model.TopicEntities && (f.Kind == "" || c.EntityKind == "" || c.EntityKind == f.Kind)
	case TopicNotifications, TopicStats:
		return c.Topic == model.TopicNotifications && c.RecipientID == f.RecipientID
	}
	return false
}

func (f Filter) entityFilter() model.EntityFilter {
	return model.EntityFilter{Kind: f.Kind, Status: f.Status, Limit: f.Limit}
}

func (f Filter) notificationFilter() model.NotificationFilter {
	return model.NotificationFilter{UnreadOnly: f.UnreadOnly, Type: f.Type, Limit: f.Limit}
}

// Snapshot is the complete result set of a filter at one point in time.
// Seq increases by one with every snapshot of a subscription, starting at 1.
type Snapshot struct {
	Seq           uint64                     `json:"seq"`
	At            time.Time                  `json:"at"`
	Topic         Topic                      `json:"topic"`
	Entities      []*model.ModeratableEntity `json:"entities"`
	Notifications []*model.Notification      `json:"notifications"`
	Stats         *model.NotificationStats   `json:"stats,omitempty"`
}
