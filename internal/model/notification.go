package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType is the closed notification taxonomy.
type NotificationType string

const (
	NotificationTypeMention        NotificationType = "mention"
	NotificationTypeEventUpdate    NotificationType = "event_update"
	NotificationTypeEventApproved  NotificationType = "event_approved"
	NotificationTypeEventRejected  NotificationType = "event_rejected"
	NotificationTypeRSVPUpdate     NotificationType = "rsvp_update"
	NotificationTypeCommentReply   NotificationType = "comment_reply"
	NotificationTypeAdminMessage   NotificationType = "admin_message"
	NotificationTypeReportResolved NotificationType = "report_resolved"
)

var notificationTypes = []NotificationType{
	NotificationTypeMention,
	NotificationTypeEventUpdate,
	NotificationTypeEventApproved,
	NotificationTypeEventRejected,
	NotificationTypeRSVPUpdate,
	NotificationTypeCommentReply,
	NotificationTypeAdminMessage,
	NotificationTypeReportResolved,
}

// NotificationTypes returns every enumerated type in a stable order.
func NotificationTypes() []NotificationType {
	return append([]NotificationType(nil), notificationTypes...)
}

func (t NotificationType) Valid() bool {
	for _, known := range notificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Notification is one user-targeted notification record.
type Notification struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	RecipientID    uuid.UUID        `json:"recipient_id" db:"recipient_id"`
	Type           NotificationType `json:"type" db:"type"`
	Title          string           `json:"title" db:"title"`
	Message        string           `json:"message" db:"message"`
	SourceEntityID *uuid.UUID       `json:"source_entity_id,omitempty" db:"source_entity_id"`
	ActorID        *uuid.UUID       `json:"actor_id,omitempty" db:"actor_id"`
	ActorName      string           `json:"actor_name,omitempty" db:"actor_name"`
	DedupeKey      string           `json:"-" db:"dedupe_key"`
	IsRead         bool             `json:"is_read" db:"is_read"`
	ReadAt         *time.Time       `json:"read_at,omitempty" db:"read_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// NotificationFilter narrows a recipient's notification listing.
type NotificationFilter struct {
	UnreadOnly bool             `form:"unread_only"`
	Type       NotificationType `form:"type"`
	Limit      int              `form:"limit"`
}

func (f NotificationFilter) Matches(n *Notification) bool {
	if f.UnreadOnly && n.IsRead {
		return false
	}
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	return true
}

// NotificationStats is the per-recipient unread aggregate.
// TotalUnread always equals the sum of UnreadByType.
type NotificationStats struct {
	RecipientID  uuid.UUID                `json:"recipient_id"`
	TotalUnread  int                      `json:"total_unread"`
	UnreadByType map[NotificationType]int `json:"unread_by_type"`
}

// NewNotificationStats returns an aggregate with every type present at zero.
func NewNotificationStats(recipientID uuid.UUID) NotificationStats {
	byType := make(map[NotificationType]int, len(notificationTypes))
	for _, t := range notificationTypes {
		byType[t] = 0
	}
	return NotificationStats{RecipientID: recipientID, UnreadByType: byType}
}

// Add adjusts the unread count of one type and the total together.
// Counts never go below zero.
func (s *NotificationStats) Add(t NotificationType, delta int) {
	if s.UnreadByType == nil {
		s.UnreadByType = make(map[NotificationType]int, len(notificationTypes))
	}
	next := s.UnreadByType[t] + delta
	if next < 0 {
		delta -= next
		next = 0
	}
	s.UnreadByType[t] = next
	s.TotalUnread += delta
}

// Clone copies the aggregate and fills in any enumerated type that is missing.
func (s NotificationStats) Clone() NotificationStats {
	c := NewNotificationStats(s.RecipientID)
	for t, n := range s.UnreadByType {
		c.UnreadByType[t] = n
	}
	c.TotalUnread = s.TotalUnread
	return c
}
