package notification

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/handler"
	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

// Inbox is the part of the notification store the HTTP surface uses.
type Inbox interface {
	View(ctx context.Context, recipientID uuid.UUID, filter model.NotificationFilter) ([]*model.Notification, model.NotificationStats, error)
	StatsFor(ctx context.Context, recipientID uuid.UUID) (model.NotificationStats, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	MarkUnread(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
}

type ListResponse struct {
	Items []*model.Notification   `json:"items"`
	Stats model.NotificationStats `json:"stats"`
}

type Handler struct {
	inbox Inbox
}

func NewHandler(inbox Inbox) *Handler {
	return &Handler{inbox: inbox}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.GET("/stats", h.Stats)
		notifications.PUT("/read-all", h.MarkAllRead)
		notifications.PUT("/:id/read", h.MarkRead)
		notifications.PUT("/:id/unread", h.MarkUnread)
	}
}

// List returns the caller's notifications newest first together with the
// unread aggregate taken at the same moment.
func (h *Handler) List(c *gin.Context) {
	actor, ok := handler.RequireActor(c)
	if !ok {
		return
	}

	var filter model.NotificationFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		handler.BindError(c, err)
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		handler.Error(c, errors.BadRequest("unknown notification type", nil))
		return
	}

	items, stats, err := h.inbox.View(c.Request.Context(), actor.ID, filter)
	if err != nil {
		handler.Error(c, err)
		return
	}

	handler.OK(c, ListResponse{Items: items, Stats: stats})
}

func (h *Handler) Stats(c *gin.Context) {
	actor, ok := handler.RequireActor(c)
	if !ok {
		return
	}

	stats, err := h.inbox.StatsFor(c.Request.Context(), actor.ID)
	if err != nil {
		handler.Error(c, err)
		return
	}

	handler.OK(c, stats)
}

func (h *Handler) MarkRead(c *gin.Context) {
	h.toggle(c, h.inbox.MarkRead)
}

func (h *Handler) MarkUnread(c *gin.Context) {
	h.toggle(c, h.inbox.MarkUnread)
}

func (h *Handler) toggle(c *gin.Context, apply func(context.Context, uuid.UUID) (*model.Notification, error)) {
	actor, ok := handler.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	// Someone else's notification answers like a missing one.
	n, err := h.inbox.Get(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	if n.RecipientID != actor.ID {
		handler.Error(c, errors.NotFound("notification", nil))
		return
	}

	n, err = apply(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}

	handler.OK(c, n)
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	actor, ok := handler.RequireActor(c)
	if !ok {
		return
	}

	changed, err := h.inbox.MarkAllRead(c.Request.Context(), actor.ID)
	if err != nil {
		handler.Error(c, err)
		return
	}

	handler.OK(c, gin.H{"updated": changed})
}
