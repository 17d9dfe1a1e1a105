package subscription

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/moderation-engine/internal/handler"
	"github.com/jwalitptl/moderation-engine/internal/service/subscription"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

// SSE event names.
const (
	EventSnapshot    = "snapshot"
	EventUnavailable = "unavailable"
	EventPing        = "ping"
)

type Subscriber interface {
	Subscribe(ctx context.Context, filter subscription.Filter) (*subscription.Subscription, error)
}

type Handler struct {
	broker    Subscriber
	keepAlive time.Duration
}

func NewHandler(broker Subscriber, keepAlive time.Duration) *Handler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &Handler{broker: broker, keepAlive: keepAlive}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	subs := r.Group("/subscriptions")
	{
		subs.GET("/entities", h.Entities)
		subs.GET("/notifications", h.Notifications)
		subs.GET("/stats", h.Stats)
	}
}

func (h *Handler) Entities(c *gin.Context) {
	filter := subscription.Filter{Topic: subscription.TopicEntities}
	if err := c.ShouldBindQuery(&filter); err != nil {
		handler.BindError(c, err)
		return
	}
	h.stream(c, filter)
}

func (h *Handler) Notifications(c *gin.Context) {
	h.recipientStream(c, subscription.TopicNotifications)
}

func (h *Handler) Stats(c *gin.Context) {
	h.recipientStream(c, subscription.TopicStats)
}

// recipientStream always scopes to the caller; there is no way to watch
// someone else's inbox.
func (h *Handler) recipientStream(c *gin.Context, topic subscription.Topic) {
	actor, ok := handler.RequireActor(c)
	if !ok {
		return
	}

	filter := subscription.Filter{Topic: topic}
	if err := c.ShouldBindQuery(&filter); err != nil {
		handler.BindError(c, err)
		return
	}
	filter.Topic = topic
	filter.RecipientID = actor.ID
	h.stream(c, filter)
}

// stream writes the initial snapshot, then one event per later snapshot
// until the client leaves or the subscription ends. A dropped feed is
// reported with a final unavailable event.
func (h *Handler) stream(c *gin.Context, filter subscription.Filter) {
	sub, err := h.broker.Subscribe(c.Request.Context(), filter)
	if err != nil {
		if stderrors.Is(err, subscription.ErrBrokerUnavailable) {
			err = errors.Unavailable("live updates are unavailable", err)
		}
		handler.Error(c, err)
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(EventSnapshot, sub.Initial)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case snap, ok := <-sub.Updates():
			if !ok {
				if err := sub.Err(); err != nil {
					c.SSEvent(EventUnavailable, gin.H{"error": err.Error()})
				}
				return false
			}
			c.SSEvent(EventSnapshot, snap)
			return true
		case <-ticker.C:
			c.SSEvent(EventPing, gin.H{"at": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
