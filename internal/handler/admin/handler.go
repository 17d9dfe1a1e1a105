package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/handler"
	"github.com/jwalitptl/moderation-engine/internal/service/moderation"
)

// BroadcastRequest sends an admin message. Omitting recipients addresses
// every user in the directory.
type BroadcastRequest struct {
	Recipients []uuid.UUID `json:"recipients"`
	Title      string      `json:"title" binding:"max=200"`
	Message    string      `json:"message" binding:"required,max=5000"`
}

type BroadcastResponse struct {
	Recipients    int    `json:"recipients"`
	Notifications int    `json:"notifications"`
	Warning       string `json:"warning,omitempty"`
}

type Handler struct {
	service moderation.Service
}

func NewHandler(service moderation.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/broadcast", h.Broadcast)
}

func (h *Handler) Broadcast(c *gin.Context) {
	actor, ok := handler.RequireActor(c)
	if !ok {
		return
	}

	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	result, err := h.service.Broadcast(c.Request.Context(), moderation.BroadcastInput{
		Actor:      actor,
		Recipients: req.Recipients,
		Title:      req.Title,
		Message:    req.Message,
	})
	if err != nil {
		handler.Error(c, err)
		return
	}

	resp := BroadcastResponse{Recipients: result.Recipients, Notifications: len(result.Notifications)}
	if result.Warning != nil {
		resp.Warning = "notifications delayed: " + result.Warning.Error()
	}
	handler.Created(c, resp)
}
