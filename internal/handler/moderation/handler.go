package moderation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/handler"
	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/service/moderation"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

type SubmitEventRequest struct {
	Title   string `json:"title" binding:"required,max=200"`
	Payload string `json:"payload"`
}

type FileReportRequest struct {
	TargetID string `json:"target_id" binding:"required,max=200"`
	Reason   string `json:"reason" binding:"required,max=2000"`
}

type TransitionRequest struct {
	Action model.Action `json:"action" binding:"required,moderation_action"`
	Note   string       `json:"note" binding:"max=2000"`
}

type CommentRequest struct {
	Text string `json:"text" binding:"required,max=5000"`
}

// TransitionResponse reports a committed transition. Warning is set when
// notifications could not be stored right away and a retry was scheduled.
type TransitionResponse struct {
	Entity        *model.ModeratableEntity `json:"entity"`
	OldStatus     model.Status             `json:"old_status"`
	NewStatus     model.Status             `json:"new_status"`
	Notifications int                      `json:"notifications"`
	Warning       string                   `json:"warning,omitempty"`
}

type CommentResponse struct {
	Comment       model.Comment `json:"comment"`
	Notifications int           `json:"notifications"`
	Warning       string        `json:"warning,omitempty"`
}

type Handler struct {
	service moderation.Service
}

func NewHandler(service moderation.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/events", h.SubmitEvent)
	r.POST("/reports", h.FileReport)

	entities := r.Group("/entities")
	{
		entities.GET("", h.ListEntities)
		entities.GET("/:id", h.GetEntity)
		entities.POST("/:id/transitions", h.Transition)
		entities.POST("/:id/comments", h.AddComment)
	}
}

func (h *Handler) SubmitEvent(c *gin.Context) {
	actor, ok := handler.RequireActor(c)
	if !ok {
		return
	}

	var req SubmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	entity, err := h.service.SubmitEvent(c.Request.Context(), moderation.SubmitEventInput{
		Submitter: actor,
		Title:     req.Title,
		Payload:   req.Payload,
	})
	if err != nil {
		handler.Error(c, err)
		return
	}

	handler.Created(c, entity)
}

func (h *Handler) FileReport(c *gin.Context) {
	actor, ok := handler.RequireActor(c)
	if !ok {
		return
	}

	var req FileReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	entity, err := h.service.FileReport(c.Request.Context(), moderation.FileReportInput{
		Reporter: actor,
		TargetID: req.TargetID,
		Reason:   req.Reason,
	})
	if err != nil {
		handler.Error(c, err)
		return
	}

	handler.Created(c, entity)
}

func (h *Handler) GetEntity(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	entity, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}

	handler.OK(c, entity)
}

func (h *Handler) ListEntities(c *gin.Context) {
	var filter model.EntityFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		handler.BindError(c, err)
		return
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		handler.Error(c, errors.BadRequest("unknown entity kind", nil))
		return
	}
	if raw := c.Query("submitter_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			handler.Error(c, errors.BadRequest("invalid submitter_id", err))
			return
		}
		filter.SubmitterID = id
	}

	entities, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		handler.Error(c, err)
		return
	}

	handler.OK(c, entities)
}

func (h *Handler) Transition(c *gin.Context) {
	actor, ok := handler.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	result, err := h.service.Transition(c.Request.Context(), moderation.TransitionInput{
		EntityID: id,
		Action:   req.Action,
		Actor:    actor,
		Note:     req.Note,
	})
	if err != nil {
		handler.Error(c, err)
		return
	}

	resp := TransitionResponse{
		Entity:        result.Entity,
		OldStatus:     result.OldStatus,
		NewStatus:     result.NewStatus,
		Notifications: len(result.Notifications),
	}
	if result.Warning != nil {
		resp.Warning = "notifications delayed: " + result.Warning.Error()
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(resp))
}

func (h *Handler) AddComment(c *gin.Context) {
	actor, ok := handler.RequireActor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	result, err := h.service.AddComment(c.Request.Context(), moderation.CommentInput{
		EntityID: id,
		Author:   actor,
		Text:     req.Text,
	})
	if err != nil {
		handler.Error(c, err)
		return
	}

	resp := CommentResponse{Comment: result.Comment, Notifications: len(result.Notifications)}
	if result.Warning != nil {
		resp.Warning = "notifications delayed: " + result.Warning.Error()
	}
	handler.Created(c, resp)
}
