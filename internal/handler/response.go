package handler

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

type Response struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, NewSuccessResponse(data))
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, NewSuccessResponse(data))
}

// Error writes err as a JSON error response. AppErrors keep their status and
// details; validation failures become 400 with one detail per field; anything
// else is logged and hidden behind a 500.
func Error(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		resp := NewErrorResponse("validation failed")
		resp.Code = errorCodeName(errors.ErrBadRequest)
		resp.Details = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			resp.Details[fe.Field()] = validationMessage(fe)
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, resp)
		return
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		status := appErr.Code.HTTPStatus()
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		}
		resp := NewErrorResponse(appErr.Message)
		resp.Code = errorCodeName(appErr.Code)
		resp.Details = appErr.Details
		c.AbortWithStatusJSON(status, resp)
		return
	}

	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Unhandled request error")
	resp := NewErrorResponse("internal server error")
	resp.Code = errorCodeName(errors.ErrInternal)
	c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
}

// BindError wraps a binding failure so that Error reports it as 400.
func BindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		Error(c, err)
		return
	}
	Error(c, errors.BadRequest("invalid request", err))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "max":
		return "value is too long"
	case "min":
		return "value is too short"
	case "oneof", "moderation_action", "notification_type", "entity_kind":
		return "unsupported value"
	case "uuid":
		return "must be a uuid"
	}
	return fe.Error()
}

func errorCodeName(code errors.ErrorCode) string {
	switch code {
	case errors.ErrNotFound:
		return "not_found"
	case errors.ErrBadRequest:
		return "bad_request"
	case errors.ErrUnauthorized:
		return "unauthorized"
	case errors.ErrForbidden:
		return "forbidden"
	case errors.ErrInvalidTransition:
		return "invalid_transition"
	case errors.ErrConflict:
		return "conflict"
	case errors.ErrUnavailable:
		return "unavailable"
	}
	return "internal"
}
