// Package handler holds what every HTTP handler shares: the response
// envelope, error mapping and the authenticated actor.
package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

// ContextActor is the gin context key holding the authenticated model.Actor.
const ContextActor = "actor"

func SetActor(c *gin.Context, actor model.Actor) {
	c.Set(ContextActor, actor)
}

// Actor returns the authenticated caller set by the auth middleware.
func Actor(c *gin.Context) (model.Actor, bool) {
	v, ok := c.Get(ContextActor)
	if !ok {
		return model.Actor{}, false
	}
	actor, ok := v.(model.Actor)
	return actor, ok
}

// RequireActor writes 401 and returns false when no actor is present.
func RequireActor(c *gin.Context) (model.Actor, bool) {
	actor, ok := Actor(c)
	if !ok || actor.ID == uuid.Nil {
		Error(c, errors.Unauthorized(nil))
		return model.Actor{}, false
	}
	return actor, true
}

// ParamID parses a uuid path parameter and writes 400 when it is malformed.
func ParamID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		Error(c, errors.BadRequest(fmt.Sprintf("invalid %s", name), err))
		return uuid.Nil, false
	}
	return id, true
}
