package moderation

import (
	"context"

	"github.com/jwalitptl/moderation-engine/internal/model"
)

// Authorizer answers whether actor may apply action to entity.
type Authorizer interface {
	CanPerform(ctx context.Context, actor model.Actor, entity *model.ModeratableEntity, action model.Action) bool
}

// RoleAuthorizer lets the original submitter withdraw and holders of
// AdminRole take every other action.
type RoleAuthorizer struct {
	AdminRole string
}

func NewRoleAuthorizer(adminRole string) *RoleAuthorizer {
	if adminRole == "" {
		adminRole = model.UserRoleAdmin
	}
	return &RoleAuthorizer{AdminRole: adminRole}
}

func (a *RoleAuthorizer) CanPerform(_ context.Context, actor model.Actor, entity *model.ModeratableEntity, action model.Action) bool {
	if action == model.ActionWithdraw {
		return entity != nil && actor.ID == entity.SubmitterID
	}
	return a.IsAdmin(actor)
}

func (a *RoleAuthorizer) IsAdmin(actor model.Actor) bool {
	return actor.Role == a.AdminRole
}

// AuthorizerFunc adapts a plain function.
type AuthorizerFunc func(ctx context.Context, actor model.Actor, entity *model.ModeratableEntity, action model.Action) bool

func (f AuthorizerFunc) CanPerform(ctx context.Context, actor model.Actor, entity *model.ModeratableEntity, action model.Action) bool {
	return f(ctx, actor, entity, action)
}
