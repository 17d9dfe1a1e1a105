package moderation

import (
	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
)

type SubmitEventInput struct {
	Submitter model.Actor
	Title     string
	Payload   string
}

type FileReportInput struct {
	Reporter model.Actor
	TargetID string
	Reason   string
}

type TransitionInput struct {
	EntityID uuid.UUID
	Action   model.Action
	Actor    model.Actor
	Note     string
}

// TransitionResult describes a committed transition. Warning is set when the
// status changed but its notifications could not all be stored; a retry has
// been scheduled and the caller should treat the action as successful.
type TransitionResult struct {
	Entity        *model.ModeratableEntity `json:"entity"`
	OldStatus     model.Status             `json:"old_status"`
	NewStatus     model.Status             `json:"new_status"`
	Notifications []*model.Notification    `json:"-"`
	Warning       error                    `json:"-"`
}

type CommentInput struct {
	EntityID uuid.UUID
	Author   model.Actor
	Text     string
}

type CommentResult struct {
	Comment       model.Comment
	Notifications []*model.Notification
	Warning       error
}

// BroadcastInput sends an admin message. An empty recipient list means every
// user in the directory.
type BroadcastInput struct {
	Actor      model.Actor
	Recipients []uuid.UUID
	Title      string
	Message    string
}

type BroadcastResult struct {
	Recipients    int
	Notifications []*model.Notification
	Warning       error
}
