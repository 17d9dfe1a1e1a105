package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind distinguishes the moderated entity variants.
type EntityKind string

const (
	EntityKindEvent  EntityKind = "submitted_event"
	EntityKindReport EntityKind = "report"
)

func (k EntityKind) Valid() bool {
	return k == EntityKindEvent || k == EntityKindReport
}

// Status is the moderation status of an entity.
type Status string

const (
	StatusPending       Status = "pending"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusDismissed     Status = "dismissed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusResolved, StatusDismissed:
		return true
	}
	return false
}

// StatusChange records one successful transition.
type StatusChange struct {
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Action  Action    `json:"action"`
	ActorID uuid.UUID `json:"actor_id"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// ModeratableEntity is a submitted event or a user report moving through
// an approval workflow. It is only mutated by the moderation service.
type ModeratableEntity struct {
	Base
	Kind           EntityKind     `json:"kind" db:"kind"`
	SubmitterID    uuid.UUID      `json:"submitter_id" db:"submitter_id"`
	Title          string         `json:"title" db:"title"`
	Payload        string         `json:"payload" db:"payload"`
	TargetID       string         `json:"target_id,omitempty" db:"target_id"`
	Status         Status         `json:"status" db:"status"`
	ResolutionNote string         `json:"resolution_note,omitempty" db:"resolution_note"`
	History        []StatusChange `json:"history" db:"-"`
}

// Clone returns a deep copy so callers can never alias repository state.
func (e *ModeratableEntity) Clone() *ModeratableEntity {
	if e == nil {
		return nil
	}
	c := *e
	c.History = append([]StatusChange(nil), e.History...)
	return &c
}

// EntityFilter narrows entity queries. Zero values match everything.
type EntityFilter struct {
	Kind        EntityKind `form:"kind"`
	Status      Status     `form:"status"`
	SubmitterID uuid.UUID  `form:"-"`
	Limit       int        `form:"limit"`
}

// Matches reports whether e satisfies the filter.
func (f EntityFilter) Matches(e *ModeratableEntity) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.SubmitterID != uuid.Nil && e.SubmitterID != f.SubmitterID {
		return false
	}
	return true
}
