package notification

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	"github.com/jwalitptl/moderation-engine/pkg/metrics"
)

const (
	defaultActorName      = "Someone"
	defaultBroadcastTitle = "Message from the moderators"
	excerptLength         = 140
)

// Appender persists a notification. Appending a notification whose dedupe key
// the recipient already holds returns the stored record instead.
type Appender interface {
	Append(ctx context.Context, n *model.Notification) (*model.Notification, error)
}

// EmissionError reports that notifications for a domain event could not be
// handed to the store. Notifications appended before the failure stay stored.
type EmissionError struct {
	Event string
	Err   error
}

func (e *EmissionError) Error() string {
	return fmt.Sprintf("emit %s: %v", e.Event, e.Err)
}

func (e *EmissionError) Unwrap() error { return e.Err }

// IsEmissionError reports whether err carries an EmissionError.
func IsEmissionError(err error) bool {
	var target *EmissionError
	return errors.As(err, &target)
}

// Emitter turns domain events into typed notifications.
type Emitter interface {
	// Emit returns once every notification has been appended, or with an
	// EmissionError at the first failed hand-off.
	Emit(ctx context.Context, event DomainEvent) ([]*model.Notification, error)
	// Build computes the notifications for event without storing them.
	Build(ctx context.Context, event DomainEvent) ([]*model.Notification, error)
}

type Config struct {
	// ActorLookupTimeout bounds the directory lookup for actor display names.
	ActorLookupTimeout time.Duration
}

type emitter struct {
	store     Appender
	directory repository.UserDirectory
	config    Config
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewEmitter(
	store Appender,
	directory repository.UserDirectory,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) Emitter {
	if config.ActorLookupTimeout <= 0 {
		config.ActorLookupTimeout = 2 * time.Second
	}
	return &emitter{
		store:     store,
		directory: directory,
		config:    config,
		logger:    log.With("component", "notification-emitter"),
		metrics:   m,
		now:       time.Now,
	}
}

func (e *emitter) Emit(ctx context.Context, event DomainEvent) ([]*model.Notification, error) {
	pending, err := e.Build(ctx, event)
	if err != nil {
		return nil, err
	}

	stored := make([]*model.Notification, 0, len(pending))
	for _, n := range pending {
		saved, err := e.store.Append(ctx, n)
		if err != nil {
			e.metrics.EmissionFailures.Inc()
			return stored, &EmissionError{Event: event.EventName(), Err: err}
		}
		stored = append(stored, saved)
	}
	return stored, nil
}

func (e *emitter) Build(ctx context.Context, event DomainEvent) ([]*model.Notification, error) {
	switch ev := event.(type) {
	case EntityStatusChanged:
		return e.statusChanged(ctx, ev), nil
	case *EntityStatusChanged:
		return e.statusChanged(ctx, *ev), nil
	case MentionDetected:
		return e.mentionDetected(ctx, ev), nil
	case *MentionDetected:
		return e.mentionDetected(ctx, *ev), nil
	case AdminBroadcast:
		return e.adminBroadcast(ctx, ev), nil
	case *AdminBroadcast:
		return e.adminBroadcast(ctx, *ev), nil
	default:
		return nil, fmt.Errorf("unsupported domain event %T", event)
	}
}

func (e *emitter) statusChanged(ctx context.Context, ev EntityStatusChanged) []*model.Notification {
	entity := ev.Entity
	if entity == nil {
		return nil
	}

	var (
		typ            model.NotificationType
		title, message string
	)
	switch entity.Kind {
	case model.EntityKindEvent:
		switch ev.NewStatus {
		case model.StatusApproved:
			typ = model.NotificationTypeEventApproved
			title = "Event approved"
			message = fmt.Sprintf("Your event %q has been approved.", entity.Title)
		case model.StatusRejected:
			typ = model.NotificationTypeEventRejected
			title = "Event rejected"
			message = entity.ResolutionNote
			if message == "" {
				message = fmt.Sprintf("Your event %q was not approved.", entity.Title)
			}
		default:
			return nil
		}
	case model.EntityKindReport:
		switch ev.NewStatus {
		case model.StatusResolved, model.StatusDismissed:
			typ = model.NotificationTypeReportResolved
			title = "Report " + string(ev.NewStatus)
			message = "Your report has been " + string(ev.NewStatus)
			if entity.ResolutionNote != "" {
				message += ": " + entity.ResolutionNote
			} else {
				message += "."
			}
		default:
			return nil
		}
	default:
		return nil
	}

	n := e.newNotification(entity.SubmitterID, typ, e.resolveActor(ctx, ev.ActorID))
	n.Title = title
	n.Message = message
	id := entity.ID
	n.SourceEntityID = &id
	n.DedupeKey = fmt.Sprintf("%s:%s:%s", entity.ID, typ, ev.NewStatus)
	return []*model.Notification{n}
}

func (e *emitter) mentionDetected(ctx context.Context, ev MentionDetected) []*model.Notification {
	out := make([]*model.Notification, 0, len(ev.Mentions))
	seen := make(map[uuid.UUID]bool, len(ev.Mentions))
	by := e.resolveActor(ctx, ev.ActorID)
	displayName := by.name
	if displayName == "" {
		displayName = defaultActorName
	}
	for _, m := range ev.Mentions {
		if m.UserID == ev.ActorID || seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true

		n := e.newNotification(m.UserID, model.NotificationTypeMention, by)
		n.Title = displayName + " mentioned you"
		n.Message = excerpt(ev.SourceText)
		if ev.SourceEntityID != nil {
			id := *ev.SourceEntityID
			n.SourceEntityID = &id
		}
		n.DedupeKey = fmt.Sprintf("%s:%s:%s", ev.CommentID, model.NotificationTypeMention, m.UserID)
		out = append(out, n)
	}
	return out
}

func (e *emitter) adminBroadcast(ctx context.Context, ev AdminBroadcast) []*model.Notification {
	title := ev.Title
	if title == "" {
		title = defaultBroadcastTitle
	}
	out := make([]*model.Notification, 0, len(ev.Recipients))
	seen := make(map[uuid.UUID]bool, len(ev.Recipients))
	by := e.resolveActor(ctx, ev.ActorID)
	for _, r := range ev.Recipients {
		if seen[r] {
			continue
		}
		seen[r] = true

		n := e.newNotification(r, model.NotificationTypeAdminMessage, by)
		n.Title = title
		n.Message = ev.Message
		n.DedupeKey = fmt.Sprintf("%s:%s", ev.BroadcastID, model.NotificationTypeAdminMessage)
		out = append(out, n)
	}
	return out
}

type actor struct {
	id   uuid.UUID
	name string
}

func (e *emitter) resolveActor(ctx context.Context, id uuid.UUID) actor {
	if id == uuid.Nil {
		return actor{}
	}
	return actor{id: id, name: e.actorName(ctx, id)}
}

func (e *emitter) newNotification(recipient uuid.UUID, typ model.NotificationType, a actor) *model.Notification {
	n := &model.Notification{
		ID:          uuid.New(),
		RecipientID: recipient,
		Type:        typ,
		CreatedAt:   e.now().UTC(),
	}
	if a.id != uuid.Nil {
		id := a.id
		n.ActorID = &id
		n.ActorName = a.name
	}
	return n
}

// actorName never fails: an unknown or unreachable actor leaves the name empty.
func (e *emitter) actorName(ctx context.Context, actorID uuid.UUID) string {
	if e.directory == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.ActorLookupTimeout)
	defer cancel()

	u, err := e.directory.Lookup(ctx, actorID)
	if err != nil {
		e.logger.Debug("actor lookup failed", "actor_id", actorID.String(), "error", err.Error())
		return ""
	}
	return u.DisplayName
}

func excerpt(text string) string {
	if utf8.RuneCountInString(text) <= excerptLength {
		return text
	}
	return string([]rune(text)[:excerptLength-1]) + "…"
}
