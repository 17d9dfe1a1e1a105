// Package moderation owns the lifecycle of submitted events and reports and
// triggers notifications for every committed transition.
package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
	"github.com/jwalitptl/moderation-engine/internal/service/mention"
	"github.com/jwalitptl/moderation-engine/internal/service/notification"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
	"github.com/jwalitptl/moderation-engine/pkg/keylock"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	"github.com/jwalitptl/moderation-engine/pkg/metrics"
)

// ChangeNotifier is told about committed entity mutations.
type ChangeNotifier interface {
	Notify(ctx context.Context, change model.Change)
}

type Service interface {
	SubmitEvent(ctx context.Context, in SubmitEventInput) (*model.ModeratableEntity, error)
	FileReport(ctx context.Context, in FileReportInput) (*model.ModeratableEntity, error)
	Get(ctx context.Context, id uuid.UUID) (*model.ModeratableEntity, error)
	List(ctx context.Context, filter model.EntityFilter) ([]*model.ModeratableEntity, error)
	// Transition validates in order: the entity exists, the actor is
	// authorized, the edge is legal. Validation failures leave the entity
	// untouched. Emission failures never undo a committed transition.
	Transition(ctx context.Context, in TransitionInput) (*TransitionResult, error)
	AddComment(ctx context.Context, in CommentInput) (*CommentResult, error)
	Broadcast(ctx context.Context, in BroadcastInput) (*BroadcastResult, error)
}

type Config struct {
	AdminRole       string
	MaxTitleLength  int
	MaxPayloadBytes int
}

type service struct {
	repo       repository.EntityRepository
	outbox     repository.OutboxRepository
	directory  repository.UserDirectory
	emitter    notification.Emitter
	resolver   *mention.Resolver
	authorizer Authorizer
	notifier   ChangeNotifier
	config     Config
	locks      *keylock.Map[uuid.UUID]
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(
	repo repository.EntityRepository,
	outbox repository.OutboxRepository,
	directory repository.UserDirectory,
	emitter notification.Emitter,
	authorizer Authorizer,
	notifier ChangeNotifier,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) Service {
	if config.AdminRole == "" {
		config.AdminRole = model.UserRoleAdmin
	}
	if config.MaxTitleLength <= 0 {
		config.MaxTitleLength = 200
	}
	if config.MaxPayloadBytes <= 0 {
		config.MaxPayloadBytes = 64 << 10
	}
	if authorizer == nil {
		authorizer = NewRoleAuthorizer(config.AdminRole)
	}
	return &service{
		repo:       repo,
		outbox:     outbox,
		directory:  directory,
		emitter:    emitter,
		resolver:   mention.NewResolver(directory),
		authorizer: authorizer,
		notifier:   notifier,
		config:     config,
		locks:      keylock.New[uuid.UUID](),
		logger:     log.With("component", "moderation"),
		metrics:    m,
		now:        time.Now,
	}
}

func (s *service) SubmitEvent(ctx context.Context, in SubmitEventInput) (*model.ModeratableEntity, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errors.BadRequest("title is required", nil)
	}
	return s.create(ctx, model.EntityKindEvent, in.Submitter, title, in.Payload, "")
}

func (s *service) FileReport(ctx context.Context, in FileReportInput) (*model.ModeratableEntity, error) {
	target := strings.TrimSpace(in.TargetID)
	if target == "" {
		return nil, errors.BadRequest("report target is required", nil)
	}
	title := "Report on " + target
	return s.create(ctx, model.EntityKindReport, in.Reporter, title, in.Reason, target)
}

func (s *service) create(ctx context.Context, kind model.EntityKind, submitter model.Actor, title, payload, target string) (*model.ModeratableEntity, error) {
	if submitter.ID == uuid.Nil {
		return nil, errors.Unauthorized(nil)
	}
	if len([]rune(title)) > s.config.MaxTitleLength {
		return nil, errors.BadRequest(fmt.Sprintf("title exceeds %d characters", s.config.MaxTitleLength), nil)
	}
	if len(payload) > s.config.MaxPayloadBytes {
		return nil, errors.BadRequest("payload too large", nil)
	}

	now := s.now().UTC()
	entity := &model.ModeratableEntity{
		Base:        model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Kind:        kind,
		SubmitterID: submitter.ID,
		Title:       title,
		Payload:     payload,
		TargetID:    target,
		Status:      model.StatusPending,
		History:     []model.StatusChange{},
	}
	if err := s.repo.Create(ctx, entity); err != nil {
		return nil, fmt.Errorf("create %s: %w", kind, err)
	}

	s.logger.Info("entity submitted", "entity_id", entity.ID.String(), "kind", string(kind))
	s.notifyEntity(ctx, entity)
	return entity, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.ModeratableEntity, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) List(ctx context.Context, filter model.EntityFilter) ([]*model.ModeratableEntity, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, errors.BadRequest(fmt.Sprintf("unknown entity kind %q", filter.Kind), nil)
	}
	return s.repo.List(ctx, filter)
}

func (s *service) Transition(ctx context.Context, in TransitionInput) (*TransitionResult, error) {
	unlock := s.locks.Lock(in.EntityID)
	defer unlock()

	entity, err := s.repo.Get(ctx, in.EntityID)
	if err != nil {
		s.countTransition("", in.Action, "not_found")
		return nil, err
	}

	if !s.authorizer.CanPerform(ctx, in.Actor, entity, in.Action) {
		s.countTransition(entity.Kind, in.Action, "forbidden")
		return nil, errors.Forbidden(fmt.Sprintf("not allowed to %s this %s", in.Action, entity.Kind))
	}

	to, ok := model.NextStatus(entity.Kind, entity.Status, in.Action)
	if !ok {
		s.countTransition(entity.Kind, in.Action, "invalid")
		return nil, errors.NewInvalidTransition(string(entity.Kind), string(entity.Status), string(in.Action))
	}

	// Past validation the transition runs to completion even if the caller
	// goes away.
	ctx = context.WithoutCancel(ctx)

	from := entity.Status
	note := strings.TrimSpace(in.Note)
	if note == "" && in.Action == model.ActionWithdraw {
		note = model.WithdrawNote
	}

	next := entity.Clone()
	now := s.now().UTC()
	next.Status = to
	next.UpdatedAt = now
	// Notes on intermediate steps stay in the history; only the closing
	// decision becomes the resolution the submitter is told about.
	if to.IsTerminal() {
		next.ResolutionNote = note
	}
	next.History = append(next.History, model.StatusChange{
		From:    from,
		To:      to,
		Action:  in.Action,
		ActorID: in.Actor.ID,
		Note:    note,
		At:      now,
	})

	// The per-entity lock is local to this process; the conditional update
	// settles races with other instances sharing the store.
	if err := s.repo.Update(ctx, next, from); err != nil {
		if errors.HasCode(err, errors.ErrConflict) {
			s.countTransition(entity.Kind, in.Action, "invalid")
			return nil, s.lostRace(ctx, entity, in.Action)
		}
		s.countTransition(entity.Kind, in.Action, "error")
		return nil, fmt.Errorf("update entity: %w", err)
	}
	s.countTransition(entity.Kind, in.Action, "ok")
	s.logger.Info("entity transitioned",
		"entity_id", next.ID.String(),
		"kind", string(next.Kind),
		"action", string(in.Action),
		"from", string(from),
		"to", string(to))
	s.notifyEntity(ctx, next)

	result := &TransitionResult{Entity: next, OldStatus: from, NewStatus: to}
	result.Notifications, result.Warning = s.emit(ctx, notification.EntityStatusChanged{
		Entity:    next.Clone(),
		OldStatus: from,
		NewStatus: to,
		ActorID:   in.Actor.ID,
	}, "entity_id", next.ID.String(), "action", string(in.Action))
	return result, nil
}

// lostRace reports the status another writer moved the entity to.
func (s *service) lostRace(ctx context.Context, entity *model.ModeratableEntity, action model.Action) error {
	current, err := s.repo.Get(ctx, entity.ID)
	if err != nil {
		return err
	}
	return errors.NewInvalidTransition(string(entity.Kind), string(current.Status), string(action))
}

func (s *service) AddComment(ctx context.Context, in CommentInput) (*CommentResult, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, errors.BadRequest("comment text is required", nil)
	}
	if in.Author.ID == uuid.Nil {
		return nil, errors.Unauthorized(nil)
	}
	if _, err := s.repo.Get(ctx, in.EntityID); err != nil {
		return nil, err
	}

	mentions, err := s.resolver.Resolve(ctx, in.Text)
	if err != nil {
		return nil, errors.Unavailable("user directory unavailable", err)
	}

	result := &CommentResult{Comment: model.Comment{
		EntityID: in.EntityID,
		AuthorID: in.Author.ID,
		Text:     in.Text,
		Mentions: mentions,
	}}
	if len(mentions) == 0 {
		return result, nil
	}

	entityID := in.EntityID
	result.Notifications, result.Warning = s.emit(context.WithoutCancel(ctx), notification.MentionDetected{
		CommentID:      uuid.New(),
		Mentions:       mentions,
		SourceText:     in.Text,
		SourceEntityID: &entityID,
		ActorID:        in.Author.ID,
	}, "entity_id", entityID.String())
	return result, nil
}

func (s *service) Broadcast(ctx context.Context, in BroadcastInput) (*BroadcastResult, error) {
	if in.Actor.Role != s.config.AdminRole {
		return nil, errors.Forbidden("only admins can broadcast")
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, errors.BadRequest("message is required", nil)
	}

	recipients := in.Recipients
	if len(recipients) == 0 {
		users, err := s.directory.Users(ctx)
		if err != nil {
			return nil, errors.Unavailable("user directory unavailable", err)
		}
		for _, u := range users {
			recipients = append(recipients, u.ID)
		}
	}

	result := &BroadcastResult{Recipients: len(recipients)}
	result.Notifications, result.Warning = s.emit(context.WithoutCancel(ctx), notification.AdminBroadcast{
		BroadcastID: uuid.New(),
		Recipients:  recipients,
		Title:       in.Title,
		Message:     in.Message,
		ActorID:     in.Actor.ID,
	}, "recipients", len(recipients))
	return result, nil
}

// emit hands the event to the emitter. On failure it logs, schedules a retry
// through the outbox and returns the failure as a warning.
func (s *service) emit(ctx context.Context, event notification.DomainEvent, fields ...interface{}) ([]*model.Notification, error) {
	stored, err := s.emitter.Emit(ctx, event)
	if err == nil {
		return stored, nil
	}
	if !notification.IsEmissionError(err) {
		err = &notification.EmissionError{Event: event.EventName(), Err: err}
	}

	s.logger.Warn(err, "notification emission failed", fields...)
	if retryErr := s.scheduleRetry(ctx, event); retryErr != nil {
		s.logger.Error(retryErr, "could not schedule emission retry", fields...)
	}
	return stored, err
}

func (s *service) scheduleRetry(ctx context.Context, event notification.DomainEvent) error {
	if s.outbox == nil {
		return fmt.Errorf("no outbox configured")
	}
	payload, err := notification.MarshalEvent(event)
	if err != nil {
		return err
	}
	return s.outbox.Create(ctx, &model.OutboxEvent{
		EventType: model.EventTypeEmissionRetry,
		Payload:   payload,
	})
}

func (s *service) notifyEntity(ctx context.Context, entity *model.ModeratableEntity) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, model.Change{
		Topic:      model.TopicEntities,
		EntityKind: entity.Kind,
		EntityID:   entity.ID,
	})
}

func (s *service) countTransition(kind model.EntityKind, action model.Action, result string) {
	s.metrics.TransitionsTotal.WithLabelValues(string(kind), string(action), result).Inc()
}
