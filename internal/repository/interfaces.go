package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
)

// All repository interfaces in one file.
// Lookups of missing rows return an errors.ErrNotFound AppError and
// uniqueness violations an errors.ErrConflict AppError.
type (
	// EntityRepository stores moderated events and reports. Callers get
	// copies; mutating a returned entity never changes stored state.
	EntityRepository interface {
		Create(ctx context.Context, entity *model.ModeratableEntity) error
		Get(ctx context.Context, id uuid.UUID) (*model.ModeratableEntity, error)
		// Update persists status, resolution note, updated_at and history, but
		// only while the stored status is still from. A status moved by
		// someone else yields a Conflict error.
		Update(ctx context.Context, entity *model.ModeratableEntity, from model.Status) error
		// List returns matching entities oldest first.
		List(ctx context.Context, filter model.EntityFilter) ([]*model.ModeratableEntity, error)
	}

	NotificationRepository interface {
		// Create fails with a conflict when the recipient already holds a
		// notification with the same non-empty dedupe key.
		Create(ctx context.Context, n *model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		GetByDedupeKey(ctx context.Context, recipientID uuid.UUID, key string) (*model.Notification, error)
		// SetRead flips the read flag; at is ignored when read is false.
		SetRead(ctx context.Context, id uuid.UUID, read bool, at time.Time) error
		// MarkAllRead returns the number of notifications that changed.
		MarkAllRead(ctx context.Context, recipientID uuid.UUID, at time.Time) (int64, error)
		// List returns matching notifications newest first.
		List(ctx context.Context, recipientID uuid.UUID, filter model.NotificationFilter) ([]*model.Notification, error)
		CountUnread(ctx context.Context, recipientID uuid.UUID) (map[model.NotificationType]int, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// GetPendingEvents returns PENDING events and RETRY events due at or
		// before the given time, oldest first.
		GetPendingEvents(ctx context.Context, before time.Time, limit int) ([]*model.OutboxEvent, error)
		// UpdateStatus counts a failed attempt whenever status is RETRY or FAILED.
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// UserDirectory resolves user ids and display names.
	UserDirectory interface {
		Lookup(ctx context.Context, id uuid.UUID) (*model.User, error)
		Users(ctx context.Context) ([]*model.User, error)
	}
)
