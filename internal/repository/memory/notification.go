package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

type dedupeIndex struct {
	recipient uuid.UUID
	key       string
}

type notificationRepository struct {
	mu          sync.RWMutex
	byID        map[uuid.UUID]*model.Notification
	byRecipient map[uuid.UUID][]*model.Notification
	byDedupe    map[dedupeIndex]*model.Notification
}

func NewNotificationRepository() repository.NotificationRepository {
	return &notificationRepository{
		byID:        make(map[uuid.UUID]*model.Notification),
		byRecipient: make(map[uuid.UUID][]*model.Notification),
		byDedupe:    make(map[dedupeIndex]*model.Notification),
	}
}

func (r *notificationRepository) Create(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[n.ID]; ok {
		return errors.Conflict("notification already exists", nil)
	}
	idx := dedupeIndex{recipient: n.RecipientID, key: n.DedupeKey}
	if n.DedupeKey != "" {
		if _, ok := r.byDedupe[idx]; ok {
			return errors.Conflict("duplicate notification", nil)
		}
	}

	stored := n.Clone()
	r.byID[stored.ID] = stored
	r.byRecipient[stored.RecipientID] = append(r.byRecipient[stored.RecipientID], stored)
	if n.DedupeKey != "" {
		r.byDedupe[idx] = stored
	}
	return nil
}

func (r *notificationRepository) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byID[id]
	if !ok {
		return nil, errors.NotFound("notification", nil)
	}
	return n.Clone(), nil
}

func (r *notificationRepository) GetByDedupeKey(_ context.Context, recipientID uuid.UUID, key string) (*model.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byDedupe[dedupeIndex{recipient: recipientID, key: key}]
	if !ok || key == "" {
		return nil, errors.NotFound("notification", nil)
	}
	return n.Clone(), nil
}

func (r *notificationRepository) SetRead(_ context.Context, id uuid.UUID, read bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	if !ok {
		return errors.NotFound("notification", nil)
	}
	n.IsRead = read
	if read {
		t := at
		n.ReadAt = &t
	} else {
		n.ReadAt = nil
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(_ context.Context, recipientID uuid.UUID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed int64
	for _, n := range r.byRecipient[recipientID] {
		if n.IsRead {
			continue
		}
		t := at
		n.IsRead = true
		n.ReadAt = &t
		changed++
	}
	return changed, nil
}

func (r *notificationRepository) List(_ context.Context, recipientID uuid.UUID, filter model.NotificationFilter) ([]*model.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Notification, 0)
	for _, n := range r.byRecipient[recipientID] {
		if filter.Matches(n) {
			out = append(out, n.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *notificationRepository) CountUnread(_ context.Context, recipientID uuid.UUID) (map[model.NotificationType]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[model.NotificationType]int)
	for _, n := range r.byRecipient[recipientID] {
		if !n.IsRead {
			counts[n.Type]++
		}
	}
	return counts, nil
}
