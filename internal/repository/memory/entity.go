// Package memory holds mutex-guarded in-process repositories.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

type entityRepository struct {
	mu       sync.RWMutex
	entities map[uuid.UUID]*model.ModeratableEntity
}

func NewEntityRepository() repository.EntityRepository {
	return &entityRepository{entities: make(map[uuid.UUID]*model.ModeratableEntity)}
}

func (r *entityRepository) Create(_ context.Context, entity *model.ModeratableEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[entity.ID]; ok {
		return errors.Conflict("entity already exists", nil)
	}
	r.entities[entity.ID] = entity.Clone()
	return nil
}

func (r *entityRepository) Get(_ context.Context, id uuid.UUID) (*model.ModeratableEntity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, errors.NotFound("entity", nil)
	}
	return e.Clone(), nil
}

func (r *entityRepository) Update(_ context.Context, entity *model.ModeratableEntity, from model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.entities[entity.ID]
	if !ok {
		return errors.NotFound("entity", nil)
	}
	if stored.Status != from {
		return errors.Conflict(fmt.Sprintf("entity is %s, not %s", stored.Status, from), nil)
	}
	r.entities[entity.ID] = entity.Clone()
	return nil
}

func (r *entityRepository) List(_ context.Context, filter model.EntityFilter) ([]*model.ModeratableEntity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.ModeratableEntity, 0)
	for _, e := range r.entities {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
