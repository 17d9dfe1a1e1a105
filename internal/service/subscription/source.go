package subscription

import (
	"context"
	"fmt"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
	"github.com/jwalitptl/moderation-engine/internal/service/inbox"
)

// Source answers a filter with its current result set.
type Source interface {
	Query(ctx context.Context, filter Filter) (Snapshot, error)
}

// StoreSource reads entities from the repository and notifications through
// the inbox, so list and aggregate are always read together.
type StoreSource struct {
	entities repository.EntityRepository
	inbox    *inbox.Store
}

func NewStoreSource(entities repository.EntityRepository, inbox *inbox.Store) *StoreSource {
	return &StoreSource{entities: entities, inbox: inbox}
}

func (s *StoreSource) Query(ctx context.Context, filter Filter) (Snapshot, error) {
	snap := Snapshot{Topic: filter.Topic}

	switch filter.Topic {
	case TopicEntities:
		list, err := s.entities.List(ctx, filter.entityFilter())
		if err != nil {
			return Snapshot{}, fmt.Errorf("query entities: %w", err)
		}
		snap.Entities = list
	case TopicNotifications:
		list, stats, err := s.inbox.View(ctx, filter.RecipientID, filter.notificationFilter())
		if err != nil {
			return Snapshot{}, fmt.Errorf("query notifications: %w", err)
		}
		snap.Notifications = list
		snap.Stats = &stats
	case TopicStats:
		stats, err := s.inbox.StatsFor(ctx, filter.RecipientID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("query stats: %w", err)
		}
		snap.Stats = &stats
	default:
		return Snapshot{}, fmt.Errorf("unknown topic %q", filter.Topic)
	}
	if snap.Entities == nil && filter.Topic == TopicEntities {
		snap.Entities = []*model.ModeratableEntity{}
	}
	if snap.Notifications == nil && filter.Topic == TopicNotifications {
		snap.Notifications = []*model.Notification{}
	}
	return snap, nil
}
