// Package inbox persists notifications per recipient and keeps the unread
// aggregate in step with every write.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
	"github.com/jwalitptl/moderation-engine/pkg/keylock"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	"github.com/jwalitptl/moderation-engine/pkg/metrics"
)

// Notifier is told about committed mutations; it must not block.
type Notifier interface {
	Notify(ctx context.Context, change model.Change)
}

type NotifierFunc func(ctx context.Context, change model.Change)

func (f NotifierFunc) Notify(ctx context.Context, change model.Change) { f(ctx, change) }

type Config struct {
	// CacheTTL is how long an idle recipient aggregate stays materialized.
	CacheTTL        time.Duration
	CleanupInterval time.Duration
}

// Store is the single writer for notifications and their aggregates.
// Every read and write for one recipient runs under that recipient's lock,
// so a reader sees a notification and its count change together or not at all.
type Store struct {
	repo     repository.NotificationRepository
	outbox   repository.OutboxRepository
	notifier Notifier
	stats    *cache.Cache
	locks    *keylock.Map[uuid.UUID]
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewStore wires the store. outbox and notifier may be nil.
func NewStore(
	repo repository.NotificationRepository,
	outbox repository.OutboxRepository,
	notifier Notifier,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Store {
	if config.CacheTTL <= 0 {
		config.CacheTTL = 30 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}
	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, model.Change) {})
	}
	return &Store{
		repo:     repo,
		outbox:   outbox,
		notifier: notifier,
		stats:    cache.New(config.CacheTTL, config.CleanupInterval),
		locks:    keylock.New[uuid.UUID](),
		logger:   log.With("component", "inbox"),
		metrics:  m,
		now:      time.Now,
	}
}

// Append persists n and counts it as unread. When the recipient already holds
// a notification with the same dedupe key, the stored one is returned and
// nothing changes.
func (s *Store) Append(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	if n == nil || n.RecipientID == uuid.Nil {
		return nil, errors.BadRequest("notification recipient is required", nil)
	}
	if !n.Type.Valid() {
		return nil, errors.BadRequest(fmt.Sprintf("unknown notification type %q", n.Type), nil)
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	stored, created, err := s.append(ctx, n)
	if err != nil {
		return nil, err
	}
	if !created {
		s.metrics.NotificationsDeduped.Inc()
		return stored, nil
	}

	s.metrics.NotificationsEmitted.WithLabelValues(string(stored.Type)).Inc()
	s.handOff(ctx, stored)
	s.notify(ctx, stored.RecipientID)
	return stored, nil
}

func (s *Store) append(ctx context.Context, n *model.Notification) (*model.Notification, bool, error) {
	unlock := s.locks.Lock(n.RecipientID)
	defer unlock()

	if n.DedupeKey != "" {
		existing, err := s.repo.GetByDedupeKey(ctx, n.RecipientID, n.DedupeKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.HasCode(err, errors.ErrNotFound) {
			return nil, false, fmt.Errorf("check dedupe key: %w", err)
		}
	}

	stats, err := s.load(ctx, n.RecipientID)
	if err != nil {
		return nil, false, err
	}

	if err := s.repo.Create(ctx, n); err != nil {
		if errors.HasCode(err, errors.ErrConflict) && n.DedupeKey != "" {
			// Another process appended the same notification first; its
			// aggregate is no longer trusted here.
			s.stats.Delete(n.RecipientID.String())
			existing, getErr := s.repo.GetByDedupeKey(ctx, n.RecipientID, n.DedupeKey)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("persist notification: %w", err)
	}

	if !n.IsRead {
		stats.Add(n.Type, 1)
	}
	s.save(stats)
	return n.Clone(), true, nil
}

// MarkRead is idempotent: an already-read notification is returned unchanged.
func (s *Store) MarkRead(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	return s.setRead(ctx, id, true)
}

// MarkUnread is the inverse toggle and equally idempotent.
func (s *Store) MarkUnread(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	return s.setRead(ctx, id, false)
}

func (s *Store) setRead(ctx context.Context, id uuid.UUID, read bool) (*model.Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := func() (bool, error) {
		unlock := s.locks.Lock(n.RecipientID)
		defer unlock()

		// Re-read under the lock; the first read only told us whose lock to take.
		n, err = s.repo.Get(ctx, id)
		if err != nil {
			return false, err
		}
		if n.IsRead == read {
			return false, nil
		}

		stats, err := s.load(ctx, n.RecipientID)
		if err != nil {
			return false, err
		}
		at := s.now().UTC()
		if err := s.repo.SetRead(ctx, id, read, at); err != nil {
			return false, fmt.Errorf("update read flag: %w", err)
		}

		n.IsRead = read
		n.ReadAt = nil
		delta := 1
		if read {
			n.ReadAt = &at
			delta = -1
		}
		stats.Add(n.Type, delta)
		s.save(stats)
		return true, nil
	}()
	if err != nil {
		return nil, err
	}

	if changed {
		if read {
			s.metrics.NotificationsMarkRead.Inc()
		}
		s.notify(ctx, n.RecipientID)
	}
	return n, nil
}

// MarkAllRead marks every unread notification of the recipient as read and
// returns how many changed.
func (s *Store) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	changed, err := func() (int64, error) {
		unlock := s.locks.Lock(recipientID)
		defer unlock()

		changed, err := s.repo.MarkAllRead(ctx, recipientID, s.now().UTC())
		if err != nil {
			return 0, fmt.Errorf("mark all read: %w", err)
		}
		s.save(model.NewNotificationStats(recipientID))
		return changed, nil
	}()
	if err != nil {
		return 0, err
	}

	if changed > 0 {
		s.metrics.NotificationsMarkRead.Add(float64(changed))
		s.notify(ctx, recipientID)
	}
	return changed, nil
}

// StatsFor always returns every enumerated type, defaulting to zero.
func (s *Store) StatsFor(ctx context.Context, recipientID uuid.UUID) (model.NotificationStats, error) {
	unlock := s.locks.Lock(recipientID)
	defer unlock()

	stats, err := s.load(ctx, recipientID)
	if err != nil {
		return model.NotificationStats{}, err
	}
	return stats, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	return s.repo.Get(ctx, id)
}

// List returns the recipient's notifications newest first.
func (s *Store) List(ctx context.Context, recipientID uuid.UUID, filter model.NotificationFilter) ([]*model.Notification, error) {
	unlock := s.locks.Lock(recipientID)
	defer unlock()
	return s.repo.List(ctx, recipientID, filter)
}

// View reads the listing and the aggregate as one consistent pair.
func (s *Store) View(ctx context.Context, recipientID uuid.UUID, filter model.NotificationFilter) ([]*model.Notification, model.NotificationStats, error) {
	unlock := s.locks.Lock(recipientID)
	defer unlock()

	list, err := s.repo.List(ctx, recipientID, filter)
	if err != nil {
		return nil, model.NotificationStats{}, err
	}
	stats, err := s.load(ctx, recipientID)
	if err != nil {
		return nil, model.NotificationStats{}, err
	}
	return list, stats, nil
}

// load returns a private copy of the aggregate, rebuilding it from the
// repository on a cache miss. Callers hold the recipient lock.
func (s *Store) load(ctx context.Context, recipientID uuid.UUID) (model.NotificationStats, error) {
	if cached, ok := s.stats.Get(recipientID.String()); ok {
		return cached.(model.NotificationStats).Clone(), nil
	}

	counts, err := s.repo.CountUnread(ctx, recipientID)
	if err != nil {
		return model.NotificationStats{}, fmt.Errorf("rebuild notification stats: %w", err)
	}
	stats := model.NewNotificationStats(recipientID)
	for typ, n := range counts {
		stats.Add(typ, n)
	}
	return stats, nil
}

func (s *Store) save(stats model.NotificationStats) {
	s.stats.Set(stats.RecipientID.String(), stats.Clone(), cache.DefaultExpiration)
}

func (s *Store) handOff(ctx context.Context, n *model.Notification) {
	if s.outbox == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err == nil {
		err = s.outbox.Create(ctx, &model.OutboxEvent{
			EventType: model.EventTypeNotificationPush,
			Payload:   payload,
		})
	}
	if err != nil {
		s.logger.Warn(err, "push hand-off failed", "notification_id", n.ID.String())
	}
}

func (s *Store) notify(ctx context.Context, recipientID uuid.UUID) {
	s.notifier.Notify(ctx, model.Change{Topic: model.TopicNotifications, RecipientID: recipientID})
}
