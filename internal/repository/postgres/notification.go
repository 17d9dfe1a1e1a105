package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
)

var notificationColumns = []string{
	"id", "recipient_id", "type", "title", "message", "source_entity_id",
	"actor_id", "actor_name", "dedupe_key", "is_read", "read_at", "created_at",
}

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	query, args, err := psql.Insert("notifications").
		Columns(notificationColumns...).
		Values(n.ID, n.RecipientID, n.Type, n.Title, n.Message, n.SourceEntityID,
			n.ActorID, n.ActorName, n.DedupeKey, n.IsRead, n.ReadAt, n.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return mapError("notification", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	return r.getWhere(ctx, sq.Eq{"id": id})
}

func (r *notificationRepository) GetByDedupeKey(ctx context.Context, recipientID uuid.UUID, key string) (*model.Notification, error) {
	return r.getWhere(ctx, sq.Eq{"recipient_id": recipientID, "dedupe_key": key})
}

func (r *notificationRepository) getWhere(ctx context.Context, where sq.Eq) (*model.Notification, error) {
	query, args, err := psql.Select(notificationColumns...).
		From("notifications").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	var n model.Notification
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return nil, mapError("notification", err)
	}
	return &n, nil
}

func (r *notificationRepository) SetRead(ctx context.Context, id uuid.UUID, read bool, at time.Time) error {
	var readAt *time.Time
	if read {
		readAt = &at
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = $1, read_at = $2 WHERE id = $3`,
		read, readAt, id)
	if err != nil {
		return mapError("notification", err)
	}
	return expectOne("notification", res)
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID uuid.UUID, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = $1 WHERE recipient_id = $2 AND NOT is_read`,
		at, recipientID)
	if err != nil {
		return 0, mapError("notification", err)
	}
	return res.RowsAffected()
}

func (r *notificationRepository) List(ctx context.Context, recipientID uuid.UUID, filter model.NotificationFilter) ([]*model.Notification, error) {
	query, args, err := notificationListQuery(recipientID, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	var out []*model.Notification
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, mapError("notification", err)
	}
	if out == nil {
		out = []*model.Notification{}
	}
	return out, nil
}

func notificationListQuery(recipientID uuid.UUID, filter model.NotificationFilter) sq.SelectBuilder {
	q := psql.Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"recipient_id": recipientID}).
		OrderBy("created_at DESC", "id DESC")

	if filter.UnreadOnly {
		q = q.Where(sq.Eq{"is_read": false})
	}
	if filter.Type != "" {
		q = q.Where(sq.Eq{"type": filter.Type})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientID uuid.UUID) (map[model.NotificationType]int, error) {
	var rows []struct {
		Type  model.NotificationType `db:"type"`
		Count int                    `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT type, COUNT(*) AS count FROM notifications WHERE recipient_id = $1 AND NOT is_read GROUP BY type`,
		recipientID)
	if err != nil {
		return nil, mapError("notification", err)
	}

	counts := make(map[model.NotificationType]int, len(rows))
	for _, row := range rows {
		counts[row.Type] = row.Count
	}
	return counts, nil
}
