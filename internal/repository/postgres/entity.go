package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

var entityColumns = []string{
	"id", "kind", "submitter_id", "title", "payload", "target_id",
	"status", "resolution_note", "history", "created_at", "updated_at",
}

// entityRow adds the JSONB history column to the entity.
type entityRow struct {
	model.ModeratableEntity
	HistoryJSON []byte `db:"history"`
}

func (r entityRow) toModel() (*model.ModeratableEntity, error) {
	e := r.ModeratableEntity
	if len(r.HistoryJSON) > 0 {
		if err := json.Unmarshal(r.HistoryJSON, &e.History); err != nil {
			return nil, fmt.Errorf("failed to decode history of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

type entityRepository struct {
	BaseRepository
}

func NewEntityRepository(base BaseRepository) repository.EntityRepository {
	return &entityRepository{base}
}

func (r *entityRepository) Create(ctx context.Context, entity *model.ModeratableEntity) error {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	history, err := encodeHistory(entity.History)
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("moderation_entities").
		Columns(entityColumns...).
		Values(entity.ID, entity.Kind, entity.SubmitterID, entity.Title, entity.Payload, entity.TargetID,
			entity.Status, entity.ResolutionNote, history, entity.CreatedAt, entity.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return mapError("entity", err)
	}
	return nil
}

func (r *entityRepository) Get(ctx context.Context, id uuid.UUID) (*model.ModeratableEntity, error) {
	query, args, err := psql.Select(entityColumns...).
		From("moderation_entities").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	var row entityRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, mapError("entity", err)
	}
	return row.toModel()
}

func (r *entityRepository) Update(ctx context.Context, entity *model.ModeratableEntity, from model.Status) error {
	history, err := encodeHistory(entity.History)
	if err != nil {
		return err
	}
	entity.UpdatedAt = time.Now().UTC()

	query, args, err := psql.Update("moderation_entities").
		Set("status", entity.Status).
		Set("resolution_note", entity.ResolutionNote).
		Set("history", history).
		Set("updated_at", entity.UpdatedAt).
		Where(sq.Eq{"id": entity.ID, "status": from}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError("entity", err)
	}
	if err := expectOne("entity", res); err != nil {
		if !errors.HasCode(err, errors.ErrNotFound) {
			return err
		}
		// Nothing matched: either the row is gone or another writer moved it.
		current, getErr := r.Get(ctx, entity.ID)
		if getErr != nil {
			return getErr
		}
		return errors.Conflict(fmt.Sprintf("entity is %s, not %s", current.Status, from), nil)
	}
	return nil
}

func (r *entityRepository) List(ctx context.Context, filter model.EntityFilter) ([]*model.ModeratableEntity, error) {
	query, args, err := entityListQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	var rows []entityRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError("entity", err)
	}

	out := make([]*model.ModeratableEntity, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func entityListQuery(filter model.EntityFilter) sq.SelectBuilder {
	q := psql.Select(entityColumns...).
		From("moderation_entities").
		OrderBy("created_at ASC", "id ASC")

	if filter.Kind != "" {
		q = q.Where(sq.Eq{"kind": filter.Kind})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}
	if filter.SubmitterID != uuid.Nil {
		q = q.Where(sq.Eq{"submitter_id": filter.SubmitterID})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q
}

// encodeHistory returns text so lib/pq sends it as json rather than bytea.
func encodeHistory(h []model.StatusChange) (string, error) {
	if h == nil {
		h = []model.StatusChange{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("failed to encode history: %w", err)
	}
	return string(b), nil
}
