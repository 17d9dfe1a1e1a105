package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
)

var _ repository.UserDirectory = (*UserDirectory)(nil)

type UserDirectory struct {
	BaseRepository
}

func NewUserDirectory(base BaseRepository) *UserDirectory {
	return &UserDirectory{base}
}

func (r *UserDirectory) Lookup(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `SELECT id, display_name, role FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, mapError("user", err)
	}
	return &u, nil
}

func (r *UserDirectory) Users(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	if err := r.db.SelectContext(ctx, &users, `SELECT id, display_name, role FROM users ORDER BY id::text`); err != nil {
		return nil, mapError("user", err)
	}
	return users, nil
}

// Upsert seeds or renames a directory entry.
func (r *UserDirectory) Upsert(ctx context.Context, u model.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, role) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, role = EXCLUDED.role
	`, u.ID, u.DisplayName, u.Role)
	return mapError("user", err)
}
