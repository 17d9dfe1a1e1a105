package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/pkg/errors"
)

// UserDirectory is a static directory, usually seeded from configuration.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]model.User
}

func NewUserDirectory(users ...model.User) *UserDirectory {
	d := &UserDirectory{users: make(map[uuid.UUID]model.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Add inserts or replaces a directory entry.
func (d *UserDirectory) Add(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *UserDirectory) Lookup(_ context.Context, id uuid.UUID) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, errors.NotFound("user", nil)
	}
	return &u, nil
}

// Users returns every entry ordered by id.
func (d *UserDirectory) Users(_ context.Context) ([]*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*model.User, 0, len(d.users))
	for _, u := range d.users {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}
