package users

import (
	"context"
	"fmt"
	"sync"
)

// Repository persists users
type Repository interface {
	GetUser(ctx context.Context, id string) (*User, error)
	PutUser(ctx context.Context, user *User) error
}

// MemoryRepository keeps users in process memory
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository creates an empty in-memory user repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]User)}
}

func (r *MemoryRepository) GetUser(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	c := u.Clone()
	return &c, nil
}

func (r *MemoryRepository) PutUser(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user.Clone()
	return nil
}
