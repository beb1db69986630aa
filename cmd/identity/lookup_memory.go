package identity

import (
	"context"
	"strings"
	"sync"
)

// MemoryLookup is an in-process Lookup for dev mode and tests.
type MemoryLookup struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryLookup constructs an empty MemoryLookup.
func NewMemoryLookup() *MemoryLookup {
	return &MemoryLookup{users: make(map[string]User)}
}

// Put adds or replaces a user.
func (l *MemoryLookup) Put(u User) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users[u.ID] = u
}

// Delete removes a user if present.
func (l *MemoryLookup) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, id)
}

// FindByID resolves a user by id.
func (l *MemoryLookup) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(id) == "" {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	u, ok := l.users[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, nil
}
