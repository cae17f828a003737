package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"plantops.org/internal/ids"
)

// UserStore describes persistence operations required by the identity service.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
	CountByRole(ctx context.Context, role Role) (int, error)
}

// InMemoryUsers implements UserStore with in-process concurrency safety.
type InMemoryUsers struct {
	mu    sync.RWMutex
	users map[string]*User // id -> user
}

// NewInMemoryUsers creates an empty user store.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{users: make(map[string]*User)}
}

func (s *InMemoryUsers) Create(ctx context.Context, u *User) error {
	username := strings.TrimSpace(strings.ToLower(u.Username))
	if username == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == username {
			return ErrAlreadyExists
		}
	}
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Username = username
	u.CreatedAt = now
	u.UpdatedAt = now
	stored := *u
	s.users[u.ID] = &stored
	return nil
}

func (s *InMemoryUsers) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *InMemoryUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryUsers) List(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		copied := *u
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryUsers) Update(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	stored := *u
	s.users[u.ID] = &stored
	return nil
}

func (s *InMemoryUsers) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *InMemoryUsers) CountByRole(ctx context.Context, role Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}
