package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"classvote.org/internal/auth"
)

// InMemory implements Store with in-process concurrency safety. Uniqueness
// of email and (class, roll number) is enforced under the write lock.
type InMemory struct {
	mu     sync.RWMutex
	users  map[string]User
	tokens map[string]storedToken
	refs   map[string]int
}

type storedToken struct {
	Token
	used bool
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:  make(map[string]User),
		tokens: make(map[string]storedToken),
		refs:   make(map[string]int),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnique(*u); err != nil {
		return err
	}
	s.users[u.ID] = *u
	return nil
}

func (s *InMemory) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemory) GetUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *InMemory) ListUsers(ctx context.Context, f Filter) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []User{}
	for _, u := range s.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.ClassID != "" && u.ClassID != f.ClassID {
			continue
		}
		if f.Active != nil && u.Active != *f.Active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemory) UpdateUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return ErrNotFound
	}
	if err := s.checkUnique(u); err != nil {
		return err
	}
	s.users[u.ID] = u
	return nil
}

func (s *InMemory) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// SetReferences records how many rows elsewhere point at a user. The
// database store derives this from foreign keys instead.
func (s *InMemory) SetReferences(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[id] = n
}

func (s *InMemory) CountUserReferences(ctx context.Context, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refs[id], nil
}

func (s *InMemory) CountStudentsInClass(ctx context.Context, classID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if u.Role == auth.RoleStudent && u.ClassID == classID {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) CreateToken(ctx context.Context, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Hash] = storedToken{Token: t}
	return nil
}

func (s *InMemory) ConsumeToken(ctx context.Context, hash string, purpose TokenPurpose, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok || t.used || t.Purpose != purpose || !now.Before(t.ExpiresAt) {
		return "", ErrInvalidOrExpiredToken
	}
	t.used = true
	s.tokens[hash] = t
	return t.UserID, nil
}

func (s *InMemory) checkUnique(u User) error {
	for id, other := range s.users {
		if id == u.ID {
			continue
		}
		if other.Email == u.Email {
			return ErrDuplicateEmail
		}
		if u.Role == auth.RoleStudent && u.RollNumber != "" &&
			other.ClassID == u.ClassID && other.RollNumber == u.RollNumber {
			return ErrDuplicateRollInClass
		}
	}
	return nil
}
