package classes

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	classes map[string]Class
}

func NewInMemory() *InMemory {
	return &InMemory{classes: make(map[string]Class)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) CreateClass(ctx context.Context, c *Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(c.Name, "") {
		return ErrDuplicateName
	}
	s.classes[c.ID] = *c
	return nil
}

func (s *InMemory) GetClass(ctx context.Context, id string) (Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[id]
	if !ok {
		return Class{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemory) ListClasses(ctx context.Context) ([]Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Class, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) UpdateClass(ctx context.Context, c Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[c.ID]; !ok {
		return ErrNotFound
	}
	if s.nameTaken(c.Name, c.ID) {
		return ErrDuplicateName
	}
	s.classes[c.ID] = c
	return nil
}

func (s *InMemory) DeleteClass(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[id]; !ok {
		return ErrNotFound
	}
	delete(s.classes, id)
	return nil
}

func (s *InMemory) nameTaken(name, exceptID string) bool {
	for id, c := range s.classes {
		if id != exceptID && strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}
