package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	cp.Details = copyDetails(entry.Details)
	s.entries = append(s.entries, cp)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if f.Matches(s.entries[i]) {
			matched = append(matched, s.entries[i])
		}
	}
	total := len(matched)
	start := f.Offset()
	if start >= total {
		return []Entry{}, total, nil
	}
	end := start + f.PageSize
	if f.PageSize <= 0 || end > total {
		end = total
	}
	out := make([]Entry, 0, end-start)
	for _, e := range matched[start:end] {
		e.Details = copyDetails(e.Details)
		out = append(out, e)
	}
	return out, total, nil
}

// Len reports how many entries were appended.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func copyDetails(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
