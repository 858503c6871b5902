package stream

import (
	"context"
	"sync"
	"time"
)

// EventType names what happened to an election.
type EventType string

const (
	EventVoteCast         EventType = "vote_cast"
	EventStatusChanged    EventType = "status_changed"
	EventResultsPublished EventType = "results_published"
)

// Event is a live update about one election. Vote events never carry the
// chosen candidate.
type Event struct {
	Type       EventType `json:"type"`
	ElectionID string    `json:"election_id"`
	Status     string    `json:"status,omitempty"`
	Anonymous  bool      `json:"anonymous,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type subscriber struct {
	electionID string
	ch         chan Event
}

// Stream fan-outs election events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for electionID, or for every election
// when electionID is empty. The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, electionID string) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{electionID: electionID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to matching subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.electionID != "" && sub.electionID != evt.ElectionID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the number of open subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
