package store

import (
	"errors"
	"sync"
	"time"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
)

var (
	// ErrNotFound is returned when no events are recorded for an emitter.
	ErrNotFound = errors.New("no events for emitter")
)

// EventHistory holds the time-ordered events of one emitter.
type EventHistory struct {
	Events []emitter.DataEvent[any]
}

// MemoryStore is a concurrency-safe in-memory history of emitted data events.
type MemoryStore struct {
	mu sync.RWMutex

	// key: emitter id
	data map[string]*EventHistory

	maxHistory int           // max number of events per emitter
	maxAge     time.Duration // optional max age for events

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*EventHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Save appends an event to its emitter's history and enforces retention.
func (s *MemoryStore) Save(evt emitter.DataEvent[any]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[evt.EmitterID]
	if !ok {
		history = &EventHistory{}
		s.data[evt.EmitterID] = history
	}

	history.Events = append(history.Events, evt)

	if s.maxHistory > 0 && len(history.Events) > s.maxHistory {
		over := len(history.Events) - s.maxHistory
		history.Events = history.Events[over:]
	}

	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Events); i++ {
			if !history.Events[i].Timestamp.Before(cutoff) {
				break
			}
		}
		// the newest event is always kept
		if i == len(history.Events) {
			i--
		}
		history.Events = history.Events[i:]
	}
}

// GetLatest returns the most recent event of an emitter.
func (s *MemoryStore) GetLatest(emitterID string) (emitter.DataEvent[any], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[emitterID]
	if !ok || len(history.Events) == 0 {
		return emitter.DataEvent[any]{}, ErrNotFound
	}
	return history.Events[len(history.Events)-1], nil
}

// GetRange returns the events of an emitter captured between from and to (inclusive).
func (s *MemoryStore) GetRange(emitterID string, from, to time.Time) ([]emitter.DataEvent[any], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[emitterID]
	if !ok || len(history.Events) == 0 {
		return nil, ErrNotFound
	}

	var result []emitter.DataEvent[any]
	for _, evt := range history.Events {
		if !evt.Timestamp.Before(from) && !evt.Timestamp.After(to) {
			result = append(result, evt)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Delete drops the history of an emitter.
func (s *MemoryStore) Delete(emitterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, emitterID)
}
