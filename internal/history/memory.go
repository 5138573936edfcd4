package history

import (
	"context"
	"sync"

	"indexao/pkg/capability"
	"indexao/pkg/plugin"
)

const defaultMemoryCapacity = 1000

// MemoryStore keeps the most recent events in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	events   []plugin.SwitchEvent
}

// NewMemoryStore creates a store holding at most capacity events.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Record(_ context.Context, event plugin.SwitchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, kind capability.Kind, limit int) ([]plugin.SwitchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.events, kind, normalizeLimit(limit)), nil
}

func (s *MemoryStore) Close() error { return nil }
