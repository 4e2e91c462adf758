package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryEventStore keeps events in process memory. Used by tests and by
// runs started without a history database.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]RunEvent
}

// NewInMemoryEventStore creates an empty store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[uuid.UUID][]RunEvent)}
}

func (s *InMemoryEventStore) Append(_ context.Context, runID uuid.UUID, eventType string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[runID] = append(s.events[runID], RunEvent{
		ID:          uuid.New(),
		RunID:       runID,
		SequenceNum: int64(len(s.events[runID]) + 1),
		EventType:   eventType,
		EventData:   raw,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (s *InMemoryEventStore) GetEvents(_ context.Context, runID uuid.UUID) ([]RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RunEvent(nil), s.events[runID]...), nil
}

func (s *InMemoryEventStore) GetTimeline(ctx context.Context, runID uuid.UUID) (*MaterializedRun, error) {
	events, _ := s.GetEvents(ctx, runID)
	m := materialize(events)
	if m == nil {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *InMemoryEventStore) ListRuns(_ context.Context, filter RunFilter) ([]MaterializedRun, error) {
	s.mu.RLock()
	var results []MaterializedRun
	for _, events := range s.events {
		m := materialize(append([]RunEvent(nil), events...))
		if m != nil && filter.matches(m) {
			results = append(results, *m)
		}
	}
	s.mu.RUnlock()
	return filter.page(results), nil
}
