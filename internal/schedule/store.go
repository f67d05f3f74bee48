package schedule

import (
	"context"
	"sync"
	"time"
)

// Store is the durable per-date list of events. Get on a date with no events
// returns an empty DaySchedule, not an error; errors mean the store itself
// could not be queried.
type Store interface {
	Get(ctx context.Context, date string) (DaySchedule, error)

	// Replace atomically swaps the whole schedule for s.Date after validation.
	Replace(ctx context.Context, s DaySchedule) error

	// AddEvent validates the resulting schedule before persisting the event.
	AddEvent(ctx context.Context, date string, e Event) error

	RemoveEvent(ctx context.Context, date, assetRef string, start time.Time) error
}

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	days map[string][]Event
}

// NewMemoryStore returns a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[string][]Event)}
}

// Get implements Store.Get.
func (m *MemoryStore) Get(_ context.Context, date string) (DaySchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.days[date]
	out := make([]Event, len(events))
	copy(out, events)
	return DaySchedule{Date: date, Events: out}, nil
}

// Replace implements Store.Replace.
func (m *MemoryStore) Replace(_ context.Context, s DaySchedule) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[s.Date] = s.Sorted()
	return nil
}

// AddEvent implements Store.AddEvent.
func (m *MemoryStore) AddEvent(_ context.Context, date string, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := DaySchedule{Date: date, Events: append(append([]Event(nil), m.days[date]...), e)}
	if err := next.Validate(); err != nil {
		return err
	}
	m.days[date] = next.Sorted()
	return nil
}

// RemoveEvent implements Store.RemoveEvent.
func (m *MemoryStore) RemoveEvent(_ context.Context, date, assetRef string, start time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.days[date]
	for i, e := range events {
		if e.AssetRef == assetRef && e.Start.Equal(start) {
			m.days[date] = append(events[:i:i], events[i+1:]...)
			return nil
		}
	}
	return ErrEventNotFound
}
