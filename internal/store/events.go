// Package store holds the process-wide caches the dashboard renders from:
// the event collection and the student roster. Both are replaced wholesale;
// the backend owns the data and the client never merges deltas.
package store

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	appLog "attendboard/internal/log"
	"attendboard/internal/metrics"
	"attendboard/internal/model"
)

// EventFetcher loads the full event collection.
type EventFetcher interface {
	ListEvents(ctx context.Context) ([]model.Event, error)
}

// EventStore is the single source of truth for every view.
type EventStore struct {
	fetcher EventFetcher
	metrics *metrics.Metrics

	mu     sync.RWMutex
	events []model.Event
	byID   map[int]int
	gen    uint64

	subMu sync.Mutex
	subs  []func([]model.Event)

	// notifyMu serialises deliveries so subscribers see replacements in
	// the order they were committed.
	notifyMu sync.Mutex

	refresh singleflight.Group
}

func NewEventStore(fetcher EventFetcher, m *metrics.Metrics) *EventStore {
	return &EventStore{
		fetcher: fetcher,
		metrics: m,
		byID:    map[int]int{},
	}
}

// List returns a copy of the cached collection. It never fetches.
func (s *EventStore) List() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Event(nil), s.events...)
}

func (s *EventStore) FindByID(id int) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return model.Event{}, false
	}
	return s.events[i], true
}

// Generation counts completed replacements.
func (s *EventStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Subscribe registers fn to be called once per Replace with the new
// collection. fn runs outside the store lock and may read the store.
func (s *EventStore) Subscribe(fn func([]model.Event)) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

// Replace swaps the cached collection atomically and notifies every
// subscriber exactly once.
func (s *EventStore) Replace(events []model.Event) {
	next := append([]model.Event(nil), events...)
	idx := make(map[int]int, len(next))
	for i, ev := range next {
		if _, dup := idx[ev.ID]; dup {
			appLog.Warn("duplicate event id in replacement; keeping first", "event_id", ev.ID)
			continue
		}
		idx[ev.ID] = i
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.events = next
	s.byID = idx
	s.gen++
	s.mu.Unlock()

	s.metrics.StoreReplaced(len(next))

	s.subMu.Lock()
	subs := append([]func([]model.Event){}, s.subs...)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(append([]model.Event(nil), next...))
	}
}

// Refresh re-fetches /events and replaces the collection. Concurrent calls
// share one fetch. On failure the cached collection is left untouched.
func (s *EventStore) Refresh(ctx context.Context) error {
	_, err, shared := s.refresh.Do("events", func() (any, error) {
		events, err := s.fetcher.ListEvents(ctx)
		if err != nil {
			return nil, err
		}
		s.Replace(events)
		return nil, nil
	})
	if err != nil {
		appLog.Error("event store refresh failed", err, "shared", shared)
		return fmt.Errorf("refresh events: %w", err)
	}
	appLog.Debug("event store refreshed", "shared", shared)
	return nil
}
