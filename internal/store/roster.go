package store

import (
	"context"
	"fmt"
	"sync"

	appLog "attendboard/internal/log"
	"attendboard/internal/model"
)

// StudentFetcher loads the student roster.
type StudentFetcher interface {
	ListStudents(ctx context.Context) ([]model.Student, error)
}

// Roster caches the student list for lookups (parent view, roster names).
type Roster struct {
	fetcher StudentFetcher

	mu       sync.RWMutex
	students []model.Student
	byID     map[int]model.Student
}

func NewRoster(fetcher StudentFetcher) *Roster {
	return &Roster{fetcher: fetcher, byID: map[int]model.Student{}}
}

func (r *Roster) List() []model.Student {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Student(nil), r.students...)
}

func (r *Roster) FindByID(id int) (model.Student, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *Roster) Replace(students []model.Student) {
	next := append([]model.Student(nil), students...)
	idx := make(map[int]model.Student, len(next))
	for _, s := range next {
		idx[s.ID] = s
	}
	r.mu.Lock()
	r.students = next
	r.byID = idx
	r.mu.Unlock()
}

func (r *Roster) Refresh(ctx context.Context) error {
	students, err := r.fetcher.ListStudents(ctx)
	if err != nil {
		return fmt.Errorf("refresh students: %w", err)
	}
	r.Replace(students)
	appLog.Debug("roster refreshed", "students", len(students))
	return nil
}
