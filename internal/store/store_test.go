package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"attendboard/internal/model"
)

type fakeEvents struct {
	calls   atomic.Int32
	release chan struct{}
	events  []model.Event
	err     error
}

func (f *fakeEvents) ListEvents(ctx context.Context) ([]model.Event, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.events, f.err
}

func TestReplaceNotifiesEachSubscriberOnce(t *testing.T) {
	s := NewEventStore(&fakeEvents{}, nil)
	var a, b atomic.Int32
	s.Subscribe(func([]model.Event) { a.Add(1) })
	s.Subscribe(func([]model.Event) { b.Add(1) })

	s.Replace([]model.Event{{ID: 1, Name: "one"}})

	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("notifications a=%d b=%d, want 1 each", a.Load(), b.Load())
	}
	if s.Generation() != 1 {
		t.Fatalf("generation = %d", s.Generation())
	}
}

func TestSubscriberSeesCommittedCollection(t *testing.T) {
	s := NewEventStore(&fakeEvents{}, nil)
	var seen []model.Event
	s.Subscribe(func([]model.Event) {
		// Reading back from inside the callback must not deadlock and must
		// observe the new collection.
		seen = s.List()
	})
	s.Replace([]model.Event{{ID: 4}, {ID: 5}})
	if len(seen) != 2 {
		t.Fatalf("subscriber read %d events, want 2", len(seen))
	}
}

func TestFindByIDAndListAreCopies(t *testing.T) {
	s := NewEventStore(&fakeEvents{}, nil)
	in := []model.Event{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}
	s.Replace(in)
	in[0].Name = "mutated"

	ev, ok := s.FindByID(1)
	if !ok || ev.Name != "a" {
		t.Fatalf("FindByID(1) = %+v, %v", ev, ok)
	}
	if _, ok := s.FindByID(3); ok {
		t.Fatalf("FindByID(3) should miss")
	}
	list := s.List()
	list[1].Name = "changed"
	if ev, _ := s.FindByID(2); ev.Name != "b" {
		t.Fatalf("List leaked internal storage")
	}
}

func TestReadersNeverSeeHalfUpdatedCollection(t *testing.T) {
	s := NewEventStore(&fakeEvents{}, nil)
	small := []model.Event{{ID: 1}}
	big := []model.Event{{ID: 10}, {ID: 11}, {ID: 12}}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			list := s.List()
			if len(list) == 0 {
				continue
			}
			if list[0].ID == 1 && len(list) != 1 || list[0].ID == 10 && len(list) != 3 {
				t.Errorf("observed mixed collection %+v", list)
				return
			}
		}
	}()
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			s.Replace(small)
		} else {
			s.Replace(big)
		}
	}
	close(stop)
	wg.Wait()
}

func TestRefreshCoalescesConcurrentCalls(t *testing.T) {
	f := &fakeEvents{release: make(chan struct{}), events: []model.Event{{ID: 1}}}
	s := NewEventStore(f, nil)
	var notified atomic.Int32
	s.Subscribe(func([]model.Event) { notified.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Refresh(context.Background()); err != nil {
				t.Errorf("Refresh: %v", err)
			}
		}()
	}
	// Let the goroutines pile up behind the first fetch.
	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()

	if f.calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", f.calls.Load())
	}
	if notified.Load() != 1 {
		t.Fatalf("notifications = %d, want 1", notified.Load())
	}
}

func TestRefreshFailureKeepsPreviousCollection(t *testing.T) {
	f := &fakeEvents{err: errors.New("down")}
	s := NewEventStore(f, nil)
	s.Replace([]model.Event{{ID: 9}})

	if err := s.Refresh(context.Background()); err == nil {
		t.Fatalf("Refresh should fail")
	}
	if _, ok := s.FindByID(9); !ok {
		t.Fatalf("failed refresh dropped cached events")
	}
}

type fakeStudents struct{ students []model.Student }

func (f fakeStudents) ListStudents(ctx context.Context) ([]model.Student, error) {
	return f.students, nil
}

func TestRosterRefreshAndLookup(t *testing.T) {
	r := NewRoster(fakeStudents{students: []model.Student{{ID: 3, FirstName: "Ana", LastName: "Ruiz"}}})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	s, ok := r.FindByID(3)
	if !ok || s.FullName() != "Ana Ruiz" {
		t.Fatalf("FindByID(3) = %+v, %v", s, ok)
	}
	if len(r.List()) != 1 {
		t.Fatalf("List len = %d", len(r.List()))
	}
}
