package view

import (
	"sync"
	"time"

	appLog "attendboard/internal/log"
	"attendboard/internal/model"
	"attendboard/internal/session"
)

// EventSource is the EventStore as seen by the views.
type EventSource interface {
	List() []model.Event
	Subscribe(fn func([]model.Event))
}

// SessionSource is the session manager as seen by the views.
type SessionSource interface {
	Active() (session.State, bool)
	Subscribe(fn func())
}

// Dashboard is one consistent derivation of every view. Version grows by
// one on each re-derivation.
type Dashboard struct {
	Version  uint64     `json:"version"`
	Calendar Grid       `json:"calendar"`
	List     []ListItem `json:"list"`
	Popup    *PopupView `json:"popup"`
}

// Synchronizer re-derives the Dashboard whenever the EventStore is
// replaced, a session changes, or the displayed month moves. The month is
// its only state of its own.
type Synchronizer struct {
	events    EventSource
	sessions  SessionSource
	loc       *time.Location
	weekStart time.Weekday
	now       func() time.Time

	mu    sync.RWMutex
	year  int
	month time.Month
	dash  Dashboard
}

// NewSynchronizer starts on the current month in loc and subscribes to
// both sources.
func NewSynchronizer(events EventSource, sessions SessionSource, loc *time.Location, weekStart time.Weekday, now func() time.Time) *Synchronizer {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	today := now().In(loc)
	s := &Synchronizer{
		events:    events,
		sessions:  sessions,
		loc:       loc,
		weekStart: weekStart,
		now:       now,
		year:      today.Year(),
		month:     today.Month(),
	}
	s.Rebuild()
	events.Subscribe(func([]model.Event) { s.Rebuild() })
	sessions.Subscribe(s.Rebuild)
	return s
}

// Dashboard returns the latest derivation.
func (s *Synchronizer) Dashboard() Dashboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dash
}

// ShiftMonth moves the displayed month by delta (negative goes back).
// Event data is untouched.
func (s *Synchronizer) ShiftMonth(delta int) Dashboard {
	s.mu.Lock()
	t := time.Date(s.year, s.month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	s.year, s.month = t.Year(), t.Month()
	s.rebuildLocked()
	d := s.dash
	s.mu.Unlock()
	return d
}

// SetMonth jumps to a specific month.
func (s *Synchronizer) SetMonth(year int, month time.Month) Dashboard {
	s.mu.Lock()
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	s.year, s.month = t.Year(), t.Month()
	s.rebuildLocked()
	d := s.dash
	s.mu.Unlock()
	return d
}

// Rebuild re-derives every view from the current sources.
func (s *Synchronizer) Rebuild() {
	s.mu.Lock()
	s.rebuildLocked()
	s.mu.Unlock()
}

func (s *Synchronizer) rebuildLocked() {
	events := s.events.List()
	today := s.now().In(s.loc)

	d := Dashboard{
		Version:  s.dash.Version + 1,
		Calendar: MonthGrid(events, s.year, s.month, s.weekStart, today),
		List:     SortedList(events),
	}

	if st, ok := s.sessions.Active(); ok {
		for _, ev := range events {
			if ev.ID == st.EventID {
				p := Popup(ev, st)
				d.Popup = &p
				break
			}
		}
	}
	s.dash = d
	appLog.Debug("dashboard rebuilt", "version", d.Version, "events", len(events), "popup", d.Popup != nil)
}
