// Package session tracks the attendance lifecycle of each event and the one
// session attached to the open popup.
package session

import (
	"fmt"
	"time"

	"attendboard/internal/model"
)

// Status is the attendance status of one event. Finalized is terminal.
type Status int

const (
	NotStarted Status = iota
	InProgress
	Finalized
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return model.ServerStatusNotStarted
	case InProgress:
		return model.ServerStatusInProgress
	case Finalized:
		return model.ServerStatusFinalized
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// session is the mutable per-event record. It is only touched under the
// manager lock.
type session struct {
	eventID      int
	status       Status
	statusKnown  bool
	snapshot     *model.LiveSnapshot
	countUnknown bool
	finalizing   bool
	total        *int
	updatedAt    time.Time
}

// State is a point-in-time copy of a session for rendering.
type State struct {
	EventID int
	Status  Status
	// StatusKnown is set once the server's attendance status has been
	// loaded. Until then no command may be issued.
	StatusKnown bool
	Active      bool
	Snapshot *model.LiveSnapshot
	// CountUnknown is set when the latest poll failed; the display must show
	// an explicit unknown marker instead of the last snapshot.
	CountUnknown bool
	// Finalizing is set while a finalize request is in flight.
	Finalizing bool
	// TotalAttendees is known once the session is Finalized.
	TotalAttendees *int
	UpdatedAt      time.Time
}

// Accepting reports whether check-in and check-out may be issued.
func (s State) Accepting() bool {
	return s.StatusKnown && s.Status != Finalized && !s.Finalizing
}

// CanFinalize reports whether a finalize may be issued now.
func (s State) CanFinalize() bool {
	return s.Accepting()
}

func (s *session) state(active bool) State {
	st := State{
		EventID:      s.eventID,
		Status:       s.status,
		StatusKnown:  s.statusKnown,
		Active:       active,
		CountUnknown: s.countUnknown,
		Finalizing:   s.finalizing,
		UpdatedAt:    s.updatedAt,
	}
	if s.snapshot != nil {
		snap := s.snapshot.Clone()
		st.Snapshot = &snap
	}
	if s.total != nil {
		total := *s.total
		st.TotalAttendees = &total
	}
	return st
}

// applySnapshot replaces the roster and infers InProgress from a non-empty
// one.
func (s *session) applySnapshot(snap model.LiveSnapshot, now time.Time) {
	c := snap.Clone()
	s.snapshot = &c
	s.countUnknown = false
	s.updatedAt = now
	if s.status == NotStarted && (snap.Count > 0 || len(snap.CheckedInStudents) > 0) {
		s.status = InProgress
	}
}

func (s *session) markUnknown(now time.Time) {
	s.countUnknown = true
	s.updatedAt = now
}

// adoptServerStatus moves the status forward to what the server reports.
// It never moves backwards. It reports whether anything changed.
func (s *session) adoptServerStatus(fa model.FinalizedAttendance, now time.Time) bool {
	known := s.statusKnown
	s.statusKnown = true
	switch fa.Status {
	case model.ServerStatusFinalized:
		if s.status == Finalized {
			return !known
		}
		s.status = Finalized
		if s.total == nil {
			total := fa.TotalAttendees
			s.total = &total
		}
	case model.ServerStatusInProgress:
		if s.status != NotStarted {
			return !known
		}
		s.status = InProgress
	default:
		return !known
	}
	s.updatedAt = now
	return true
}

func (s *session) finalized(total int, now time.Time) {
	s.status = Finalized
	s.statusKnown = true
	s.finalizing = false
	s.total = &total
	s.updatedAt = now
}
