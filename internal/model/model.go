package model

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// DateLayout is the calendar-date format the backend uses for Event.Date.
	DateLayout = "2006-01-02"
)

// Event is a scheduled youth-group event as returned by GET /events.
// Events are replaced wholesale on re-fetch; nothing edits them in place.
type Event struct {
	ID           int            `json:"eventID"`
	Name         string         `json:"name"`
	Date         string         `json:"date"`
	Time         string         `json:"time"`
	Location     string         `json:"location"`
	CustomFields map[string]any `json:"customFields,omitempty"`
}

// Day parses Event.Date in loc.
func (e Event) Day(loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(e.Date), loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Start combines Date and Time into a local timestamp. Both "15:04" and
// "15:04:05" time forms are accepted; an empty time means midnight.
func (e Event) Start(loc *time.Location) (time.Time, bool) {
	day, ok := e.Day(loc)
	if !ok {
		return time.Time{}, false
	}
	clock, ok := ParseClock(e.Time)
	if !ok {
		return time.Time{}, false
	}
	return day.Add(clock), true
}

// Description returns customFields.description when it is a string.
func (e Event) Description() string {
	if e.CustomFields == nil {
		return ""
	}
	if s, ok := e.CustomFields["description"].(string); ok {
		return s
	}
	return ""
}

// ParseClock parses a time-of-day into an offset from midnight.
func ParseClock(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

// NewEvent is the create-event payload (POST /events). The backend assigns
// the id.
type NewEvent struct {
	Name         string         `json:"name" validate:"required,max=200"`
	Date         string         `json:"date" validate:"required,datetime=2006-01-02"`
	Time         string         `json:"time" validate:"required,eventclock"`
	Location     string         `json:"location" validate:"required,max=200"`
	CustomFields map[string]any `json:"customFields,omitempty"`
}

// Student is a roster entry from GET /students. Read-only on the client.
type Student struct {
	ID          int      `json:"studentID"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	Age         int      `json:"age"`
	Phone       string   `json:"phone,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Email       string   `json:"email,omitempty"`
	GroupID     int      `json:"groupID"`
	Guardians   []string `json:"guardians"`
}

func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// ContactPhone prefers Phone and falls back to the legacy phoneNumber field.
func (s Student) ContactPhone() string {
	if s.Phone != "" {
		return s.Phone
	}
	return s.PhoneNumber
}

// AttendanceRecord is one finalized attendance entry from
// GET /attendance/{studentId}.
type AttendanceRecord struct {
	StudentID    int     `json:"studentID"`
	EventName    string  `json:"eventName"`
	Date         string  `json:"date"`
	CheckInTime  string  `json:"checkInTime"`
	CheckOutTime *string `json:"checkOutTime,omitempty"`
}

func (r AttendanceRecord) Completed() bool {
	return r.CheckOutTime != nil && *r.CheckOutTime != ""
}

// CheckedInStudent is one roster line of a live snapshot.
type CheckedInStudent struct {
	StudentID int    `json:"studentID"`
	Name      string `json:"name"`
}

// LiveSnapshot is the full live roster (GET /events/{id}/live). Each poll
// replaces the previous snapshot entirely.
type LiveSnapshot struct {
	Count             int                `json:"count"`
	CheckedInStudents []CheckedInStudent `json:"checkedInStudents"`
}

// Clone returns a deep copy so readers never share the roster slice.
func (s LiveSnapshot) Clone() LiveSnapshot {
	out := LiveSnapshot{Count: s.Count}
	if s.CheckedInStudents != nil {
		out.CheckedInStudents = append([]CheckedInStudent(nil), s.CheckedInStudents...)
	}
	return out
}

// Server-side attendance status values of GET /events/{id}/attendance.
const (
	ServerStatusNotStarted = "not_started"
	ServerStatusInProgress = "in_progress"
	ServerStatusFinalized  = "finalized"
)

// FinalizedAttendance is the GET /events/{id}/attendance response.
type FinalizedAttendance struct {
	Status         string            `json:"status"`
	Message        string            `json:"message,omitempty"`
	Registered     []json.RawMessage `json:"registered"`
	WalkIns        []json.RawMessage `json:"walkIns"`
	TotalAttendees int               `json:"totalAttendees"`
}

// CheckOutResult carries duration_minutes exactly as the server sent it.
type CheckOutResult struct {
	DurationMinutes json.Number `json:"duration_minutes"`
}

// FinalizeResult is the POST /events/{id}/finalize response.
type FinalizeResult struct {
	TotalAttendees  int `json:"totalAttendees"`
	TotalRegistered int `json:"totalRegistered"`
	TotalWalkIns    int `json:"totalWalkIns"`
}
