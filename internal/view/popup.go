package view

import (
	"fmt"
	"strconv"

	"attendboard/internal/model"
	"attendboard/internal/session"
)

// UnknownCount is shown in place of the live count after a failed poll.
const UnknownCount = "?"

// PopupView is everything the event popup displays.
type PopupView struct {
	EventID     int    `json:"eventId"`
	Name        string `json:"name"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Location    string `json:"location"`
	Description string `json:"description,omitempty"`

	Status session.Status `json:"status"`
	// LiveCount is the checked-in count, UnknownCount after a failed poll,
	// or empty while the first poll is outstanding.
	LiveCount string                   `json:"liveCount"`
	Roster    []model.CheckedInStudent `json:"roster"`

	CanCheckIn  bool `json:"canCheckIn"`
	CanCheckOut bool `json:"canCheckOut"`
	CanFinalize bool `json:"canFinalize"`
	Finalizing  bool `json:"finalizing"`

	TotalAttendees *int   `json:"totalAttendees,omitempty"`
	Summary        string `json:"summary,omitempty"`
}

// Popup derives the popup for ev from its session state.
func Popup(ev model.Event, st session.State) PopupView {
	p := PopupView{
		EventID:     ev.ID,
		Name:        ev.Name,
		Date:        ev.Date,
		Time:        ev.Time,
		Location:    ev.Location,
		Description: ev.Description(),
		Status:      st.Status,
		Roster:      []model.CheckedInStudent{},
		CanCheckIn:  st.Accepting(),
		CanCheckOut: st.Accepting(),
		CanFinalize: st.CanFinalize(),
		Finalizing:  st.Finalizing,
	}

	switch {
	case st.CountUnknown:
		p.LiveCount = UnknownCount
	case st.Snapshot != nil:
		p.LiveCount = strconv.Itoa(st.Snapshot.Count)
		if len(st.Snapshot.CheckedInStudents) > 0 {
			p.Roster = append(p.Roster, st.Snapshot.CheckedInStudents...)
		}
	}

	if st.TotalAttendees != nil {
		total := *st.TotalAttendees
		p.TotalAttendees = &total
		p.Summary = fmt.Sprintf("Attendance finalized. Total attendees: %d", total)
	}
	return p
}
