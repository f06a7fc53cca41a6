package view

import (
	"time"

	"attendboard/internal/model"
)

// History row states.
const (
	HistoryCompleted = "Completed"
	HistoryCheckedIn = "Checked-In"
)

// HistoryRow is one line of a student's attendance history.
type HistoryRow struct {
	EventName   string `json:"eventName"`
	Date        string `json:"date"`
	Status      string `json:"status"`
	CheckInTime string `json:"checkInTime"`
}

// ParentInfo is the parent lookup page for one student.
type ParentInfo struct {
	StudentID int          `json:"studentId"`
	Name      string       `json:"name"`
	Age       int          `json:"age"`
	Phone     string       `json:"phone,omitempty"`
	Email     string       `json:"email,omitempty"`
	Guardians []string     `json:"guardians"`
	Upcoming  []ListItem   `json:"upcoming"`
	History   []HistoryRow `json:"history"`
}

// ParentView combines a roster entry, the event list and the student's
// finalized attendance. Upcoming holds events dated today or later, sorted.
func ParentView(st model.Student, events []model.Event, history []model.AttendanceRecord, today time.Time) ParentInfo {
	info := ParentInfo{
		StudentID: st.ID,
		Name:      st.FullName(),
		Age:       st.Age,
		Phone:     st.ContactPhone(),
		Email:     st.Email,
		Guardians: append([]string{}, st.Guardians...),
		Upcoming:  []ListItem{},
		History:   make([]HistoryRow, 0, len(history)),
	}

	cutoff := today.Format(model.DateLayout)
	for _, item := range SortedList(events) {
		if item.Date >= cutoff {
			info.Upcoming = append(info.Upcoming, item)
		}
	}

	for _, rec := range history {
		row := HistoryRow{
			EventName:   rec.EventName,
			Date:        rec.Date,
			Status:      HistoryCheckedIn,
			CheckInTime: rec.CheckInTime,
		}
		if row.EventName == "" {
			row.EventName = "N/A"
		}
		if rec.Completed() {
			row.Status = HistoryCompleted
		}
		info.History = append(info.History, row)
	}
	return info
}
