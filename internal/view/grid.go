// Package view derives what the dashboard shows (month grid, event list,
// popup, parent lookup) from the EventStore and the attendance sessions.
// Every function here is a pure derivation; the views never read from each
// other.
package view

import (
	"time"

	"attendboard/internal/model"
)

// EventRef is an event marker inside a calendar cell.
type EventRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Time string `json:"time"`
}

// Cell is one square of the month grid. Padding cells before the first and
// after the last day of the month are Empty.
type Cell struct {
	Empty  bool       `json:"empty"`
	Day    int        `json:"day,omitempty"`
	Date   string     `json:"date,omitempty"`
	Today  bool       `json:"today,omitempty"`
	Events []EventRef `json:"events,omitempty"`
}

// Grid is a month laid out in whole weeks.
type Grid struct {
	Year     int      `json:"year"`
	Month    int      `json:"month"`
	Label    string   `json:"label"`
	Weekdays []string `json:"weekdays"`
	Cells    []Cell   `json:"cells"`
}

// LeadingEmpty counts the padding cells before day 1.
func (g Grid) LeadingEmpty() int {
	n := 0
	for _, c := range g.Cells {
		if !c.Empty {
			break
		}
		n++
	}
	return n
}

var weekdayShort = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// ParseWeekStart maps a config value to a weekday. Only "monday" changes
// the default Sunday-first layout.
func ParseWeekStart(s string) time.Weekday {
	if s == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// MonthGrid lays out the given month. Events are placed on the cell whose
// date equals the event's date; events that fall outside the month or have
// an unparseable date are left out. Within a cell, events keep the order of
// the input slice.
func MonthGrid(events []model.Event, year int, month time.Month, weekStart time.Weekday, today time.Time) Grid {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	daysInMonth := first.AddDate(0, 1, -1).Day()

	g := Grid{
		Year:     first.Year(),
		Month:    int(first.Month()),
		Label:    first.Format("January 2006"),
		Weekdays: make([]string, 7),
	}
	for i := 0; i < 7; i++ {
		g.Weekdays[i] = weekdayShort[(int(weekStart)+i)%7]
	}

	byDay := make(map[int][]EventRef)
	for _, ev := range events {
		d, ok := ev.Day(time.UTC)
		if !ok || d.Year() != first.Year() || d.Month() != first.Month() {
			continue
		}
		byDay[d.Day()] = append(byDay[d.Day()], EventRef{ID: ev.ID, Name: ev.Name, Time: ev.Time})
	}

	leading := (int(first.Weekday()) - int(weekStart) + 7) % 7
	for i := 0; i < leading; i++ {
		g.Cells = append(g.Cells, Cell{Empty: true})
	}

	ty, tm, td := today.Date()
	for day := 1; day <= daysInMonth; day++ {
		date := time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
		g.Cells = append(g.Cells, Cell{
			Day:    day,
			Date:   date.Format(model.DateLayout),
			Today:  ty == first.Year() && tm == first.Month() && td == day,
			Events: byDay[day],
		})
	}

	for len(g.Cells)%7 != 0 {
		g.Cells = append(g.Cells, Cell{Empty: true})
	}
	return g
}
