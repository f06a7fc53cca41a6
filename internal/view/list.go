package view

import (
	"sort"
	"time"

	"attendboard/internal/model"
)

// ListItem is one row of the event list.
type ListItem struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Location string `json:"location"`
}

// SortedList orders events ascending by (date, time). The sort is stable,
// so events with equal keys keep their input order. Events whose date or
// time cannot be parsed go last, in input order.
func SortedList(events []model.Event) []ListItem {
	type keyed struct {
		ev    model.Event
		start time.Time
		ok    bool
	}
	rows := make([]keyed, len(events))
	for i, ev := range events {
		start, ok := ev.Start(time.UTC)
		rows[i] = keyed{ev: ev, start: start, ok: ok}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.ok != b.ok {
			return a.ok
		}
		return a.start.Before(b.start)
	})

	out := make([]ListItem, len(rows))
	for i, r := range rows {
		out[i] = ListItem{
			ID:       r.ev.ID,
			Name:     r.ev.Name,
			Date:     r.ev.Date,
			Time:     r.ev.Time,
			Location: r.ev.Location,
		}
	}
	return out
}
