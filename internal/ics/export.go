// Package ics renders the event list as an iCalendar feed so leaders can
// subscribe to the youth-group schedule from a phone calendar.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "attendboard/internal/log"
	"attendboard/internal/model"
)

// DefaultDuration is used for every timed event; the backend stores only a
// start time.
const DefaultDuration = time.Hour

const productID = "-//attendboard//event feed//EN"

// UID returns the stable iCalendar UID for an event id.
func UID(eventID int) string {
	return fmt.Sprintf("event-%d@attendboard", eventID)
}

// Export serializes events as a PUBLISH calendar. Events without a time
// become all-day entries. Events with an unparseable date are skipped.
func Export(events []model.Event, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName("Youth group events")

	skipped := 0
	for _, ev := range events {
		day, ok := ev.Day(loc)
		if !ok {
			skipped++
			continue
		}

		vev := cal.AddEvent(UID(ev.ID))
		vev.SetDtStampTime(now)
		vev.SetSummary(ev.Name)
		if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}
		if desc := ev.Description(); desc != "" {
			vev.SetDescription(desc)
		}

		if strings.TrimSpace(ev.Time) == "" {
			vev.SetAllDayStartAt(day)
			vev.SetAllDayEndAt(day.AddDate(0, 0, 1))
			continue
		}
		start, ok := ev.Start(loc)
		if !ok {
			// Keep the entry on its day rather than dropping it.
			vev.SetAllDayStartAt(day)
			vev.SetAllDayEndAt(day.AddDate(0, 0, 1))
			continue
		}
		vev.SetStartAt(start)
		vev.SetEndAt(start.Add(DefaultDuration))
	}

	if skipped > 0 {
		appLog.Warn("ics export skipped events with bad dates", "skipped", skipped)
	}
	return cal.Serialize()
}
