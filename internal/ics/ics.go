// Package ics renders reconciled calendar events as an iCalendar feed.
package ics

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"kaarna/internal/models"
)

// Encode writes events as a single VCALENDAR with one VEVENT each.
func Encode(w io.Writer, events []models.Event, prodID string) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	stamp := time.Now().UTC()
	for i := range events {
		cal.Children = append(cal.Children, toVEvent(&events[i], stamp))
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode events to iCal format: %w", err)
	}
	return nil
}

func toVEvent(event *models.Event, stamp time.Time) *ical.Component {
	uid := event.ID
	if uid == "" {
		uid = uuid.New().String()
	}
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	if event.Summary != "" {
		ve.Props.SetText(ical.PropSummary, event.Summary)
	}
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	ve.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	return ve
}
