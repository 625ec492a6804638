package models

import "time"

// Meeting is the subset of a meeting that calendar synchronization reads.
type Meeting struct {
	ID       int64
	Name     string
	About    string
	Timezone string
	// MinStartHour and MaxEndHour are hours of the day in Timezone and may be
	// fractional (9.5 is 09:30).
	MinStartHour   float64
	MaxEndHour     float64
	TentativeDates []string // YYYY-MM-DD
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
}

// IsScheduled reports whether the meeting has a scheduled time slot.
func (m *Meeting) IsScheduled() bool {
	return m.ScheduledStart != nil && m.ScheduledEnd != nil
}

// Respondent is a participant of a meeting. Guests have no UserID.
type Respondent struct {
	ID        int64
	MeetingID int64
	UserID    *int64
	GuestName string
}
