package models

import "time"

// Event is a busy block read from an external calendar, normalized to UTC.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID      string    `json:"ID"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Overlaps reports whether any part of the event falls inside w.
func (e Event) Overlaps(w Window) bool {
	return e.Start.Before(w.End) && e.End.After(w.Start)
}

// Window is the UTC time range a meeting's availability grid covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// StartKey and EndKey are the canonical string forms stored with a sync cursor.
// Cursor reuse compares these strings exactly.
func (w Window) StartKey() string { return w.Start.UTC().Format(time.RFC3339) }

func (w Window) EndKey() string { return w.End.UTC().Format(time.RFC3339) }

// SyncCursor is the last successfully synchronized window for one
// (user, meeting, provider) triple, together with the provider-issued
// continuation cursor (Google sync token or Microsoft delta link).
type SyncCursor struct {
	UserID         int64
	MeetingID      int64
	Provider       ProviderType
	PrevRangeStart string
	PrevRangeEnd   string
	SyncToken      string
	Events         []Event
}

// Matches reports whether the cursor was recorded for exactly the window w.
func (c *SyncCursor) Matches(w Window) bool {
	return c.PrevRangeStart == w.StartKey() && c.PrevRangeEnd == w.EndKey()
}

// CreatedEventLink records the event this service created in a respondent's
// external calendar for a scheduled meeting.
type CreatedEventLink struct {
	RespondentID    int64
	MeetingID       int64
	UserID          int64
	Provider        ProviderType
	ExternalEventID string
}
