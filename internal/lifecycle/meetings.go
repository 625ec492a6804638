package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kaarna/internal/models"
)

// MeetingStore is the meeting persistence driven by Meetings.
type MeetingStore interface {
	GetMeeting(ctx context.Context, meetingID int64) (*models.Meeting, error)
	UpdateMeeting(ctx context.Context, m *models.Meeting) error
	DeleteMeeting(ctx context.Context, meetingID int64) error
	AddRespondent(ctx context.Context, meetingID, userID int64) (int64, error)
	GetRespondentByUser(ctx context.Context, meetingID, userID int64) (*models.Respondent, error)
	DeleteRespondent(ctx context.Context, respondentID int64) error
}

// Meetings applies meeting changes and publishes the matching events.
type Meetings struct {
	logger *slog.Logger
	store  MeetingStore
	bus    *Bus
}

func NewMeetings(logger *slog.Logger, store MeetingStore, bus *Bus) *Meetings {
	return &Meetings{logger: logger, store: store, bus: bus}
}

// publish logs subscriber failures; the meeting change itself has already
// been committed.
func (m *Meetings) publish(ctx context.Context, ev Event) {
	if err := m.bus.Publish(ctx, ev); err != nil {
		m.logger.Error("Lifecycle subscriber failed", "kind", ev.Kind, "meetingID", ev.MeetingID, "error", err)
	}
}

func (m *Meetings) Get(ctx context.Context, meetingID int64) (*models.Meeting, error) {
	return m.store.GetMeeting(ctx, meetingID)
}

// Schedule sets the meeting's time slot.
func (m *Meetings) Schedule(ctx context.Context, meetingID int64, start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("scheduled end %s is not after start %s", end, start)
	}
	meeting, err := m.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	kind := MeetingScheduled
	if meeting.IsScheduled() {
		kind = MeetingRescheduled
	}
	start, end = start.UTC(), end.UTC()
	meeting.ScheduledStart, meeting.ScheduledEnd = &start, &end
	if err := m.store.UpdateMeeting(ctx, meeting); err != nil {
		return err
	}
	m.publish(ctx, Event{Kind: kind, MeetingID: meetingID})
	return nil
}

func (m *Meetings) Unschedule(ctx context.Context, meetingID int64) error {
	meeting, err := m.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if !meeting.IsScheduled() {
		return nil
	}
	meeting.ScheduledStart, meeting.ScheduledEnd = nil, nil
	if err := m.store.UpdateMeeting(ctx, meeting); err != nil {
		return err
	}
	m.publish(ctx, Event{Kind: MeetingUnscheduled, MeetingID: meetingID})
	return nil
}

// Edit saves changed meeting details. Scheduled meetings notify subscribers
// so that mirrored events pick up the new name and description.
func (m *Meetings) Edit(ctx context.Context, meeting *models.Meeting) error {
	if err := m.store.UpdateMeeting(ctx, meeting); err != nil {
		return err
	}
	if meeting.IsScheduled() {
		m.publish(ctx, Event{Kind: MeetingEdited, MeetingID: meeting.ID})
	}
	return nil
}

// Delete removes external events first, then the meeting.
func (m *Meetings) Delete(ctx context.Context, meetingID int64) error {
	m.publish(ctx, Event{Kind: MeetingDeleting, MeetingID: meetingID})
	return m.store.DeleteMeeting(ctx, meetingID)
}

// AddRespondent registers the user as a respondent of the meeting.
func (m *Meetings) AddRespondent(ctx context.Context, meetingID, userID int64) (int64, error) {
	respondentID, err := m.store.AddRespondent(ctx, meetingID, userID)
	if err != nil {
		return 0, err
	}
	m.publish(ctx, Event{Kind: RespondentJoined, MeetingID: meetingID, RespondentID: respondentID})
	return respondentID, nil
}

// RemoveRespondent removes the respondent's external events, then the
// respondent.
func (m *Meetings) RemoveRespondent(ctx context.Context, meetingID, userID int64) error {
	r, err := m.store.GetRespondentByUser(ctx, meetingID, userID)
	if err != nil {
		return err
	}
	m.publish(ctx, Event{Kind: RespondentLeaving, MeetingID: meetingID, RespondentID: r.ID})
	return m.store.DeleteRespondent(ctx, r.ID)
}
