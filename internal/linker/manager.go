// Package linker mirrors scheduled meetings into the external calendars of
// respondents who linked one: it creates, updates and deletes one event per
// respondent and provider as the meeting changes.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"kaarna/internal/lifecycle"
	"kaarna/internal/models"
	"kaarna/internal/provider"
	"kaarna/internal/store"
)

// Store is the persistence the manager needs.
type Store interface {
	GetMeeting(ctx context.Context, meetingID int64) (*models.Meeting, error)
	ListLinkedRespondents(ctx context.Context, meetingID int64, p models.ProviderType) ([]store.LinkedRespondent, error)
	GetLinkedRespondent(ctx context.Context, respondentID int64, p models.ProviderType) (*store.LinkedRespondent, error)
	UpsertCreatedEvent(ctx context.Context, link *models.CreatedEventLink) error
	DeleteCreatedEvent(ctx context.Context, respondentID int64, p models.ProviderType) error
}

// Credentials refreshes and applies provider credentials.
type Credentials interface {
	SupportedProviders() []models.ProviderType
	Provider(t models.ProviderType) (provider.Provider, error)
	RefreshIfNecessary(ctx context.Context, p provider.Provider, cred *models.Credential) (*models.Credential, error)
	WithCredential(ctx context.Context, p provider.Provider, cred *models.Credential, call func(accessToken string) error) error
}

// Manager keeps created events in sync with meeting lifecycle events.
type Manager struct {
	logger     *slog.Logger
	store      Store
	creds      Credentials
	dispatcher *Dispatcher
	publicURL  string
}

func NewManager(logger *slog.Logger, store Store, creds Credentials, dispatcher *Dispatcher, publicURL string) *Manager {
	return &Manager{
		logger:     logger,
		store:      store,
		creds:      creds,
		dispatcher: dispatcher,
		publicURL:  strings.TrimSuffix(publicURL, "/"),
	}
}

// Subscribe registers the manager on bus.
func (m *Manager) Subscribe(bus *lifecycle.Bus) {
	bus.Subscribe(m.Handle)
}

// Handle reacts to a lifecycle event. Work for one meeting runs in the order
// its events arrive. Deletions wait for that meeting's queued work and run
// before Handle returns so that the caller can delete the rows afterwards;
// everything else is dispatched in the background.
func (m *Manager) Handle(ctx context.Context, ev lifecycle.Event) error {
	switch ev.Kind {
	case lifecycle.MeetingScheduled, lifecycle.MeetingRescheduled, lifecycle.MeetingEdited:
		m.dispatcher.Go(ctx, ev.MeetingID, "sync meeting events", func(ctx context.Context) error {
			return m.SyncMeeting(ctx, ev.MeetingID)
		})
	case lifecycle.MeetingUnscheduled:
		m.dispatcher.Go(ctx, ev.MeetingID, "delete meeting events", func(ctx context.Context) error {
			return m.DeleteMeetingEvents(ctx, ev.MeetingID)
		})
	case lifecycle.MeetingDeleting:
		if err := m.dispatcher.WaitFor(ctx, ev.MeetingID); err != nil {
			return err
		}
		return m.DeleteMeetingEvents(ctx, ev.MeetingID)
	case lifecycle.RespondentJoined:
		m.dispatcher.Go(ctx, ev.MeetingID, "sync respondent events", func(ctx context.Context) error {
			return m.SyncRespondent(ctx, ev.MeetingID, ev.RespondentID)
		})
	case lifecycle.RespondentLeaving:
		if err := m.dispatcher.WaitFor(ctx, ev.MeetingID); err != nil {
			return err
		}
		return m.DeleteRespondentEvents(ctx, ev.RespondentID)
	}
	return nil
}

// SyncMeeting creates or updates the event of every linked respondent of a
// scheduled meeting.
func (m *Manager) SyncMeeting(ctx context.Context, meetingID int64) error {
	meeting, err := m.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("failed to load meeting %d: %w", meetingID, err)
	}
	if !meeting.IsScheduled() {
		return nil
	}
	var errs []error
	for _, t := range m.creds.SupportedProviders() {
		p, err := m.creds.Provider(t)
		if err != nil {
			continue
		}
		respondents, err := m.store.ListLinkedRespondents(ctx, meetingID, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.fanOut("create or update event", t, respondents, func(lr *store.LinkedRespondent) error {
			return m.createOrUpdate(ctx, p, meeting, lr)
		})
	}
	return errors.Join(errs...)
}

// SyncRespondent creates the event of one respondent who joined a scheduled
// meeting.
func (m *Manager) SyncRespondent(ctx context.Context, meetingID, respondentID int64) error {
	meeting, err := m.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("failed to load meeting %d: %w", meetingID, err)
	}
	if !meeting.IsScheduled() {
		return nil
	}
	var errs []error
	for _, t := range m.creds.SupportedProviders() {
		p, err := m.creds.Provider(t)
		if err != nil {
			continue
		}
		lr, err := m.store.GetLinkedRespondent(ctx, respondentID, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if lr == nil {
			continue
		}
		if err := m.createOrUpdate(ctx, p, meeting, lr); err != nil {
			m.logger.Error("Failed to create event for respondent", "respondentID", respondentID, "provider", t, "error", err)
		}
	}
	return errors.Join(errs...)
}

// DeleteMeetingEvents deletes the event of every respondent of the meeting
// and forgets the links once all deletions have completed.
func (m *Manager) DeleteMeetingEvents(ctx context.Context, meetingID int64) error {
	var errs []error
	for _, t := range m.creds.SupportedProviders() {
		p, err := m.creds.Provider(t)
		if err != nil {
			continue
		}
		respondents, err := m.store.ListLinkedRespondents(ctx, meetingID, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		withEvents := respondents[:0]
		for _, lr := range respondents {
			if lr.ExternalEventID != "" {
				withEvents = append(withEvents, lr)
			}
		}
		m.fanOut("delete event", t, withEvents, func(lr *store.LinkedRespondent) error {
			return m.deleteEvent(ctx, p, lr)
		})
		for _, lr := range withEvents {
			if err := m.store.DeleteCreatedEvent(ctx, lr.RespondentID, t); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// DeleteRespondentEvents deletes the events created for one respondent.
func (m *Manager) DeleteRespondentEvents(ctx context.Context, respondentID int64) error {
	var errs []error
	for _, t := range m.creds.SupportedProviders() {
		p, err := m.creds.Provider(t)
		if err != nil {
			continue
		}
		lr, err := m.store.GetLinkedRespondent(ctx, respondentID, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if lr == nil || lr.ExternalEventID == "" {
			continue
		}
		if err := m.deleteEvent(ctx, p, lr); err != nil {
			m.logger.Error("Failed to delete event for respondent", "respondentID", respondentID, "provider", t, "error", err)
		}
		if err := m.store.DeleteCreatedEvent(ctx, respondentID, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fanOut runs fn for every respondent concurrently and waits for all of
// them. One failure does not affect the others.
func (m *Manager) fanOut(action string, t models.ProviderType, respondents []store.LinkedRespondent, fn func(lr *store.LinkedRespondent) error) {
	var wg sync.WaitGroup
	for i := range respondents {
		lr := &respondents[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(lr); err != nil {
				m.logger.Error("Calendar update failed", "action", action, "provider", t,
					"respondentID", lr.RespondentID, "userID", lr.Credential.UserID, "error", err)
			}
		}()
	}
	wg.Wait()
}

func (m *Manager) meetingEvent(meeting *models.Meeting) provider.MeetingEvent {
	return provider.MeetingEvent{
		Summary:     meeting.Name,
		Description: meeting.About,
		Start:       *meeting.ScheduledStart,
		End:         *meeting.ScheduledEnd,
		SourceURL:   m.publicURL + "/m/" + strconv.FormatInt(meeting.ID, 10),
	}
}

// createOrUpdate writes the meeting event into the respondent's calendar.
// A previously created event that no longer exists is created anew.
func (m *Manager) createOrUpdate(ctx context.Context, p provider.Provider, meeting *models.Meeting, lr *store.LinkedRespondent) error {
	cred, err := m.creds.RefreshIfNecessary(ctx, p, &lr.Credential)
	if err != nil {
		return err
	}
	ev := m.meetingEvent(meeting)
	eventID := lr.ExternalEventID
	err = m.creds.WithCredential(ctx, p, cred, func(accessToken string) error {
		if eventID != "" {
			err := p.UpdateEvent(ctx, accessToken, eventID, ev)
			if err == nil || !provider.IsNotFound(err) {
				return err
			}
			m.logger.Info("Created event no longer exists, creating a new one", "eventID", eventID, "provider", p.Type())
		}
		newID, err := p.CreateEvent(ctx, accessToken, ev)
		if err != nil {
			return err
		}
		eventID = newID
		return nil
	})
	if err != nil {
		return err
	}
	if eventID == lr.ExternalEventID {
		return nil
	}
	return m.store.UpsertCreatedEvent(ctx, &models.CreatedEventLink{
		RespondentID:    lr.RespondentID,
		MeetingID:       meeting.ID,
		UserID:          cred.UserID,
		Provider:        p.Type(),
		ExternalEventID: eventID,
	})
}

// deleteEvent treats an event that is already gone as deleted.
func (m *Manager) deleteEvent(ctx context.Context, p provider.Provider, lr *store.LinkedRespondent) error {
	cred, err := m.creds.RefreshIfNecessary(ctx, p, &lr.Credential)
	if err != nil {
		return err
	}
	err = m.creds.WithCredential(ctx, p, cred, func(accessToken string) error {
		return p.DeleteEvent(ctx, accessToken, lr.ExternalEventID)
	})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}
