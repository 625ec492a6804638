package linker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaarna/internal/lifecycle"
	"kaarna/internal/models"
	"kaarna/internal/oauth"
	"kaarna/internal/provider"
	"kaarna/internal/provider/providertest"
	"kaarna/internal/store"
)

type fixture struct {
	store      *store.Store
	fake       *providertest.Fake
	manager    *Manager
	dispatcher *Dispatcher
	meetings   *lifecycle.Meetings
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := &providertest.Fake{ProviderType: models.ProviderGoogle}
	svc := oauth.NewService(logger, st, fake)
	dispatcher := NewDispatcher(logger, 2)
	t.Cleanup(dispatcher.Stop)

	manager := NewManager(logger, st, svc, dispatcher, "https://kaarna.example.com/")
	bus := lifecycle.NewBus()
	manager.Subscribe(bus)
	return &fixture{
		store:      st,
		fake:       fake,
		manager:    manager,
		dispatcher: dispatcher,
		meetings:   lifecycle.NewMeetings(logger, st, bus),
	}
}

func (f *fixture) createMeeting(t *testing.T) *models.Meeting {
	t.Helper()
	m := &models.Meeting{
		Name:           "Planning",
		About:          "Quarterly planning",
		Timezone:       "UTC",
		MinStartHour:   9,
		MaxEndHour:     17,
		TentativeDates: []string{"2022-12-21"},
	}
	require.NoError(t, f.store.CreateMeeting(context.Background(), m))
	return m
}

// linkUser creates a calendar-linked user whose access token is
// "access-<name>".
func (f *fixture) linkUser(t *testing.T, name string) int64 {
	t.Helper()
	ctx := context.Background()
	userID, err := f.store.CreateUser(ctx, name, name+"@example.com", "")
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertCredential(ctx, &models.Credential{
		UserID:               userID,
		Provider:             models.ProviderGoogle,
		SubjectID:            "sub-" + name,
		AccessToken:          "access-" + name,
		AccessTokenExpiresAt: time.Now().Add(time.Hour).Unix(),
		RefreshToken:         "refresh-" + name,
		LinkedCalendar:       true,
	}))
	return userID
}

func (f *fixture) addLinkedRespondent(t *testing.T, meetingID int64, name string) int64 {
	t.Helper()
	respondentID, err := f.meetings.AddRespondent(context.Background(), meetingID, f.linkUser(t, name))
	require.NoError(t, err)
	return respondentID
}

func (f *fixture) schedule(t *testing.T, meetingID int64, start time.Time) {
	t.Helper()
	require.NoError(t, f.meetings.Schedule(context.Background(), meetingID, start, start.Add(time.Hour)))
	f.dispatcher.Wait()
}

func (f *fixture) eventIDs(t *testing.T, meetingID int64) map[int64]string {
	t.Helper()
	respondents, err := f.store.ListLinkedRespondents(context.Background(), meetingID, models.ProviderGoogle)
	require.NoError(t, err)
	ids := map[int64]string{}
	for _, lr := range respondents {
		ids[lr.RespondentID] = lr.ExternalEventID
	}
	return ids
}

func methods(calls []providertest.Call) []string {
	var result []string
	for _, c := range calls {
		result = append(result, c.Method)
	}
	sort.Strings(result)
	return result
}

var start = time.Date(2022, 12, 21, 10, 0, 0, 0, time.UTC)

func TestScheduleCreatesEventPerRespondent(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	alice := f.addLinkedRespondent(t, m.ID, "alice")
	bob := f.addLinkedRespondent(t, m.ID, "bob")
	_, err := f.store.AddGuestRespondent(context.Background(), m.ID, "guest")
	require.NoError(t, err)
	f.dispatcher.Wait()
	assert.Empty(t, f.fake.Calls(), "joining an unscheduled meeting creates nothing")

	f.schedule(t, m.ID, start)

	calls := f.fake.Calls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "create", c.Method)
		assert.Equal(t, "Planning", c.Event.Summary)
		assert.Equal(t, "Quarterly planning", c.Event.Description)
		assert.True(t, start.Equal(c.Event.Start))
		assert.True(t, start.Add(time.Hour).Equal(c.Event.End))
		assert.Equal(t, "https://kaarna.example.com/m/"+itoa(m.ID), c.Event.SourceURL)
	}
	tokens := []string{calls[0].AccessToken, calls[1].AccessToken}
	sort.Strings(tokens)
	assert.Equal(t, []string{"access-alice", "access-bob"}, tokens)

	ids := f.eventIDs(t, m.ID)
	assert.NotEmpty(t, ids[alice])
	assert.NotEmpty(t, ids[bob])
	assert.NotEqual(t, ids[alice], ids[bob])
}

func TestRescheduleUpdatesExistingEvents(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	alice := f.addLinkedRespondent(t, m.ID, "alice")
	f.schedule(t, m.ID, start)
	before := f.eventIDs(t, m.ID)[alice]

	f.schedule(t, m.ID, start.Add(2*time.Hour))

	calls := f.fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "update", calls[1].Method)
	assert.Equal(t, before, calls[1].EventID)
	assert.True(t, start.Add(2*time.Hour).Equal(calls[1].Event.Start))
	assert.Equal(t, before, f.eventIDs(t, m.ID)[alice])
}

func TestUpdateOfMissingEventCreatesNewOne(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	alice := f.addLinkedRespondent(t, m.ID, "alice")
	f.schedule(t, m.ID, start)
	before := f.eventIDs(t, m.ID)[alice]

	f.fake.UpdateFunc = func(_, _ string, _ provider.MeetingEvent) error {
		return &provider.ErrorResponse{StatusCode: 404}
	}
	f.schedule(t, m.ID, start.Add(time.Hour))

	assert.Equal(t, []string{"create", "create", "update"}, methods(f.fake.Calls()))
	after := f.eventIDs(t, m.ID)[alice]
	assert.NotEmpty(t, after)
	assert.NotEqual(t, before, after)
}

func TestOneRespondentFailureDoesNotAffectOthers(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	alice := f.addLinkedRespondent(t, m.ID, "alice")
	bob := f.addLinkedRespondent(t, m.ID, "bob")

	f.fake.CreateFunc = func(accessToken string, _ provider.MeetingEvent) (string, error) {
		if accessToken == "access-alice" {
			return "", errors.New("calendar unavailable")
		}
		return "bob-event", nil
	}
	f.schedule(t, m.ID, start)

	ids := f.eventIDs(t, m.ID)
	assert.Empty(t, ids[alice])
	assert.Equal(t, "bob-event", ids[bob])
}

func TestUnscheduleDeletesEvents(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	alice := f.addLinkedRespondent(t, m.ID, "alice")
	bob := f.addLinkedRespondent(t, m.ID, "bob")
	f.schedule(t, m.ID, start)

	// A 404 counts as deleted and a failure still forgets the link.
	f.fake.DeleteFunc = func(accessToken, _ string) error {
		if accessToken == "access-alice" {
			return &provider.ErrorResponse{StatusCode: 404}
		}
		return errors.New("server error")
	}
	require.NoError(t, f.meetings.Unschedule(context.Background(), m.ID))
	f.dispatcher.Wait()

	assert.Equal(t, []string{"create", "create", "delete", "delete"}, methods(f.fake.Calls()))
	ids := f.eventIDs(t, m.ID)
	assert.Empty(t, ids[alice])
	assert.Empty(t, ids[bob])
}

func TestDeleteMeetingDeletesEventsBeforeRows(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	f.addLinkedRespondent(t, m.ID, "alice")
	f.schedule(t, m.ID, start)

	ctx := context.Background()
	f.fake.DeleteFunc = func(_, _ string) error {
		_, err := f.store.GetMeeting(ctx, m.ID)
		assert.NoError(t, err, "meeting row must exist while events are deleted")
		return nil
	}
	require.NoError(t, f.meetings.Delete(ctx, m.ID))

	assert.Equal(t, []string{"create", "delete"}, methods(f.fake.Calls()))
	_, err := f.store.GetMeeting(ctx, m.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRespondentJoinAndLeave(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	f.addLinkedRespondent(t, m.ID, "alice")
	f.schedule(t, m.ID, start)

	bobUser := f.linkUser(t, "bob")
	bob, err := f.meetings.AddRespondent(context.Background(), m.ID, bobUser)
	require.NoError(t, err)
	f.dispatcher.Wait()
	calls := f.fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "access-bob", calls[1].AccessToken)
	bobEvent := f.eventIDs(t, m.ID)[bob]
	require.NotEmpty(t, bobEvent)

	require.NoError(t, f.meetings.RemoveRespondent(context.Background(), m.ID, bobUser))

	calls = f.fake.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "delete", calls[2].Method)
	assert.Equal(t, bobEvent, calls[2].EventID)
	assert.Len(t, f.eventIDs(t, m.ID), 1)
}

func TestExpiredTokenIsRefreshedBeforeWrite(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	ctx := context.Background()
	userID, err := f.store.CreateUser(ctx, "carol", "carol@example.com", "")
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertCredential(ctx, &models.Credential{
		UserID:               userID,
		Provider:             models.ProviderGoogle,
		SubjectID:            "sub-carol",
		AccessToken:          "stale",
		AccessTokenExpiresAt: time.Now().Add(-time.Minute).Unix(),
		RefreshToken:         "refresh-carol",
		LinkedCalendar:       true,
	}))
	_, err = f.meetings.AddRespondent(ctx, m.ID, userID)
	require.NoError(t, err)

	f.schedule(t, m.ID, start)

	assert.Equal(t, 1, f.fake.Refreshes())
	calls := f.fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "refreshed-refresh-carol", calls[0].AccessToken)
}

// blockCreates makes every create wait for release. Each create signals on
// the returned channel once it has started.
func (f *fixture) blockCreates(release <-chan struct{}, id string) <-chan struct{} {
	started := make(chan struct{}, 8)
	f.fake.CreateFunc = func(string, provider.MeetingEvent) (string, error) {
		started <- struct{}{}
		<-release
		return id, nil
	}
	return started
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestDeleteWaitsForScheduleInFlight(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	f.addLinkedRespondent(t, m.ID, "alice")
	ctx := context.Background()

	release := make(chan struct{})
	started := f.blockCreates(release, "created-1")
	require.NoError(t, f.meetings.Schedule(ctx, m.ID, start, start.Add(time.Hour)))
	waitFor(t, started)

	deleted := make(chan error, 1)
	go func() { deleted <- f.meetings.Delete(ctx, m.ID) }()
	select {
	case <-deleted:
		t.Fatal("delete returned while the create was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-deleted:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not finish")
	}

	calls := f.fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "create", calls[0].Method)
	assert.Equal(t, "delete", calls[1].Method)
	assert.Equal(t, "created-1", calls[1].EventID)
	_, err := f.store.GetMeeting(ctx, m.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnscheduleRunsAfterScheduleInFlight(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	alice := f.addLinkedRespondent(t, m.ID, "alice")
	ctx := context.Background()

	release := make(chan struct{})
	started := f.blockCreates(release, "created-1")
	require.NoError(t, f.meetings.Schedule(ctx, m.ID, start, start.Add(time.Hour)))
	waitFor(t, started)
	require.NoError(t, f.meetings.Unschedule(ctx, m.ID))

	close(release)
	f.dispatcher.Wait()

	assert.Equal(t, []string{"create", "delete"}, methods(f.fake.Calls()))
	assert.Equal(t, "created-1", f.fake.Calls()[1].EventID)
	assert.Empty(t, f.eventIDs(t, m.ID)[alice])
	stored, err := f.store.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsScheduled())
}

func TestScheduleThenEditCreatesOnce(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	alice := f.addLinkedRespondent(t, m.ID, "alice")
	ctx := context.Background()

	require.NoError(t, f.meetings.Schedule(ctx, m.ID, start, start.Add(time.Hour)))
	for _, name := range []string{"Renamed", "Renamed again"} {
		stored, err := f.meetings.Get(ctx, m.ID)
		require.NoError(t, err)
		stored.Name = name
		require.NoError(t, f.meetings.Edit(ctx, stored))
	}
	f.dispatcher.Wait()

	calls := f.fake.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "create", calls[0].Method)
	createdID := f.eventIDs(t, m.ID)[alice]
	require.NotEmpty(t, createdID)
	for _, c := range calls[1:] {
		assert.Equal(t, "update", c.Method)
		assert.Equal(t, createdID, c.EventID)
	}
	assert.Equal(t, "Renamed again", calls[2].Event.Summary)
}

func TestLeaveWaitsForJoinInFlight(t *testing.T) {
	f := setup(t)
	m := f.createMeeting(t)
	f.schedule(t, m.ID, start)
	ctx := context.Background()

	release := make(chan struct{})
	started := f.blockCreates(release, "bob-event")
	bobUser := f.linkUser(t, "bob")
	_, err := f.meetings.AddRespondent(ctx, m.ID, bobUser)
	require.NoError(t, err)
	waitFor(t, started)

	left := make(chan error, 1)
	go func() { left <- f.meetings.RemoveRespondent(ctx, m.ID, bobUser) }()
	close(release)
	select {
	case err := <-left:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("leave did not finish")
	}

	calls := f.fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "delete", calls[1].Method)
	assert.Equal(t, "bob-event", calls[1].EventID)
	assert.Empty(t, f.eventIDs(t, m.ID))
}
