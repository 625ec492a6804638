package google

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaarna/internal/models"
	"kaarna/internal/provider"
)

const (
	testClientID     = "google_client_id"
	testClientSecret = "google_client_secret"
	testRedirectURI  = "http://kaarna.internal/redirect/google"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Enabled:      true,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  testRedirectURI,
		TokenURL:     srv.URL + "/token",
		RevokeURL:    srv.URL + "/revoke",
		APIBaseURL:   srv.URL + "/calendar/v3/",
	}, srv.Client())
}

func testWindow() models.Window {
	return models.Window{
		Start: time.Date(2022, 12, 21, 15, 0, 0, 0, time.UTC),
		End:   time.Date(2022, 12, 24, 21, 0, 0, 0, time.UTC),
	}
}

func TestIsConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.False(t, New(logger, Config{Enabled: true, ClientID: "id"}, nil).IsConfigured())
	assert.False(t, New(logger, Config{ClientID: "id", ClientSecret: "s", RedirectURL: "r"}, nil).IsConfigured())
	assert.True(t, New(logger, Config{Enabled: true, ClientID: "id", ClientSecret: "s", RedirectURL: "r"}, nil).IsConfigured())
}

func TestAuthCodeURL(t *testing.T) {
	p := newTestProvider(t, http.NotFoundHandler())
	userID := int64(3)
	state := &provider.State{Reason: provider.ReasonLink, PostRedirect: "/", UserID: &userID}

	raw, err := p.AuthCodeURL(context.Background(), state, true)
	require.NoError(t, err)
	assert.Contains(t, raw, "https://accounts.google.com/o/oauth2/")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "query", q.Get("response_mode"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "openid profile email https://www.googleapis.com/auth/calendar.events.owned", q.Get("scope"))
	assert.JSONEq(t, `{"reason":"link","postRedirect":"/","userID":3}`, q.Get("state"))

	raw, err = p.AuthCodeURL(context.Background(), state, false)
	require.NoError(t, err)
	u, _ = url.Parse(raw)
	assert.Empty(t, u.Query().Get("prompt"))
}

func TestExchangeSendsClientSecret(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, url.Values{
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
			"code":          {"google_code"},
			"grant_type":    {"authorization_code"},
			"redirect_uri":  {testRedirectURI},
		}, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"google_access_token","expires_in":3599,"refresh_token":"google_refresh_token","scope":"openid https://www.googleapis.com/auth/calendar.events.owned","token_type":"Bearer","id_token":"google_id_token"}`)
	})
	p := newTestProvider(t, mux)

	tok, err := p.Exchange(context.Background(), "google_code", &provider.State{Reason: provider.ReasonLink})
	require.NoError(t, err)
	assert.Equal(t, "google_access_token", tok.AccessToken)
	assert.Equal(t, "google_refresh_token", tok.RefreshToken)
	assert.Equal(t, "google_id_token", tok.IDToken)
	assert.True(t, tok.HasScopes([]string{"https://www.googleapis.com/auth/calendar.events.owned"}))
}

func TestRefreshSendsClientSecret(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, url.Values{
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
			"grant_type":    {"refresh_token"},
			"refresh_token": {"google_refresh_token"},
		}, r.PostForm)
		_, _ = io.WriteString(w, `{"access_token":"google_access_token_2","expires_in":3599,"scope":"openid"}`)
	})
	p := newTestProvider(t, mux)

	tok, err := p.Refresh(context.Background(), "google_refresh_token")
	require.NoError(t, err)
	assert.Equal(t, "google_access_token_2", tok.AccessToken)
}

func TestListEventsFullSync(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer google_access_token", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("maxAttendees"))
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "2022-12-21T15:00:00Z", q.Get("timeMin"))
		assert.Equal(t, "2022-12-24T21:00:00Z", q.Get("timeMax"))
		assert.Empty(t, q.Get("syncToken"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"nextSyncToken": "google_sync_token",
			"items": [
				{"id": "google_event_1", "status": "confirmed", "summary": "Google Event 1",
				 "start": {"dateTime": "2022-12-21T11:00:00-05:00", "timeZone": "America/New_York"},
				 "end": {"dateTime": "2022-12-21T11:30:00-05:00", "timeZone": "America/New_York"}},
				{"id": "google_event_2", "status": "cancelled"}
			]
		}`)
	})
	p := newTestProvider(t, mux)

	page, err := p.ListEvents(context.Background(), "google_access_token", provider.EventQuery{Window: testWindow()})
	require.NoError(t, err)
	assert.Equal(t, "google_sync_token", page.NextCursor)
	assert.Empty(t, page.NextPageToken)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	assert.Equal(t, "google_event_1", first.ID)
	require.NotNil(t, first.Start)
	require.NotNil(t, first.End)
	assert.Equal(t, time.Date(2022, 12, 21, 16, 0, 0, 0, time.UTC), *first.Start)
	assert.Equal(t, time.Date(2022, 12, 21, 16, 30, 0, 0, time.UTC), *first.End)
	assert.Equal(t, "Google Event 1", *first.Summary)

	assert.True(t, page.Items[1].Removed)
}

func TestListEventsIncrementalOnlySendsTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "google_sync_token", q.Get("syncToken"))
		assert.Equal(t, "google_page_token", q.Get("pageToken"))
		assert.Empty(t, q.Get("timeMin"))
		assert.Empty(t, q.Get("singleEvents"))
		_, _ = io.WriteString(w, `{"nextSyncToken": "google_sync_token_2", "items": []}`)
	})
	p := newTestProvider(t, mux)

	page, err := p.ListEvents(context.Background(), "at", provider.EventQuery{
		Window:    testWindow(),
		Cursor:    "google_sync_token",
		PageToken: "google_page_token",
	})
	require.NoError(t, err)
	assert.Equal(t, "google_sync_token_2", page.NextCursor)
}

func TestListEventsGone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	p := newTestProvider(t, mux)

	_, err := p.ListEvents(context.Background(), "at", provider.EventQuery{Window: testWindow(), Cursor: "stale"})
	require.Error(t, err)
	assert.True(t, provider.IsGone(err))
}

func TestCreateUpdateDeleteEvent(t *testing.T) {
	start := time.Date(2022, 12, 22, 15, 0, 0, 0, time.UTC)
	ev := provider.MeetingEvent{
		Summary:   "Meeting",
		Start:     start,
		End:       start.Add(time.Hour),
		SourceURL: "http://kaarna.internal/m/1",
	}
	var methods []string
	mux := http.NewServeMux()
	mux.HandleFunc("/calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Meeting", body["summary"])
		assert.NotContains(t, body, "description")
		assert.Equal(t, map[string]any{"dateTime": "2022-12-22T15:00:00Z"}, body["start"])
		assert.Equal(t, map[string]any{"url": "http://kaarna.internal/m/1"}, body["source"])
		_, _ = io.WriteString(w, `{"id": "google_created_event_1"}`)
	})
	mux.HandleFunc("/calendar/v3/calendars/primary/events/google_created_event_1", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, `{"id": "google_created_event_1"}`)
	})
	mux.HandleFunc("/calendar/v3/calendars/primary/events/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	p := newTestProvider(t, mux)
	ctx := context.Background()

	id, err := p.CreateEvent(ctx, "at", ev)
	require.NoError(t, err)
	assert.Equal(t, "google_created_event_1", id)

	require.NoError(t, p.UpdateEvent(ctx, "at", id, ev))
	require.NoError(t, p.DeleteEvent(ctx, "at", id))
	assert.Equal(t, []string{http.MethodPost, http.MethodPut, http.MethodDelete}, methods)

	err = p.UpdateEvent(ctx, "at", "missing", ev)
	assert.True(t, provider.IsNotFound(err))
}

func TestRevoke(t *testing.T) {
	var revoked string
	mux := http.NewServeMux()
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		revoked = r.PostForm.Get("token")
	})
	p := newTestProvider(t, mux)

	require.NoError(t, p.Revoke(context.Background(), "google_refresh_token"))
	assert.Equal(t, "google_refresh_token", revoked)
}
