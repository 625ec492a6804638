// Package providertest provides an in-memory provider.Provider for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"kaarna/internal/models"
	"kaarna/internal/provider"
)

// Call records one calendar write made through a Fake.
type Call struct {
	Method      string
	AccessToken string
	EventID     string
	Event       provider.MeetingEvent
}

// Fake is a configurable provider. Nil function fields fall back to
// successful defaults. All methods are safe for concurrent use.
type Fake struct {
	ProviderType models.ProviderType
	Unconfigured bool
	Scopes       []string

	RefreshFunc    func(refreshToken string) (*provider.TokenResponse, error)
	ExchangeFunc   func(code string, state *provider.State) (*provider.TokenResponse, error)
	ListEventsFunc func(accessToken string, q provider.EventQuery) (*provider.EventPage, error)
	CreateFunc     func(accessToken string, ev provider.MeetingEvent) (string, error)
	UpdateFunc     func(accessToken, eventID string, ev provider.MeetingEvent) error
	DeleteFunc     func(accessToken, eventID string) error

	mu        sync.Mutex
	calls     []Call
	queries   []provider.EventQuery
	refreshes int
	revoked   []string
	nextID    int
}

func (f *Fake) Type() models.ProviderType { return f.ProviderType }

func (f *Fake) IsConfigured() bool { return !f.Unconfigured }

func (f *Fake) ExpectedScopes() []string { return f.Scopes }

func (f *Fake) AuthCodeURL(_ context.Context, state *provider.State, _ bool) (string, error) {
	encoded, err := state.Encode()
	if err != nil {
		return "", err
	}
	return "https://auth.example.com/authorize?state=" + encoded, nil
}

func (f *Fake) Exchange(_ context.Context, code string, state *provider.State) (*provider.TokenResponse, error) {
	if f.ExchangeFunc == nil {
		return nil, fmt.Errorf("unexpected exchange of %q", code)
	}
	return f.ExchangeFunc(code, state)
}

func (f *Fake) Refresh(_ context.Context, refreshToken string) (*provider.TokenResponse, error) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	if f.RefreshFunc == nil {
		return &provider.TokenResponse{AccessToken: "refreshed-" + refreshToken, ExpiresIn: 3600}, nil
	}
	return f.RefreshFunc(refreshToken)
}

func (f *Fake) Revoke(_ context.Context, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, refreshToken)
	return nil
}

func (f *Fake) ListEvents(_ context.Context, accessToken string, q provider.EventQuery) (*provider.EventPage, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.ListEventsFunc == nil {
		return &provider.EventPage{NextCursor: "cursor"}, nil
	}
	return f.ListEventsFunc(accessToken, q)
}

func (f *Fake) CreateEvent(_ context.Context, accessToken string, ev provider.MeetingEvent) (string, error) {
	f.record(Call{Method: "create", AccessToken: accessToken, Event: ev})
	if f.CreateFunc != nil {
		return f.CreateFunc(accessToken, ev)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("%s-event-%d", f.ProviderType, f.nextID), nil
}

func (f *Fake) UpdateEvent(_ context.Context, accessToken, eventID string, ev provider.MeetingEvent) error {
	f.record(Call{Method: "update", AccessToken: accessToken, EventID: eventID, Event: ev})
	if f.UpdateFunc != nil {
		return f.UpdateFunc(accessToken, eventID, ev)
	}
	return nil
}

func (f *Fake) DeleteEvent(_ context.Context, accessToken, eventID string) error {
	f.record(Call{Method: "delete", AccessToken: accessToken, EventID: eventID})
	if f.DeleteFunc != nil {
		return f.DeleteFunc(accessToken, eventID)
	}
	return nil
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns the calendar writes made so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Queries returns the listing queries made so far.
func (f *Fake) Queries() []provider.EventQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.EventQuery(nil), f.queries...)
}

func (f *Fake) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *Fake) Revoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

var _ provider.Provider = (*Fake)(nil)
