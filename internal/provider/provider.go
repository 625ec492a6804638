// Package provider defines the capability set every external calendar
// provider implements, and the OAuth2 plumbing the providers share.
package provider

import (
	"context"
	"time"

	"kaarna/internal/models"
)

// Provider is an external OAuth2 calendar provider.
type Provider interface {
	Type() models.ProviderType
	// IsConfigured is false when the provider is disabled or its client
	// credentials are missing. Callers must not invoke any other method then.
	IsConfigured() bool
	// ExpectedScopes lists the scopes that must be present in a token response.
	ExpectedScopes() []string

	AuthCodeURL(ctx context.Context, state *State, promptConsent bool) (string, error)
	Exchange(ctx context.Context, code string, state *State) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	// Revoke invalidates the refresh token. Providers without a revocation
	// endpoint return nil.
	Revoke(ctx context.Context, refreshToken string) error

	ListEvents(ctx context.Context, accessToken string, q EventQuery) (*EventPage, error)
	CreateEvent(ctx context.Context, accessToken string, ev MeetingEvent) (string, error)
	UpdateEvent(ctx context.Context, accessToken, eventID string, ev MeetingEvent) error
	DeleteEvent(ctx context.Context, accessToken, eventID string) error
}

// EventQuery selects one page of calendar changes.
// With an empty Cursor the whole Window is listed from scratch; otherwise
// only the changes since Cursor are returned.
type EventQuery struct {
	Window    models.Window
	Cursor    string
	PageToken string
}

// Incremental reports whether the query continues from a stored cursor.
func (q EventQuery) Incremental() bool { return q.Cursor != "" }

// EventPage is one page of a listing. Exactly one of NextPageToken and
// NextCursor is set on a well-formed response.
type EventPage struct {
	Items         []EventChange
	NextPageToken string
	NextCursor    string
}

// EventChange is a single listed item. Nil fields were absent from the
// provider's response and must leave any cached value untouched.
type EventChange struct {
	ID      string
	Removed bool
	Summary *string
	Start   *time.Time
	End     *time.Time
}

// MeetingEvent is the event written to a respondent's calendar for a
// scheduled meeting.
type MeetingEvent struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	SourceURL   string
}
