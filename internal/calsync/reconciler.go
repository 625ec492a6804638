// Package calsync reads the events of a user's external calendar that fall
// inside a meeting's window, using incremental synchronization against a
// cached cursor whenever the window is unchanged.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"kaarna/internal/models"
	"kaarna/internal/provider"
)

// maxPages guards against a provider that never returns a final page.
const maxPages = 1000

// Credentials resolves usable provider credentials.
type Credentials interface {
	Provider(t models.ProviderType) (provider.Provider, error)
	GetValidCredential(ctx context.Context, t models.ProviderType, userID int64) (*models.Credential, error)
	WithCredential(ctx context.Context, p provider.Provider, cred *models.Credential, call func(accessToken string) error) error
}

// Store is the persistence the reconciler needs.
type Store interface {
	GetMeeting(ctx context.Context, meetingID int64) (*models.Meeting, error)
	GetSyncCursor(ctx context.Context, userID, meetingID int64, p models.ProviderType) (*models.SyncCursor, error)
	SaveSyncCursor(ctx context.Context, c *models.SyncCursor) error
	GetCreatedEventForUser(ctx context.Context, meetingID, userID int64, p models.ProviderType) (*models.CreatedEventLink, error)
}

// Reconciler orchestrates event synchronization for one provider at a time.
type Reconciler struct {
	logger *slog.Logger
	creds  Credentials
	store  Store
}

func NewReconciler(logger *slog.Logger, creds Credentials, store Store) *Reconciler {
	return &Reconciler{logger: logger, creds: creds, store: store}
}

// errCursorInvalidated is returned by an incremental sync whose cursor the
// provider rejected with 410.
var errCursorInvalidated = errors.New("sync cursor invalidated")

// EventsForMeeting returns the user's external events overlapping the
// meeting's window, sorted by start time. The event this service created for
// the meeting itself is excluded. A user without a calendar-linked
// credential gets an empty list.
func (r *Reconciler) EventsForMeeting(ctx context.Context, t models.ProviderType, userID, meetingID int64) ([]models.Event, error) {
	p, err := r.creds.Provider(t)
	if err != nil {
		return nil, err
	}
	meeting, err := r.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load meeting %d: %w", meetingID, err)
	}
	cred, err := r.creds.GetValidCredential(ctx, t, userID)
	if err != nil {
		return r.syncFailed(err)
	}
	if cred == nil {
		return []models.Event{}, nil
	}

	window, err := MeetingWindow(meeting)
	if err != nil {
		return nil, err
	}

	cursor, err := r.store.GetSyncCursor(ctx, userID, meetingID, t)
	if err != nil {
		return nil, err
	}

	var (
		events   map[string]models.Event
		token    string
		changed  bool
		fullSync = true
	)
	if cursor != nil && cursor.Matches(window) && cursor.SyncToken != "" {
		events, token, changed, err = r.incrementalSync(ctx, p, cred, cursor, window)
		switch {
		case err == nil:
			fullSync = false
		case errors.Is(err, errCursorInvalidated):
			r.logger.Info("Sync cursor was invalidated, running full sync", "userID", userID, "meetingID", meetingID, "provider", t)
		default:
			return r.syncFailed(err)
		}
	}
	if fullSync {
		events, token, err = r.fullSync(ctx, p, cred, window)
		if err != nil {
			return r.syncFailed(err)
		}
	}

	list := sortedEvents(events)
	if fullSync || changed || token != cursor.SyncToken {
		if err := r.store.SaveSyncCursor(ctx, &models.SyncCursor{
			UserID:         userID,
			MeetingID:      meetingID,
			Provider:       t,
			PrevRangeStart: window.StartKey(),
			PrevRangeEnd:   window.EndKey(),
			SyncToken:      token,
			Events:         list,
		}); err != nil {
			return nil, err
		}
	}

	own, err := r.store.GetCreatedEventForUser(ctx, meetingID, userID, t)
	if err != nil {
		return nil, err
	}
	if own != nil {
		list = withoutEvent(list, own.ExternalEventID)
	}
	r.logger.Debug("Reconciled external events", "userID", userID, "meetingID", meetingID, "provider", t,
		"count", len(list), "fullSync", fullSync)
	return list, nil
}

// syncFailed turns a revoked credential into "no calendar access".
func (r *Reconciler) syncFailed(err error) ([]models.Event, error) {
	if provider.IsUnauthorized(err) {
		return []models.Event{}, nil
	}
	return nil, err
}

func (r *Reconciler) incrementalSync(ctx context.Context, p provider.Provider, cred *models.Credential, cursor *models.SyncCursor, window models.Window) (map[string]models.Event, string, bool, error) {
	events := make(map[string]models.Event, len(cursor.Events))
	for _, ev := range cursor.Events {
		events[ev.ID] = ev
	}
	token, changed, err := r.listAll(ctx, p, cred, provider.EventQuery{Window: window, Cursor: cursor.SyncToken}, events)
	if err != nil {
		if provider.IsGone(err) {
			return nil, "", false, errCursorInvalidated
		}
		return nil, "", false, err
	}
	return events, token, changed, nil
}

func (r *Reconciler) fullSync(ctx context.Context, p provider.Provider, cred *models.Credential, window models.Window) (map[string]models.Event, string, error) {
	events := make(map[string]models.Event)
	token, _, err := r.listAll(ctx, p, cred, provider.EventQuery{Window: window}, events)
	if err != nil {
		return nil, "", fmt.Errorf("full sync failed: %w", err)
	}
	return events, token, nil
}

// listAll pages through q, merging every item into events, and returns the
// new cursor and whether any item was merged.
func (r *Reconciler) listAll(ctx context.Context, p provider.Provider, cred *models.Credential, q provider.EventQuery, events map[string]models.Event) (string, bool, error) {
	changed := false
	for i := 0; i < maxPages; i++ {
		var page *provider.EventPage
		err := r.creds.WithCredential(ctx, p, cred, func(accessToken string) error {
			var err error
			page, err = p.ListEvents(ctx, accessToken, q)
			return err
		})
		if err != nil {
			return "", false, err
		}
		for _, item := range page.Items {
			if mergeChange(events, item, q.Window) {
				changed = true
			}
		}
		if page.NextPageToken == "" {
			if page.NextCursor == "" {
				return "", false, errors.New("provider returned neither a page token nor a sync cursor")
			}
			return page.NextCursor, changed, nil
		}
		q.PageToken = page.NextPageToken
	}
	return "", false, fmt.Errorf("gave up after %d pages", maxPages)
}

// mergeChange applies one listed item to events and reports whether the map
// was modified. Removed items are deleted; other items are upserted field by
// field. Events that end up entirely outside the window are dropped, since
// providers may return events beyond the requested range.
func mergeChange(events map[string]models.Event, item provider.EventChange, window models.Window) bool {
	existing, exists := events[item.ID]
	if item.Removed {
		if exists {
			delete(events, item.ID)
		}
		return exists
	}

	merged := existing
	merged.ID = item.ID
	if item.Summary != nil {
		merged.Summary = *item.Summary
	}
	if item.Start != nil {
		merged.Start = *item.Start
	}
	if item.End != nil {
		merged.End = *item.End
	}
	if merged.Start.IsZero() || merged.End.IsZero() {
		// A new item without times cannot be placed on the grid.
		return false
	}
	if !merged.Overlaps(window) {
		if exists {
			delete(events, item.ID)
		}
		return exists
	}
	if exists && sameEvent(merged, existing) {
		return false
	}
	events[item.ID] = merged
	return true
}

func sameEvent(a, b models.Event) bool {
	return a.ID == b.ID && a.Summary == b.Summary && a.Start.Equal(b.Start) && a.End.Equal(b.End)
}

func sortedEvents(events map[string]models.Event) []models.Event {
	list := make([]models.Event, 0, len(events))
	for _, ev := range events {
		list = append(list, ev)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.ID < b.ID
	})
	return list
}

func withoutEvent(list []models.Event, id string) []models.Event {
	result := list[:0:0]
	for _, ev := range list {
		if ev.ID != id {
			result = append(result, ev)
		}
	}
	return result
}
