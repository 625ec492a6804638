package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"kaarna/internal/provider"
)

const primaryCalendar = "primary"

// service builds a calendar client that authenticates with accessToken.
func (p *Provider) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.apiBaseURL != "" {
		opts = append(opts, option.WithEndpoint(p.apiBaseURL))
	}
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return service, nil
}

// ListEvents fetches one page of the primary calendar. A full listing
// expands recurring events into single instances; an incremental listing
// may only pass the sync token and page token.
func (p *Provider) ListEvents(ctx context.Context, accessToken string, q provider.EventQuery) (*provider.EventPage, error) {
	service, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	call := service.Events.List(primaryCalendar).Context(ctx)
	if q.Incremental() {
		call = call.SyncToken(q.Cursor)
	} else {
		call = call.
			MaxAttendees(1).
			SingleEvents(true).
			TimeMin(q.Window.StartKey()).
			TimeMax(q.Window.EndKey())
	}
	if q.PageToken != "" {
		call = call.PageToken(q.PageToken)
	}

	events, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", toErrorResponse(err))
	}
	p.logger.Debug("Fetched page of Google Calendar events", "count", len(events.Items), "incremental", q.Incremental())

	return &provider.EventPage{
		Items:         toEventChanges(events.Items),
		NextPageToken: events.NextPageToken,
		NextCursor:    events.NextSyncToken,
	}, nil
}

// toEventChanges converts Google Calendar events to provider-neutral changes.
func toEventChanges(items []*calendar.Event) []provider.EventChange {
	changes := make([]provider.EventChange, 0, len(items))
	for _, item := range items {
		change := provider.EventChange{ID: item.Id}
		if item.Status == "cancelled" {
			change.Removed = true
			changes = append(changes, change)
			continue
		}
		summary := item.Summary
		change.Summary = &summary
		// All-day events have a date but no dateTime and are left without times.
		change.Start = parseDateTime(item.Start)
		change.End = parseDateTime(item.End)
		changes = append(changes, change)
	}
	return changes
}

func parseDateTime(dt *calendar.EventDateTime) *time.Time {
	if dt == nil || dt.DateTime == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func toGoogleEvent(ev provider.MeetingEvent) *calendar.Event {
	event := &calendar.Event{
		Summary: ev.Summary,
		Start:   &calendar.EventDateTime{DateTime: ev.Start.UTC().Format(time.RFC3339)},
		End:     &calendar.EventDateTime{DateTime: ev.End.UTC().Format(time.RFC3339)},
	}
	if ev.Description != "" {
		event.Description = ev.Description
	}
	if ev.SourceURL != "" {
		event.Source = &calendar.EventSource{Url: ev.SourceURL}
	}
	return event
}

func (p *Provider) CreateEvent(ctx context.Context, accessToken string, ev provider.MeetingEvent) (string, error) {
	service, err := p.service(ctx, accessToken)
	if err != nil {
		return "", err
	}
	created, err := service.Events.Insert(primaryCalendar, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", toErrorResponse(err))
	}
	p.logger.Info("Created Google Calendar event", "eventID", created.Id)
	return created.Id, nil
}

func (p *Provider) UpdateEvent(ctx context.Context, accessToken, eventID string, ev provider.MeetingEvent) error {
	service, err := p.service(ctx, accessToken)
	if err != nil {
		return err
	}
	if _, err := service.Events.Update(primaryCalendar, eventID, toGoogleEvent(ev)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to update event %s: %w", eventID, toErrorResponse(err))
	}
	p.logger.Info("Updated Google Calendar event", "eventID", eventID)
	return nil
}

func (p *Provider) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	service, err := p.service(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := service.Events.Delete(primaryCalendar, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, toErrorResponse(err))
	}
	p.logger.Info("Deleted Google Calendar event", "eventID", eventID)
	return nil
}

// toErrorResponse maps a googleapi error onto the shared error taxonomy.
func toErrorResponse(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	resp := &provider.ErrorResponse{StatusCode: gerr.Code}
	if len(gerr.Errors) > 0 {
		resp.Code = gerr.Errors[0].Reason
	}
	return resp
}
