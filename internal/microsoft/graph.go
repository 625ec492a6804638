package microsoft

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"kaarna/internal/provider"
)

// Graph returns dateTime values like 2022-12-21T15:00:00.0000000 with a
// separate timeZone field.
const graphDateTimeLayout = "2006-01-02T15:04:05.9999999"

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphEvent struct {
	ID          string            `json:"id,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Body        *itemBody         `json:"body,omitempty"`
	Start       *dateTimeTimeZone `json:"start,omitempty"`
	End         *dateTimeTimeZone `json:"end,omitempty"`
	IsCancelled bool              `json:"isCancelled,omitempty"`
	Removed     *struct {
		Reason string `json:"reason"`
	} `json:"@removed,omitempty"`
}

type deltaResponse struct {
	Value     []graphEvent `json:"value"`
	NextLink  string       `json:"@odata.nextLink"`
	DeltaLink string       `json:"@odata.deltaLink"`
}

type graphErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ListEvents fetches one page of the calendar view delta. Page tokens and
// cursors are the opaque nextLink and deltaLink URLs returned by Graph.
func (p *Provider) ListEvents(ctx context.Context, accessToken string, q provider.EventQuery) (*provider.EventPage, error) {
	endpoint := q.PageToken
	if endpoint == "" {
		endpoint = q.Cursor
	}
	if endpoint == "" {
		params := url.Values{
			"$select":       {"id,subject,start,end,isCancelled"},
			"startDateTime": {q.Window.StartKey()},
			"endDateTime":   {q.Window.EndKey()},
		}
		endpoint = p.graphBaseURL + "/me/calendarView/delta?" + params.Encode()
	}

	var resp deltaResponse
	if err := p.do(ctx, http.MethodGet, endpoint, accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}
	p.logger.Debug("Fetched page of Microsoft calendar changes", "count", len(resp.Value), "incremental", q.Incremental())

	changes := make([]provider.EventChange, 0, len(resp.Value))
	for _, item := range resp.Value {
		change := provider.EventChange{ID: item.ID}
		if item.Removed != nil || item.IsCancelled {
			change.Removed = true
			changes = append(changes, change)
			continue
		}
		change.Start = parseGraphDateTime(item.Start)
		change.End = parseGraphDateTime(item.End)
		// Graph only sends the subject alongside a full event representation.
		if item.Start != nil {
			subject := item.Subject
			change.Summary = &subject
		}
		changes = append(changes, change)
	}
	return &provider.EventPage{
		Items:         changes,
		NextPageToken: resp.NextLink,
		NextCursor:    resp.DeltaLink,
	}, nil
}

func parseGraphDateTime(dt *dateTimeTimeZone) *time.Time {
	if dt == nil || dt.DateTime == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, dt.DateTime); err == nil {
		t = t.UTC()
		return &t
	}
	loc := time.UTC
	if dt.TimeZone != "" && dt.TimeZone != "UTC" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphDateTimeLayout, dt.DateTime, loc)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func toGraphEvent(ev provider.MeetingEvent) *graphEvent {
	content := ev.Description
	if ev.SourceURL != "" {
		content = strings.TrimSpace(content + "\n\n" + ev.SourceURL)
	}
	return &graphEvent{
		Subject: ev.Summary,
		Body:    &itemBody{ContentType: "text", Content: content},
		Start:   &dateTimeTimeZone{DateTime: ev.Start.UTC().Format(graphDateTimeLayout), TimeZone: "UTC"},
		End:     &dateTimeTimeZone{DateTime: ev.End.UTC().Format(graphDateTimeLayout), TimeZone: "UTC"},
	}
}

func (p *Provider) CreateEvent(ctx context.Context, accessToken string, ev provider.MeetingEvent) (string, error) {
	var created graphEvent
	if err := p.do(ctx, http.MethodPost, p.graphBaseURL+"/me/events", accessToken, toGraphEvent(ev), &created); err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	p.logger.Info("Created Microsoft calendar event", "eventID", created.ID)
	return created.ID, nil
}

func (p *Provider) UpdateEvent(ctx context.Context, accessToken, eventID string, ev provider.MeetingEvent) error {
	if err := p.do(ctx, http.MethodPatch, p.eventURL(eventID), accessToken, toGraphEvent(ev), nil); err != nil {
		return fmt.Errorf("failed to update event %s: %w", eventID, err)
	}
	p.logger.Info("Updated Microsoft calendar event", "eventID", eventID)
	return nil
}

func (p *Provider) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	if err := p.do(ctx, http.MethodDelete, p.eventURL(eventID), accessToken, nil, nil); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	p.logger.Info("Deleted Microsoft calendar event", "eventID", eventID)
	return nil
}

func (p *Provider) eventURL(eventID string) string {
	return p.graphBaseURL + "/me/events/" + url.PathEscape(eventID)
}

// do sends an authenticated Graph request. Non-2xx responses become
// *provider.ErrorResponse.
func (p *Provider) do(ctx context.Context, method, endpoint, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		p.logger.Error("Microsoft Graph returned an error", "method", method, "status", resp.StatusCode, "body", string(raw))
		var eb graphErrorBody
		_ = json.Unmarshal(raw, &eb)
		return &provider.ErrorResponse{StatusCode: resp.StatusCode, Code: eb.Error.Code}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
