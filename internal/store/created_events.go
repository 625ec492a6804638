package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kaarna/internal/models"
)

// LinkedRespondent is a respondent whose account has a calendar-linked
// credential for a provider, with the event previously created for them.
type LinkedRespondent struct {
	RespondentID int64
	MeetingID    int64
	Credential   models.Credential
	// ExternalEventID is empty if no event was created yet.
	ExternalEventID string
}

const linkedRespondentQuery = `
	SELECT r.id, r.meeting_id, ` + prefixedCredentialColumns + `, COALESCE(e.external_event_id, '')
	FROM meeting_respondents r
	JOIN oauth2_credentials c ON c.user_id = r.user_id AND c.provider = ? AND c.linked_calendar = 1
	LEFT JOIN calendar_created_events e ON e.respondent_id = r.id AND e.provider = c.provider
`

const prefixedCredentialColumns = `c.user_id, c.provider, c.subject_id, c.access_token, c.access_token_expires_at, c.refresh_token, c.linked_calendar`

func scanLinkedRespondent(row rowScanner) (*LinkedRespondent, error) {
	var (
		lr       LinkedRespondent
		provider string
	)
	c := &lr.Credential
	if err := row.Scan(&lr.RespondentID, &lr.MeetingID, &c.UserID, &provider, &c.SubjectID, &c.AccessToken,
		&c.AccessTokenExpiresAt, &c.RefreshToken, &c.LinkedCalendar, &lr.ExternalEventID); err != nil {
		return nil, err
	}
	c.Provider = models.ProviderType(provider)
	return &lr, nil
}

// ListLinkedRespondents returns every respondent of the meeting with a
// calendar-linked credential for p.
func (s *Store) ListLinkedRespondents(ctx context.Context, meetingID int64, p models.ProviderType) ([]LinkedRespondent, error) {
	rows, err := s.db.QueryContext(ctx, linkedRespondentQuery+` WHERE r.meeting_id = ? ORDER BY r.id`, string(p), meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked respondents: %w", err)
	}
	defer rows.Close()

	var result []LinkedRespondent
	for rows.Next() {
		lr, err := scanLinkedRespondent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan linked respondent: %w", err)
		}
		result = append(result, *lr)
	}
	return result, rows.Err()
}

// GetLinkedRespondent returns the respondent if their account is
// calendar-linked for p, or nil otherwise.
func (s *Store) GetLinkedRespondent(ctx context.Context, respondentID int64, p models.ProviderType) (*LinkedRespondent, error) {
	lr, err := scanLinkedRespondent(s.db.QueryRowContext(ctx, linkedRespondentQuery+` WHERE r.id = ?`, string(p), respondentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get linked respondent: %w", err)
	}
	return lr, nil
}

// GetCreatedEventForUser returns the event created for the user's own
// respondent row in the meeting, or nil.
func (s *Store) GetCreatedEventForUser(ctx context.Context, meetingID, userID int64, p models.ProviderType) (*models.CreatedEventLink, error) {
	link := models.CreatedEventLink{MeetingID: meetingID, UserID: userID, Provider: p}
	err := s.db.QueryRowContext(ctx, `
		SELECT respondent_id, external_event_id FROM calendar_created_events
		WHERE meeting_id = ? AND user_id = ? AND provider = ?
	`, meetingID, userID, string(p)).Scan(&link.RespondentID, &link.ExternalEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get created event: %w", err)
	}
	return &link, nil
}

// UpsertCreatedEvent records the external event ID for (respondent, provider).
func (s *Store) UpsertCreatedEvent(ctx context.Context, link *models.CreatedEventLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_created_events (respondent_id, provider, meeting_id, user_id, external_event_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(respondent_id, provider) DO UPDATE SET external_event_id = excluded.external_event_id
	`, link.RespondentID, string(link.Provider), link.MeetingID, link.UserID, link.ExternalEventID)
	if err != nil {
		return fmt.Errorf("failed to save created event: %w", err)
	}
	return nil
}

func (s *Store) DeleteCreatedEvent(ctx context.Context, respondentID int64, p models.ProviderType) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM calendar_created_events WHERE respondent_id = ? AND provider = ?`, respondentID, string(p)); err != nil {
		return fmt.Errorf("failed to delete created event: %w", err)
	}
	return nil
}

// DeleteCreatedEventsForUser forgets every event created in the user's
// calendar for p.
func (s *Store) DeleteCreatedEventsForUser(ctx context.Context, userID int64, p models.ProviderType) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM calendar_created_events WHERE user_id = ? AND provider = ?`, userID, string(p)); err != nil {
		return fmt.Errorf("failed to delete created events: %w", err)
	}
	return nil
}
