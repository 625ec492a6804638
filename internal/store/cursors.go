package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"kaarna/internal/models"
)

// GetSyncCursor returns the cached sync state, or nil if none was saved.
func (s *Store) GetSyncCursor(ctx context.Context, userID, meetingID int64, p models.ProviderType) (*models.SyncCursor, error) {
	c := models.SyncCursor{UserID: userID, MeetingID: meetingID, Provider: p}
	var events string
	err := s.db.QueryRowContext(ctx, `
		SELECT prev_range_start, prev_range_end, sync_token, events
		FROM calendar_sync_cursors
		WHERE meeting_id = ? AND user_id = ? AND provider = ?
	`, meetingID, userID, string(p)).Scan(&c.PrevRangeStart, &c.PrevRangeEnd, &c.SyncToken, &events)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync cursor: %w", err)
	}
	if err := json.Unmarshal([]byte(events), &c.Events); err != nil {
		return nil, fmt.Errorf("failed to decode cached events: %w", err)
	}
	return &c, nil
}

// SaveSyncCursor inserts or replaces the cursor. Concurrent saves for the
// same key are last-write-wins.
func (s *Store) SaveSyncCursor(ctx context.Context, c *models.SyncCursor) error {
	events := c.Events
	if events == nil {
		events = []models.Event{}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to encode cached events: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calendar_sync_cursors (meeting_id, user_id, provider, prev_range_start, prev_range_end, sync_token, events)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(meeting_id, user_id, provider) DO UPDATE SET
			prev_range_start = excluded.prev_range_start,
			prev_range_end = excluded.prev_range_end,
			sync_token = excluded.sync_token,
			events = excluded.events
	`, c.MeetingID, c.UserID, string(c.Provider), c.PrevRangeStart, c.PrevRangeEnd, c.SyncToken, string(b))
	if err != nil {
		return fmt.Errorf("failed to save sync cursor: %w", err)
	}
	return nil
}

// DeleteSyncCursors drops every cached cursor of the user for p.
func (s *Store) DeleteSyncCursors(ctx context.Context, userID int64, p models.ProviderType) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM calendar_sync_cursors WHERE user_id = ? AND provider = ?`, userID, string(p)); err != nil {
		return fmt.Errorf("failed to delete sync cursors: %w", err)
	}
	return nil
}
