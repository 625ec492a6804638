package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"kaarna/internal/models"
)

// CreateUser inserts a user. An empty passwordHash marks a user who signs in
// through an OAuth2 provider only.
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash) VALUES (?, ?, ?)`,
		name, nullString(email), nullString(passwordHash))
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return res.LastInsertId()
}

// UserHasPassword reports whether the user can sign in without OAuth2.
func (s *Store) UserHasPassword(ctx context.Context, userID int64) (bool, error) {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = ?`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to get user: %w", err)
	}
	return hash.Valid && hash.String != "", nil
}

func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// CreateMeeting inserts m and sets its ID.
func (s *Store) CreateMeeting(ctx context.Context, m *models.Meeting) error {
	dates, err := json.Marshal(m.TentativeDates)
	if err != nil {
		return fmt.Errorf("failed to encode tentative dates: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (name, about, timezone, min_start_hour, max_end_hour, tentative_dates, scheduled_start, scheduled_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.Name, m.About, m.Timezone, m.MinStartHour, m.MaxEndHour, string(dates),
		nullTime(m.ScheduledStart), nullTime(m.ScheduledEnd))
	if err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// UpdateMeeting overwrites every column of the meeting row.
func (s *Store) UpdateMeeting(ctx context.Context, m *models.Meeting) error {
	dates, err := json.Marshal(m.TentativeDates)
	if err != nil {
		return fmt.Errorf("failed to encode tentative dates: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE meetings
		SET name = ?, about = ?, timezone = ?, min_start_hour = ?, max_end_hour = ?,
		    tentative_dates = ?, scheduled_start = ?, scheduled_end = ?
		WHERE id = ?
	`, m.Name, m.About, m.Timezone, m.MinStartHour, m.MaxEndHour, string(dates),
		nullTime(m.ScheduledStart), nullTime(m.ScheduledEnd), m.ID)
	if err != nil {
		return fmt.Errorf("failed to update meeting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetMeeting(ctx context.Context, meetingID int64) (*models.Meeting, error) {
	var (
		m                        models.Meeting
		dates                    string
		scheduledStart, schedEnd sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, about, timezone, min_start_hour, max_end_hour, tentative_dates, scheduled_start, scheduled_end
		FROM meetings WHERE id = ?
	`, meetingID).Scan(&m.ID, &m.Name, &m.About, &m.Timezone, &m.MinStartHour, &m.MaxEndHour,
		&dates, &scheduledStart, &schedEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	if err := json.Unmarshal([]byte(dates), &m.TentativeDates); err != nil {
		return nil, fmt.Errorf("failed to decode tentative dates: %w", err)
	}
	if m.ScheduledStart, err = parseNullTime(scheduledStart); err != nil {
		return nil, err
	}
	if m.ScheduledEnd, err = parseNullTime(schedEnd); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMeeting removes the meeting; respondents, cursors and created-event
// links cascade.
func (s *Store) DeleteMeeting(ctx context.Context, meetingID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, meetingID); err != nil {
		return fmt.Errorf("failed to delete meeting: %w", err)
	}
	return nil
}

// AddRespondent adds a registered user as a respondent and returns the
// respondent ID.
func (s *Store) AddRespondent(ctx context.Context, meetingID, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO meeting_respondents (meeting_id, user_id) VALUES (?, ?)`, meetingID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to add respondent: %w", translateError(err))
	}
	return res.LastInsertId()
}

// AddGuestRespondent adds a respondent without an account.
func (s *Store) AddGuestRespondent(ctx context.Context, meetingID int64, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO meeting_respondents (meeting_id, guest_name) VALUES (?, ?)`, meetingID, name)
	if err != nil {
		return 0, fmt.Errorf("failed to add guest respondent: %w", err)
	}
	return res.LastInsertId()
}

// GetRespondentByUser finds the respondent row of a user in a meeting.
func (s *Store) GetRespondentByUser(ctx context.Context, meetingID, userID int64) (*models.Respondent, error) {
	var (
		r   models.Respondent
		uid sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, meeting_id, user_id, guest_name FROM meeting_respondents
		WHERE meeting_id = ? AND user_id = ?
	`, meetingID, userID).Scan(&r.ID, &r.MeetingID, &uid, &r.GuestName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get respondent: %w", err)
	}
	if uid.Valid {
		r.UserID = &uid.Int64
	}
	return &r, nil
}

func (s *Store) DeleteRespondent(ctx context.Context, respondentID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM meeting_respondents WHERE id = ?`, respondentID); err != nil {
		return fmt.Errorf("failed to delete respondent: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse time %q: %w", s.String, err)
	}
	return &t, nil
}
