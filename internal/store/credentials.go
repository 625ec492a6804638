package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kaarna/internal/models"
)

const credentialColumns = `user_id, provider, subject_id, access_token, access_token_expires_at, refresh_token, linked_calendar`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner, c *models.Credential) error {
	var provider string
	if err := row.Scan(&c.UserID, &provider, &c.SubjectID, &c.AccessToken,
		&c.AccessTokenExpiresAt, &c.RefreshToken, &c.LinkedCalendar); err != nil {
		return err
	}
	c.Provider = models.ProviderType(provider)
	return nil
}

// GetCredential returns the user's credential for p, or nil if there is none.
func (s *Store) GetCredential(ctx context.Context, userID int64, p models.ProviderType) (*models.Credential, error) {
	var c models.Credential
	err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM oauth2_credentials WHERE user_id = ? AND provider = ?`,
		userID, string(p)), &c)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

// UpsertCredential inserts or replaces the credential of (user, provider).
// Linking a provider account that already belongs to another user yields
// ErrUniqueViolation.
func (s *Store) UpsertCredential(ctx context.Context, c *models.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth2_credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			subject_id = excluded.subject_id,
			access_token = excluded.access_token,
			access_token_expires_at = excluded.access_token_expires_at,
			refresh_token = excluded.refresh_token,
			linked_calendar = excluded.linked_calendar
	`, c.UserID, string(c.Provider), c.SubjectID, c.AccessToken, c.AccessTokenExpiresAt, c.RefreshToken, c.LinkedCalendar)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", translateError(err))
	}
	return nil
}

// UpdateCredentialTokens persists a refreshed access token, its expiry and
// the refresh token.
func (s *Store) UpdateCredentialTokens(ctx context.Context, c *models.Credential) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth2_credentials
		SET access_token = ?, access_token_expires_at = ?, refresh_token = ?
		WHERE user_id = ? AND provider = ?
	`, c.AccessToken, c.AccessTokenExpiresAt, c.RefreshToken, c.UserID, string(c.Provider))
	if err != nil {
		return fmt.Errorf("failed to update credential tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetLinkedCalendar(ctx context.Context, userID int64, p models.ProviderType, linked bool) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE oauth2_credentials SET linked_calendar = ? WHERE user_id = ? AND provider = ?`,
		linked, userID, string(p)); err != nil {
		return fmt.Errorf("failed to update linked calendar flag: %w", err)
	}
	return nil
}

// DeleteCredential removes the credential; its sync cursors and created-event
// links cascade.
func (s *Store) DeleteCredential(ctx context.Context, userID int64, p models.ProviderType) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth2_credentials WHERE user_id = ? AND provider = ?`, userID, string(p)); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
