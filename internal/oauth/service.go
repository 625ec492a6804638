// Package oauth keeps OAuth2 credentials usable: it refreshes expired access
// tokens, forgets credentials the provider has revoked, and links and
// unlinks provider accounts.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kaarna/internal/models"
	"kaarna/internal/provider"
)

// CredentialStore is the persistence the service needs.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID int64, p models.ProviderType) (*models.Credential, error)
	UpsertCredential(ctx context.Context, c *models.Credential) error
	UpdateCredentialTokens(ctx context.Context, c *models.Credential) error
	SetLinkedCalendar(ctx context.Context, userID int64, p models.ProviderType, linked bool) error
	DeleteCredential(ctx context.Context, userID int64, p models.ProviderType) error
	DeleteSyncCursors(ctx context.Context, userID int64, p models.ProviderType) error
	DeleteCreatedEventsForUser(ctx context.Context, userID int64, p models.ProviderType) error
	UserHasPassword(ctx context.Context, userID int64) (bool, error)
	DeleteUser(ctx context.Context, userID int64) error
}

// Service is the token refresh engine and account linker.
type Service struct {
	logger    *slog.Logger
	store     CredentialStore
	providers map[models.ProviderType]provider.Provider
	now       func() time.Time
}

func NewService(logger *slog.Logger, store CredentialStore, providers ...provider.Provider) *Service {
	s := &Service{
		logger:    logger,
		store:     store,
		providers: make(map[models.ProviderType]provider.Provider, len(providers)),
		now:       time.Now,
	}
	for _, p := range providers {
		s.providers[p.Type()] = p
	}
	return s
}

// Provider returns the configured provider of type t.
func (s *Service) Provider(t models.ProviderType) (provider.Provider, error) {
	p, ok := s.providers[t]
	if !ok || !p.IsConfigured() {
		return nil, provider.ErrNotConfigured
	}
	return p, nil
}

// SupportedProviders lists the configured providers in a stable order.
func (s *Service) SupportedProviders() []models.ProviderType {
	var result []models.ProviderType
	for _, t := range models.AllProviders {
		if p, ok := s.providers[t]; ok && p.IsConfigured() {
			result = append(result, t)
		}
	}
	return result
}

// GetValidCredential returns a calendar-linked credential whose access token
// is currently valid, refreshing it if necessary. It returns nil, nil when
// the user has no credential or has not linked their calendar.
func (s *Service) GetValidCredential(ctx context.Context, t models.ProviderType, userID int64) (*models.Credential, error) {
	p, err := s.Provider(t)
	if err != nil {
		return nil, err
	}
	cred, err := s.store.GetCredential(ctx, userID, t)
	if err != nil {
		return nil, err
	}
	if cred == nil || !cred.LinkedCalendar {
		return nil, nil
	}
	return s.RefreshIfNecessary(ctx, p, cred)
}

// RefreshIfNecessary refreshes cred in place when its access token has
// expired. A refresh rejected with 401 or invalid_grant deletes the
// credential before the error is returned.
func (s *Service) RefreshIfNecessary(ctx context.Context, p provider.Provider, cred *models.Credential) (*models.Credential, error) {
	if cred.Valid(s.now()) {
		return cred, nil
	}
	if err := s.refresh(ctx, p, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func (s *Service) refresh(ctx context.Context, p provider.Provider, cred *models.Credential) error {
	s.logger.Debug("Refreshing access token", "userID", cred.UserID, "provider", cred.Provider)
	tok, err := p.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		s.forgetIfRevoked(ctx, cred, err)
		return fmt.Errorf("failed to refresh %s token: %w", cred.Provider, err)
	}
	cred.AccessToken = tok.AccessToken
	cred.AccessTokenExpiresAt = tok.ExpiresAt(s.now())
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	if err := s.store.UpdateCredentialTokens(ctx, cred); err != nil {
		return fmt.Errorf("failed to save refreshed token: %w", err)
	}
	return nil
}

// WithCredential runs one authenticated API call. If the provider rejects
// the access token with a 401, the token is refreshed and the call retried
// once; a second rejection deletes the credential.
func (s *Service) WithCredential(ctx context.Context, p provider.Provider, cred *models.Credential, call func(accessToken string) error) error {
	err := call(cred.AccessToken)
	if err == nil || !provider.IsUnauthorized(err) {
		return err
	}
	s.logger.Warn("Access token was rejected, refreshing", "userID", cred.UserID, "provider", cred.Provider)
	if err := s.refresh(ctx, p, cred); err != nil {
		return err
	}
	err = call(cred.AccessToken)
	if err != nil {
		s.forgetIfRevoked(ctx, cred, err)
	}
	return err
}

func (s *Service) forgetIfRevoked(ctx context.Context, cred *models.Credential, err error) {
	if !provider.IsUnauthorized(err) {
		return
	}
	s.logger.Warn("Credential was revoked by the provider, deleting it", "userID", cred.UserID, "provider", cred.Provider, "error", err)
	if delErr := s.store.DeleteCredential(ctx, cred.UserID, cred.Provider); delErr != nil {
		s.logger.Error("Failed to delete revoked credential", "userID", cred.UserID, "provider", cred.Provider, "error", delErr)
	}
}
