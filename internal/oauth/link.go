package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"kaarna/internal/models"
	"kaarna/internal/provider"
	"kaarna/internal/store"
)

// IDClaims are the OpenID Connect claims read from a token response.
type IDClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// decodeIDToken reads the ID token claims without verifying the signature.
func decodeIDToken(raw string) (*IDClaims, error) {
	if raw == "" {
		return nil, errors.New("token response has no id_token")
	}
	var claims IDClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode id_token: %w", err)
	}
	if claims.Subject == "" || claims.Name == "" || claims.Email == "" {
		return nil, errors.New("id_token is missing the sub, name or email claim")
	}
	return &claims, nil
}

// AuthorizationURL starts a flow at provider t. Linking always requests
// consent so that a refresh token is issued.
func (s *Service) AuthorizationURL(ctx context.Context, t models.ProviderType, state *provider.State, promptConsent bool) (string, error) {
	p, err := s.Provider(t)
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(ctx, state, promptConsent)
}

// CompleteLink exchanges the authorization code returned to the redirect
// URI and stores a calendar-linked credential for state.UserID.
func (s *Service) CompleteLink(ctx context.Context, t models.ProviderType, code string, state *provider.State) (*models.Credential, error) {
	p, err := s.Provider(t)
	if err != nil {
		return nil, err
	}
	if state.Reason != provider.ReasonLink || state.UserID == nil {
		return nil, provider.ErrInvalidState
	}
	tok, err := p.Exchange(ctx, code, state)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, provider.ErrNoRefreshToken
	}
	if !tok.HasScopes(p.ExpectedScopes()) {
		s.logger.Error("Not all requested scopes were present", "provider", t, "scope", tok.Scope)
		return nil, provider.ErrNotAllScopesGranted
	}
	claims, err := decodeIDToken(tok.IDToken)
	if err != nil {
		return nil, err
	}

	cred := &models.Credential{
		UserID:               *state.UserID,
		Provider:             t,
		SubjectID:            claims.Subject,
		AccessToken:          tok.AccessToken,
		AccessTokenExpiresAt: tok.ExpiresAt(s.now()),
		RefreshToken:         tok.RefreshToken,
		LinkedCalendar:       true,
	}
	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, provider.ErrAccountAlreadyLinked
		}
		return nil, err
	}
	s.logger.Info("Linked external calendar", "userID", cred.UserID, "provider", t)
	return cred, nil
}

// Unlink stops calendar synchronization with provider t. A user without a
// password keeps the credential for sign-in and only loses the calendar
// link; otherwise the refresh token is revoked and the credential deleted.
func (s *Service) Unlink(ctx context.Context, t models.ProviderType, userID int64) error {
	p, err := s.Provider(t)
	if err != nil {
		return err
	}
	cred, err := s.store.GetCredential(ctx, userID, t)
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}
	hasPassword, err := s.store.UserHasPassword(ctx, userID)
	if err != nil {
		return err
	}

	if !hasPassword {
		if err := s.store.SetLinkedCalendar(ctx, userID, t, false); err != nil {
			return err
		}
		if err := s.store.DeleteCreatedEventsForUser(ctx, userID, t); err != nil {
			return err
		}
		return s.store.DeleteSyncCursors(ctx, userID, t)
	}

	if err := p.Revoke(ctx, cred.RefreshToken); err != nil {
		s.logger.Error("Failed to revoke refresh token", "userID", userID, "provider", t, "error", err)
	}
	if err := s.store.DeleteCredential(ctx, userID, t); err != nil {
		return err
	}
	s.logger.Info("Unlinked external calendar", "userID", userID, "provider", t)
	return nil
}

// RevokeAll revokes every credential of a user who is being deleted.
// Failures are logged and do not stop the remaining providers.
func (s *Service) RevokeAll(ctx context.Context, userID int64) {
	for _, t := range s.SupportedProviders() {
		cred, err := s.store.GetCredential(ctx, userID, t)
		if err != nil || cred == nil {
			continue
		}
		if err := s.providers[t].Revoke(ctx, cred.RefreshToken); err != nil {
			s.logger.Error("Failed to revoke refresh token", "userID", userID, "provider", t, "error", err)
		}
	}
}

// DeleteUser revokes the user's credentials and deletes the user; the
// credentials, cursors and created-event links go with the user row.
func (s *Service) DeleteUser(ctx context.Context, userID int64) error {
	s.RevokeAll(ctx, userID)
	return s.store.DeleteUser(ctx, userID)
}
