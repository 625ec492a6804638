package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"kaarna/internal/models"
	"kaarna/internal/provider"
)

const (
	revokeURL = "https://oauth2.googleapis.com/revoke"
	// calendarEventsOwnedScope allows managing events on calendars the user owns.
	calendarEventsOwnedScope = "https://www.googleapis.com/auth/calendar.events.owned"
)

// Config holds the Google OAuth2 client settings. The URL fields default to
// Google's production endpoints.
type Config struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL    string
	TokenURL   string
	RevokeURL  string
	APIBaseURL string
}

// Provider is the Google implementation of provider.Provider.
type Provider struct {
	logger     *slog.Logger
	oauth      *oauth2.Config
	tokens     *provider.TokenClient
	httpClient *http.Client
	revokeURL  string
	apiBaseURL string
	configured bool
}

// New creates a Google provider. It is unconfigured unless enabled and all of
// the client ID, client secret and redirect URL are set.
func New(logger *slog.Logger, cfg Config, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint := google.Endpoint
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	p := &Provider{
		logger: logger,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email", calendarEventsOwnedScope},
			Endpoint:     endpoint,
		},
		tokens:     provider.NewTokenClient(logger, httpClient),
		httpClient: httpClient,
		revokeURL:  revokeURL,
		apiBaseURL: cfg.APIBaseURL,
		configured: cfg.Enabled && cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.RedirectURL != "",
	}
	if cfg.RevokeURL != "" {
		p.revokeURL = cfg.RevokeURL
	}
	return p
}

func (p *Provider) Type() models.ProviderType { return models.ProviderGoogle }

func (p *Provider) IsConfigured() bool { return p.configured }

// ExpectedScopes lists the scopes as Google echoes them back, which differs
// from how profile and email are requested.
func (p *Provider) ExpectedScopes() []string {
	return []string{
		"openid",
		"https://www.googleapis.com/auth/userinfo.profile",
		"https://www.googleapis.com/auth/userinfo.email",
		calendarEventsOwnedScope,
	}
}

func (p *Provider) AuthCodeURL(_ context.Context, state *provider.State, promptConsent bool) (string, error) {
	encoded, err := state.Encode()
	if err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("response_mode", "query"),
	}
	if promptConsent {
		opts = append(opts, oauth2.ApprovalForce)
	}
	return p.oauth.AuthCodeURL(encoded, opts...), nil
}

func (p *Provider) Exchange(ctx context.Context, code string, _ *provider.State) (*provider.TokenResponse, error) {
	return p.tokens.Exchange(ctx, p.oauth, code)
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*provider.TokenResponse, error) {
	return p.tokens.Token(ctx, p.oauth.Endpoint.TokenURL, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {p.oauth.ClientID},
		"client_secret": {p.oauth.ClientSecret},
	})
}

func (p *Provider) Revoke(ctx context.Context, refreshToken string) error {
	if err := p.tokens.Revoke(ctx, p.revokeURL, refreshToken); err != nil {
		return fmt.Errorf("failed to revoke google token: %w", err)
	}
	return nil
}
