// Package microsoft implements the Microsoft identity platform and Graph
// calendar provider. Token requests authenticate with a certificate-signed
// client assertion and authorization codes are bound with PKCE.
package microsoft

import (
	"context"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"kaarna/internal/models"
	"kaarna/internal/provider"
)

const (
	clientAssertionType     = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	clientAssertionLifetime = 5 * time.Minute
	calendarScope           = "https://graph.microsoft.com/Calendars.ReadWrite"
	defaultTenant           = "consumers"
	defaultGraphBaseURL     = "https://graph.microsoft.com/v1.0"
)

// Config holds the Microsoft OAuth2 client settings.
type Config struct {
	Enabled         bool
	ClientID        string
	TenantID        string
	RedirectURL     string
	CertificatePath string
	PrivateKeyPath  string

	// AuthorityURL replaces https://login.microsoftonline.com/<tenant>.
	AuthorityURL string
	GraphBaseURL string
}

// Provider is the Microsoft implementation of provider.Provider.
type Provider struct {
	logger       *slog.Logger
	oauth        *oauth2.Config
	tokens       *provider.TokenClient
	httpClient   *http.Client
	verifiers    provider.VerifierCache
	graphBaseURL string

	privateKey *rsa.PrivateKey
	x5t        string
}

// New creates a Microsoft provider. It stays unconfigured when disabled, when
// a required setting is missing, or when the certificate or private key
// cannot be read.
func New(logger *slog.Logger, cfg Config, verifiers provider.VerifierCache, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = defaultTenant
	}
	endpoint := microsoft.AzureADEndpoint(tenant)
	if cfg.AuthorityURL != "" {
		base := strings.TrimSuffix(cfg.AuthorityURL, "/")
		endpoint = oauth2.Endpoint{
			AuthURL:  base + "/oauth2/v2.0/authorize",
			TokenURL: base + "/oauth2/v2.0/token",
		}
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	p := &Provider{
		logger: logger,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      []string{"openid", "profile", "email", "offline_access", calendarScope},
			Endpoint:    endpoint,
		},
		tokens:       provider.NewTokenClient(logger, httpClient),
		httpClient:   httpClient,
		verifiers:    verifiers,
		graphBaseURL: defaultGraphBaseURL,
	}
	if cfg.GraphBaseURL != "" {
		p.graphBaseURL = strings.TrimSuffix(cfg.GraphBaseURL, "/")
	}

	if !cfg.Enabled || cfg.ClientID == "" || cfg.RedirectURL == "" || cfg.CertificatePath == "" || cfg.PrivateKeyPath == "" {
		return p
	}
	if err := p.loadKeyPair(cfg.CertificatePath, cfg.PrivateKeyPath); err != nil {
		logger.Error("Failed to load Microsoft client certificate", "error", err)
	}
	return p
}

func (p *Provider) loadKeyPair(certificatePath, privateKeyPath string) error {
	certPEM, err := os.ReadFile(certificatePath)
	if err != nil {
		return fmt.Errorf("unable to read certificate: %w", err)
	}
	x5t, err := certificateThumbprint(certPEM)
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return fmt.Errorf("unable to read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return fmt.Errorf("unable to parse private key: %w", err)
	}
	p.x5t = x5t
	p.privateKey = key
	return nil
}

// certificateThumbprint returns the base64url-encoded SHA-1 digest of the
// DER certificate, used as the x5t header of client assertions.
func certificateThumbprint(certPEM []byte) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", errors.New("certificate file does not contain a PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("unable to parse certificate: %w", err)
	}
	sum := sha1.Sum(cert.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

func (p *Provider) Type() models.ProviderType { return models.ProviderMicrosoft }

func (p *Provider) IsConfigured() bool { return p.privateKey != nil }

// ExpectedScopes omits offline_access, which is never echoed back.
func (p *Provider) ExpectedScopes() []string {
	return []string{"openid", "profile", "email", calendarScope}
}

// AuthCodeURL stores a fresh PKCE verifier under a server nonce and embeds
// the nonce in state.
func (p *Provider) AuthCodeURL(ctx context.Context, state *provider.State, promptConsent bool) (string, error) {
	nonce := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	if err := p.verifiers.Put(ctx, nonce, verifier); err != nil {
		return "", err
	}
	withNonce := *state
	withNonce.ServerNonce = nonce
	encoded, err := withNonce.Encode()
	if err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.S256ChallengeOption(verifier),
	}
	if promptConsent {
		opts = append(opts, oauth2.ApprovalForce)
	}
	return p.oauth.AuthCodeURL(encoded, opts...), nil
}

func (p *Provider) Exchange(ctx context.Context, code string, state *provider.State) (*provider.TokenResponse, error) {
	if state == nil || state.ServerNonce == "" {
		return nil, provider.ErrInvalidState
	}
	verifier, ok, err := p.verifiers.Pop(ctx, state.ServerNonce)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, provider.ErrInvalidOrExpiredNonce
	}
	assertion, err := p.clientAssertion(time.Now())
	if err != nil {
		return nil, err
	}
	return p.tokens.Exchange(ctx, p.oauth, code,
		oauth2.VerifierOption(verifier),
		oauth2.SetAuthURLParam("client_assertion_type", clientAssertionType),
		oauth2.SetAuthURLParam("client_assertion", assertion),
	)
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*provider.TokenResponse, error) {
	assertion, err := p.clientAssertion(time.Now())
	if err != nil {
		return nil, err
	}
	return p.tokens.Token(ctx, p.oauth.Endpoint.TokenURL, url.Values{
		"grant_type":            {"refresh_token"},
		"refresh_token":         {refreshToken},
		"client_id":             {p.oauth.ClientID},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	})
}

// Revoke is a no-op; the Microsoft identity platform has no revocation endpoint.
func (p *Provider) Revoke(context.Context, string) error { return nil }

// clientAssertion signs a short-lived JWT proving possession of the
// application certificate.
func (p *Provider) clientAssertion(now time.Time) (string, error) {
	if p.privateKey == nil {
		return "", provider.ErrNotConfigured
	}
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{p.oauth.Endpoint.TokenURL},
		Issuer:    p.oauth.ClientID,
		Subject:   p.oauth.ClientID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(clientAssertionLifetime)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["x5t"] = p.x5t
	signed, err := token.SignedString(p.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}
	return signed, nil
}
