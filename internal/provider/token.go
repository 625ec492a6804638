package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

// expirySafetyMargin is subtracted from expires_in so a token is never used
// right at its expiry instant.
const expirySafetyMargin = 5

// TokenResponse is the body of a successful token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
}

// ExpiresAt returns the epoch second after which the access token must be
// refreshed.
func (t *TokenResponse) ExpiresAt(now time.Time) int64 {
	return now.Unix() + t.ExpiresIn - expirySafetyMargin
}

// HasScopes reports whether every expected scope was granted.
func (t *TokenResponse) HasScopes(expected []string) bool {
	granted := make(map[string]bool)
	for _, s := range strings.Fields(t.Scope) {
		granted[s] = true
	}
	for _, s := range expected {
		if !granted[s] {
			return false
		}
	}
	return true
}

type tokenErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// TokenClient posts form-encoded requests to OAuth2 token and revocation
// endpoints.
type TokenClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTokenClient creates a TokenClient. A nil httpClient uses a client with
// a 30 second timeout.
func NewTokenClient(logger *slog.Logger, httpClient *http.Client) *TokenClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenClient{httpClient: httpClient, logger: logger}
}

// Token posts form to endpoint and decodes the token response.
func (c *TokenClient) Token(ctx context.Context, endpoint string, form url.Values) (*TokenResponse, error) {
	body, err := c.post(ctx, endpoint, form)
	if err != nil {
		return nil, err
	}
	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response from %s has no access_token", endpoint)
	}
	return &tok, nil
}

// Exchange redeems an authorization code at cfg's token endpoint. opts carry
// provider-specific parameters such as the PKCE verifier.
func (c *TokenClient) Exchange(ctx context.Context, cfg *oauth2.Config, code string, opts ...oauth2.AuthCodeOption) (*TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			c.logger.Error("Token endpoint returned an error", "endpoint", cfg.Endpoint.TokenURL,
				"status", re.Response.StatusCode, "body", string(re.Body))
			return nil, &ErrorResponse{StatusCode: re.Response.StatusCode, Code: re.ErrorCode}
		}
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return fromOAuth2Token(tok, time.Now()), nil
}

func fromOAuth2Token(tok *oauth2.Token, now time.Time) *TokenResponse {
	resp := &TokenResponse{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(tok.Expiry.Sub(now).Round(time.Second) / time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	return resp
}

// Revoke posts the token to a revocation endpoint.
func (c *TokenClient) Revoke(ctx context.Context, endpoint, token string) error {
	_, err := c.post(ctx, endpoint, url.Values{"token": {token}})
	return err
}

func (c *TokenClient) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Token endpoint returned an error", "endpoint", endpoint, "status", resp.StatusCode, "body", string(body))
		var eb tokenErrorBody
		_ = json.Unmarshal(body, &eb)
		return nil, &ErrorResponse{StatusCode: resp.StatusCode, Code: eb.Error}
	}
	return body, nil
}
