package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotConfigured         = errors.New("oauth2 provider is not configured")
	ErrInvalidState          = errors.New("invalid oauth2 state")
	ErrInvalidOrExpiredNonce = errors.New("invalid or expired oauth2 nonce")
	ErrNoRefreshToken        = errors.New("no refresh token in oauth2 response")
	ErrNotAllScopesGranted   = errors.New("not all requested oauth2 scopes were granted")
	ErrAccountAlreadyLinked  = errors.New("oauth2 account is already linked to another user")
)

// ErrorResponse is a non-2xx response from a token endpoint or calendar API.
type ErrorResponse struct {
	StatusCode int
	// Code is the OAuth2 "error" field or the API's error code, if any.
	Code string
}

func (e *ErrorResponse) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("oauth2 provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("oauth2 provider returned status %d (%s)", e.StatusCode, e.Code)
}

func asErrorResponse(err error) (*ErrorResponse, bool) {
	var resp *ErrorResponse
	if errors.As(err, &resp) {
		return resp, true
	}
	return nil, false
}

// IsUnauthorized reports whether err means the stored tokens were rejected
// and the credential cannot be used anymore.
func IsUnauthorized(err error) bool {
	resp, ok := asErrorResponse(err)
	return ok && (resp.StatusCode == http.StatusUnauthorized || resp.Code == "invalid_grant")
}

// IsGone reports whether err is a 410, which invalidates a sync cursor.
func IsGone(err error) bool {
	resp, ok := asErrorResponse(err)
	return ok && resp.StatusCode == http.StatusGone
}

// IsNotFound reports whether err means the remote object no longer exists.
func IsNotFound(err error) bool {
	resp, ok := asErrorResponse(err)
	return ok && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone)
}
