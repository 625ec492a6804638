package provider

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Reasons an authorization flow can be started for.
const (
	ReasonLink   = "link"
	ReasonSignup = "signup"
	ReasonLogin  = "login"
)

// State round-trips through the provider in the "state" query parameter.
type State struct {
	Reason       string `json:"reason"`
	PostRedirect string `json:"postRedirect"`
	UserID       *int64 `json:"userID,omitempty"`
	// ClientNonce is passed from the browser to this server.
	ClientNonce string `json:"clientNonce,omitempty"`
	// ServerNonce is passed from this server to the provider; it keys the
	// PKCE code verifier.
	ServerNonce string `json:"serverNonce,omitempty"`
}

// Encode serializes the state for the authorization URL.
func (s *State) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode oauth2 state: %w", err)
	}
	return string(b), nil
}

// DecodeState parses the "state" parameter of a redirect. Any malformed
// value yields ErrInvalidState.
func DecodeState(raw string) (*State, error) {
	if raw == "" {
		return nil, ErrInvalidState
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, ErrInvalidState
	}
	switch s.Reason {
	case ReasonLink:
		if s.UserID == nil {
			return nil, ErrInvalidState
		}
	case ReasonSignup, ReasonLogin:
		if s.ClientNonce == "" {
			return nil, ErrInvalidState
		}
	default:
		return nil, ErrInvalidState
	}
	if s.PostRedirect == "" {
		return nil, ErrInvalidState
	}
	return &s, nil
}
