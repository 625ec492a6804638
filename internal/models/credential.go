package models

import "time"

// ProviderType identifies an external OAuth2 calendar provider.
type ProviderType string

const (
	ProviderGoogle    ProviderType = "google"
	ProviderMicrosoft ProviderType = "microsoft"
)

// AllProviders lists every provider type in a stable order.
var AllProviders = []ProviderType{ProviderGoogle, ProviderMicrosoft}

// ParseProviderType converts a path or flag value into a ProviderType.
func ParseProviderType(s string) (ProviderType, bool) {
	for _, p := range AllProviders {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Credential is the OAuth2 link between a user and one provider account.
// There is at most one per (user, provider) and each provider account
// (SubjectID) is linked to at most one user.
type Credential struct {
	UserID               int64
	Provider             ProviderType
	SubjectID            string
	AccessToken          string
	AccessTokenExpiresAt int64 // seconds since the Unix epoch
	RefreshToken         string
	// LinkedCalendar is false when the account is used for sign-in only.
	LinkedCalendar bool
}

// Valid reports whether the access token can still be used at now.
func (c *Credential) Valid(now time.Time) bool {
	return c.AccessTokenExpiresAt > now.Unix()
}
