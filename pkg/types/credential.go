package types

import "time"

// Credential is an OAuth2 token set. An empty RefreshToken marks a static
// secret that is never refreshed.
type Credential struct {
	Provider     string `json:"provider"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt"` // epoch milliseconds
	Scope        string `json:"scope,omitempty"`
}

// Refreshable reports whether the credential carries a refresh token
func (c *Credential) Refreshable() bool {
	return c.RefreshToken != ""
}

// Expiry returns ExpiresAt as a time
func (c *Credential) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}
