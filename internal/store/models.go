package store

import "time"

// ProviderGoogleFit identifies the Google Fit data source
const ProviderGoogleFit = "google_fit"

// DataKeyState is the connection_data key holding the pending OAuth state
const DataKeyState = "state"

// Connection is a user's link to a fitness data provider. A pending
// connection has no tokens and carries the OAuth state in Data; an active
// one always has an access token.
type Connection struct {
	ID             int64             `db:"id"`
	UserID         int64             `db:"user_id"`
	Provider       string            `db:"provider"`
	AccessToken    string            `db:"access_token"`     // empty when null
	RefreshToken   string            `db:"refresh_token"`    // empty when null
	TokenExpiresAt *time.Time        `db:"token_expires_at"` // nullable
	IsActive       bool              `db:"is_active"`
	Data           map[string]string `db:"connection_data"`
	CreatedAt      time.Time         `db:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at"`
}

// State returns the pending OAuth state, if any
func (c *Connection) State() string {
	if c.Data == nil {
		return ""
	}
	return c.Data[DataKeyState]
}

// SetTokens merges a token set into the connection and marks it active.
// An empty refreshToken keeps the stored one; providers are not required
// to rotate it.
func (c *Connection) SetTokens(accessToken, refreshToken string, expiresAt time.Time) {
	c.AccessToken = accessToken
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	if expiresAt.IsZero() {
		c.TokenExpiresAt = nil
	} else {
		exp := expiresAt
		c.TokenExpiresAt = &exp
	}
	c.IsActive = true
}

// ClearTokens drops all token material and marks the connection inactive
func (c *Connection) ClearTokens() {
	c.AccessToken = ""
	c.RefreshToken = ""
	c.TokenExpiresAt = nil
	c.IsActive = false
}
