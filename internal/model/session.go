package model

import "time"

// Session is a server-side session row. Tokens are opaque hex strings; the
// table enforces at most one live session per account.
type Session struct {
	ID               int       `json:"-"`
	AccountID        int       `json:"-"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	Fingerprint      string    `json:"-"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	CreatedAt        time.Time `json:"-"`
}
