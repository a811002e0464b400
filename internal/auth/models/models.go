package models

import "time"

// TokenRecord is the credential set issued by a login or refresh. It is
// always replaced as a whole; partial field updates would allow readers to
// observe a half-consistent record.
type TokenRecord struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	Scope        string `json:"scope,omitempty"`
	// ExpiresAt is a unix-seconds timestamp. Zero means non-expiring.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
	IssuedAt  int64 `json:"issuedAt,omitempty"`
}

// Expired reports whether the record is past its expiry, with buffer
// subtracted so a token reads as expired slightly before it truly is.
func (r *TokenRecord) Expired(now time.Time, buffer time.Duration) bool {
	if r.ExpiresAt == 0 {
		return false
	}
	return now.Unix() >= r.ExpiresAt-int64(buffer.Seconds())
}

// UserProfile is the account information delivered with a login callback.
// Stored alongside the token record but independently clearable.
type UserProfile struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Plan   string `json:"plan,omitempty"`
}

// CallbackPayload is the decoded contents of a deep-link login callback.
// It is never persisted; it is consumed immediately into a TokenRecord plus
// UserProfile or discarded.
type CallbackPayload struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
	User         *UserProfile
	// State echoes the session identifier embedded in the login URL, when
	// the identity service round-trips it.
	State string
}
