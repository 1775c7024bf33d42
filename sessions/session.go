package sessions

import (
	"time"
)

// User is the minimal identity carried inside every session.
// Additional profile fields are fetched separately through the API client.
type User struct {
	ID    string `json:"id"`    // Provider user ID (subject)
	Email string `json:"email"` // Email address the user signed in with
}

// Session is the canonical authentication record shared by the store, the refresh
// coordinator and the request pipeline. A Session is either fully populated or absent;
// providers must build one through provider.MapSession, never field by field.
type Session struct {
	AccessToken  string `json:"accessToken"`  // Bearer credential attached to authorized requests
	RefreshToken string `json:"refreshToken"` // Exchanged for a new Session on expiry
	ExpiresAt    int64  `json:"expiresAt"`    // Unix seconds at which AccessToken expires
	User         User   `json:"user"`
}

// Complete reports whether every required field is populated.
func (s *Session) Complete() bool {
	if s == nil {
		return false
	}
	return s.AccessToken != "" && s.RefreshToken != "" && s.ExpiresAt > 0 && s.User.Email != ""
}

// Expiry returns ExpiresAt as a time.Time.
func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the access token expires before now+buffer.
// An already expired session always returns true.
func (s *Session) ExpiresWithin(now time.Time, buffer time.Duration) bool {
	return !now.Add(buffer).Before(s.Expiry())
}

// Clone returns a copy safe to hand to callers outside the owning store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
