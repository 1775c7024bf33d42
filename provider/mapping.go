package provider

import (
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/sessions"
)

// DefaultSessionLifetime is used when a provider omits the expiry.
const DefaultSessionLifetime = time.Hour

// RawSession holds the provider-shaped fields a Session is built from. ExpiresAt is a
// pointer because providers may omit it.
type RawSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *int64 // unix seconds
	UserID       string
	Email        string
}

// MapSession is the total mapping from provider fields to the canonical Session.
// Every field is validated before construction, so it returns either a complete
// Session or an *sessions.AuthError naming the first missing field.
func MapSession(raw RawSession, now time.Time) (*sessions.Session, error) {
	if strings.TrimSpace(raw.AccessToken) == "" {
		return nil, sessions.NewAuthError(sessions.CodeMissingAccessToken, "Provider session is missing access_token.")
	}
	if strings.TrimSpace(raw.RefreshToken) == "" {
		return nil, sessions.NewAuthError(sessions.CodeMissingRefreshToken, "Provider session is missing refresh_token.")
	}
	if strings.TrimSpace(raw.Email) == "" {
		return nil, sessions.NewAuthError(sessions.CodeMissingUserEmail, "Provider user is missing email.")
	}
	if strings.TrimSpace(raw.UserID) == "" {
		return nil, sessions.NewAuthError(sessions.CodeMissingUserID, "Provider user is missing id.")
	}

	expiresAt := utils.Value(raw.ExpiresAt)
	if expiresAt <= 0 {
		expiresAt = now.Add(DefaultSessionLifetime).Unix()
	}

	return &sessions.Session{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		ExpiresAt:    expiresAt,
		User: sessions.User{
			ID:    raw.UserID,
			Email: raw.Email,
		},
	}, nil
}
