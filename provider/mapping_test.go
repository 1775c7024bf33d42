package provider_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/provider"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/stretchr/testify/require"
)

func validRaw() provider.RawSession {
	return provider.RawSession{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    utils.Ptr(int64(1_700_000_900)),
		UserID:       "usr_01",
		Email:        "alice@forgeai.dev",
	}
}

func TestMapSession(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("complete session", func(t *testing.T) {
		s, err := provider.MapSession(validRaw(), now)
		require.NoError(t, err)
		require.Equal(t, &sessions.Session{
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    1_700_000_900,
			User:         sessions.User{ID: "usr_01", Email: "alice@forgeai.dev"},
		}, s)
	})

	t.Run("missing expiry falls back to one hour", func(t *testing.T) {
		raw := validRaw()
		raw.ExpiresAt = nil
		s, err := provider.MapSession(raw, now)
		require.NoError(t, err)
		require.Equal(t, now.Add(time.Hour).Unix(), s.ExpiresAt)
	})

	tests := []struct {
		name   string
		mutate func(*provider.RawSession)
		code   string
	}{
		{"missing access token", func(r *provider.RawSession) { r.AccessToken = "" }, sessions.CodeMissingAccessToken},
		{"missing refresh token", func(r *provider.RawSession) { r.RefreshToken = " " }, sessions.CodeMissingRefreshToken},
		{"missing email", func(r *provider.RawSession) { r.Email = "" }, sessions.CodeMissingUserEmail},
		{"missing user id", func(r *provider.RawSession) { r.UserID = "" }, sessions.CodeMissingUserID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)
			s, err := provider.MapSession(raw, now)
			require.Nil(t, s, "no partial session may be produced")
			require.Equal(t, tt.code, sessions.Code(err))
		})
	}
}
