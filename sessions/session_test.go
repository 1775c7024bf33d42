package sessions_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/stretchr/testify/require"
)

func testSession(expiresAt time.Time) *sessions.Session {
	return &sessions.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    expiresAt.Unix(),
		User:         sessions.User{ID: "usr_01", Email: "alice@forgeai.dev"},
	}
}

func TestSession_ExpiresWithin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("well in the future", func(t *testing.T) {
		s := testSession(now.Add(10 * time.Minute))
		require.False(t, s.ExpiresWithin(now, time.Minute))
	})

	t.Run("inside the buffer", func(t *testing.T) {
		s := testSession(now.Add(30 * time.Second))
		require.True(t, s.ExpiresWithin(now, time.Minute))
	})

	t.Run("exactly at the buffer edge", func(t *testing.T) {
		s := testSession(now.Add(time.Minute))
		require.True(t, s.ExpiresWithin(now, time.Minute))
	})

	t.Run("already expired", func(t *testing.T) {
		s := testSession(now.Add(-time.Hour))
		require.True(t, s.ExpiresWithin(now, 0))
	})
}

func TestSession_Complete(t *testing.T) {
	now := time.Now()
	require.True(t, testSession(now).Complete())

	var nilSession *sessions.Session
	require.False(t, nilSession.Complete())

	s := testSession(now)
	s.User.Email = ""
	require.False(t, s.Complete())

	s = testSession(now)
	s.RefreshToken = ""
	require.False(t, s.Complete())
}

func TestSession_CloneIsIndependent(t *testing.T) {
	s := testSession(time.Now())
	c := s.Clone()
	c.AccessToken = "changed"
	require.Equal(t, "access-1", s.AccessToken)
}

func TestAuthError(t *testing.T) {
	t.Run("session expired wraps sentinel and cause", func(t *testing.T) {
		cause := sessions.NewAuthError(sessions.CodeInvalidRefreshToken, "Refresh token is invalid or expired.")
		err := sessions.NewSessionExpiredError(cause.Code, cause)

		require.True(t, errors.Is(err, sessions.ErrSessionExpired))
		require.Equal(t, sessions.CodeInvalidRefreshToken, err.Code)
		require.Equal(t, "Your session has expired. Please sign in again.", err.UserMessage())

		var inner *sessions.AuthError
		require.True(t, errors.As(err.Err, &inner))
		require.Equal(t, cause, inner)
	})

	t.Run("session expired defaults code", func(t *testing.T) {
		err := sessions.NewSessionExpiredError("", errors.New("boom"))
		require.Equal(t, sessions.CodeRefreshFailed, err.Code)
	})

	t.Run("credential errors are shown verbatim", func(t *testing.T) {
		err := sessions.NewAuthError(sessions.CodeWrongPassword, "Incorrect password.")
		require.Equal(t, "Incorrect password.", err.UserMessage())
	})

	t.Run("provider shape errors are generic", func(t *testing.T) {
		err := sessions.NewAuthError(sessions.CodeMissingUserEmail, "provider user is missing email")
		require.Equal(t, "Something went wrong. Please try again.", err.UserMessage())
	})

	t.Run("code extraction", func(t *testing.T) {
		err := fmt.Errorf("login: %w", sessions.NewAuthError(sessions.CodeUserNotFound, "nope"))
		require.Equal(t, sessions.CodeUserNotFound, sessions.Code(err))
		require.Equal(t, "", sessions.Code(errors.New("plain")))
	})
}
