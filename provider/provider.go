// Package provider defines the Auth Backend Adapter contract. Implementations translate
// credential operations into identity-provider calls and normalize every result into a
// sessions.Session or a *sessions.AuthError.
package provider

import (
	"context"

	"github.com/jrsteele09/go-auth-client/sessions"
)

// Provider is the interface every authentication backend implements. No provider
// specific type crosses it.
type Provider interface {
	// SignIn authenticates with email and password. It returns a fully populated
	// session or an *sessions.AuthError.
	SignIn(ctx context.Context, email, password string) (*sessions.Session, error)

	// SignOut invalidates the provider side session. It is best effort: network
	// failures are logged and swallowed so local teardown is never blocked.
	SignOut(ctx context.Context) error

	// RefreshSession exchanges a refresh token for a new session.
	RefreshSession(ctx context.Context, refreshToken string) (*sessions.Session, error)

	// GetSession returns the provider's current session, or nil. It never fails.
	GetSession(ctx context.Context) *sessions.Session

	// Register creates an account and signs it in. It fails with
	// sessions.CodeNoSessionAfterSignUp when confirmation is required first.
	Register(ctx context.Context, email, password, displayName string) (*sessions.Session, error)
}

// Resumer is implemented by providers that keep their own copy of the session. The
// session store calls Resume with a session restored from storage, or refreshed
// outside the provider, so sign-out revocation and refresh see the same state as a
// session the provider issued in this process.
type Resumer interface {
	Resume(ctx context.Context, s *sessions.Session)
}
