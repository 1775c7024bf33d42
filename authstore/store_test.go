package authstore_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/authstore"
	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/provider/mock"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/storage/memory"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "alice@forgeai.dev"
	testPassword = "password123"
)

type fixture struct {
	now      *atomic.Int64
	provider *mock.Provider
	storage  *memory.Store
	bus      *events.Bus
}

func newFixture(t *testing.T, options ...mock.Option) *fixture {
	t.Helper()
	f := &fixture{now: &atomic.Int64{}, storage: memory.New(), bus: events.NewBus()}
	f.now.Store(1_700_000_000)

	p, err := mock.New(append([]mock.Option{
		mock.WithHashCost(bcrypt.MinCost),
		mock.WithNowFunc(f.clock),
	}, options...)...)
	require.NoError(t, err)
	f.provider = p
	return f
}

func (f *fixture) clock() time.Time { return time.Unix(f.now.Load(), 0) }

func (f *fixture) advance(d time.Duration) { f.now.Add(int64(d / time.Second)) }

func (f *fixture) store(t *testing.T) *authstore.Store {
	t.Helper()
	s, err := authstore.New(f.provider, f.storage, f.bus, authstore.WithNowFunc(f.clock))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// failingSignOut is a provider whose remote sign-out always fails.
type failingSignOut struct {
	*mock.Provider
}

func (failingSignOut) SignOut(context.Context) error {
	return errors.New("network unreachable")
}

// panickingRefresh is a provider whose refresh crashes.
type panickingRefresh struct {
	*mock.Provider
}

func (panickingRefresh) RefreshSession(context.Context, string) (*sessions.Session, error) {
	panic("refresh exploded")
}

// failingGet is a storage whose reads fail.
type failingGet struct {
	*memory.Store
}

func (failingGet) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk read error")
}

// gatedStorage blocks MultiSet while gate is non-nil, until it is closed.
type gatedStorage struct {
	*memory.Store
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedStorage) MultiSet(ctx context.Context, pairs []storage.KV) error {
	if g.gate != nil {
		close(g.entered)
		<-g.gate
	}
	return g.Store.MultiSet(ctx, pairs)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials authenticate", func(t *testing.T) {
		f := newFixture(t)
		s := f.store(t)

		sess, err := s.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)
		require.Equal(t, testEmail, sess.User.Email)

		state := s.State()
		require.True(t, state.IsAuthenticated)
		require.False(t, state.IsLoading)
		require.Equal(t, testEmail, state.Session.User.Email)
		require.Equal(t, 3, f.storage.Len())

		token, err := s.AccessToken(ctx)
		require.NoError(t, err)
		require.Equal(t, sess.AccessToken, token)
	})

	t.Run("rejected credentials leave the store signed out", func(t *testing.T) {
		f := newFixture(t)
		s := f.store(t)

		_, err := s.Login(ctx, testEmail, "wrong")
		require.Equal(t, sessions.CodeWrongPassword, sessions.Code(err))

		state := s.State()
		require.False(t, state.IsAuthenticated)
		require.False(t, state.IsLoading)
		require.Zero(t, f.storage.Len())
	})

	t.Run("loading is visible while the provider is working", func(t *testing.T) {
		f := newFixture(t, mock.WithLatency(200*time.Millisecond))
		s := f.store(t)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = s.Login(ctx, testEmail, testPassword)
		}()
		require.Eventually(t, func() bool { return s.State().IsLoading }, time.Second, 5*time.Millisecond)
		<-done
		require.False(t, s.State().IsLoading)
	})
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("new account is signed in", func(t *testing.T) {
		f := newFixture(t)
		s := f.store(t)

		sess, err := s.Register(ctx, "dave@forgeai.dev", "secret-pw", "Dave")
		require.NoError(t, err)
		require.Equal(t, "dave@forgeai.dev", sess.User.Email)
		require.True(t, s.State().IsAuthenticated)
	})

	t.Run("confirmation pending", func(t *testing.T) {
		f := newFixture(t, mock.WithConfirmationRequired())
		s := f.store(t)

		_, err := s.Register(ctx, "dave@forgeai.dev", "secret-pw", "Dave")
		require.Equal(t, sessions.CodeNoSessionAfterSignUp, sessions.Code(err))
		require.False(t, s.State().IsAuthenticated)
		require.False(t, s.State().IsLoading)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("clears state even when provider sign-out fails", func(t *testing.T) {
		f := newFixture(t)
		s, err := authstore.New(failingSignOut{f.provider}, f.storage, f.bus)
		require.NoError(t, err)
		defer s.Close()

		_, err = s.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)

		var hookRan bool
		s.OnLogout(func(context.Context) { hookRan = true })
		s.Logout(ctx)

		require.True(t, hookRan)
		require.False(t, s.State().IsAuthenticated)
		require.Nil(t, s.Session())
		require.Zero(t, f.storage.Len())
	})

	t.Run("forced logout event signs out", func(t *testing.T) {
		f := newFixture(t)
		s := f.store(t)

		_, err := s.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)

		f.bus.Emit(events.ForceLogout)
		require.False(t, s.State().IsAuthenticated)
		require.Zero(t, f.storage.Len())
		require.EqualValues(t, 1, f.provider.Calls.SignOut.Load())
	})

	t.Run("closed store ignores forced logout", func(t *testing.T) {
		f := newFixture(t)
		s, err := authstore.New(f.provider, f.storage, f.bus)
		require.NoError(t, err)
		_, err = s.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)

		s.Close()
		f.bus.Emit(events.ForceLogout)
		require.True(t, s.State().IsAuthenticated)
	})
}

func TestRestoreSession(t *testing.T) {
	ctx := context.Background()

	// signedIn persists a session through one store, as a previous process would have.
	signedIn := func(t *testing.T, f *fixture) *sessions.Session {
		t.Helper()
		sess, err := f.store(t).Login(ctx, testEmail, testPassword)
		require.NoError(t, err)
		return sess
	}

	t.Run("nothing persisted", func(t *testing.T) {
		f := newFixture(t)
		state := f.store(t).RestoreSession(ctx)

		require.True(t, state.IsInitialized)
		require.False(t, state.IsAuthenticated)
		require.False(t, state.IsLoading)
	})

	t.Run("valid session is adopted without network", func(t *testing.T) {
		f := newFixture(t)
		want := signedIn(t, f)
		f.advance(mock.DefaultAccessTokenTTL - 2*time.Minute)

		state := f.store(t).RestoreSession(ctx)
		require.True(t, state.IsAuthenticated)
		require.Equal(t, want, state.Session)
		require.Zero(t, f.provider.Calls.Refresh.Load())
		require.Zero(t, f.provider.Calls.SignOut.Load())
	})

	t.Run("expiring session is refreshed once", func(t *testing.T) {
		f := newFixture(t)
		old := signedIn(t, f)
		f.advance(mock.DefaultAccessTokenTTL - 30*time.Second)

		s := f.store(t)
		state := s.RestoreSession(ctx)
		require.True(t, state.IsAuthenticated)
		require.NotEqual(t, old.AccessToken, state.Session.AccessToken)
		require.EqualValues(t, 1, f.provider.Calls.Refresh.Load())

		persisted, err := s.RefreshToken(ctx)
		require.NoError(t, err)
		require.Equal(t, state.Session.RefreshToken, persisted)
	})

	t.Run("failed refresh signs out and wipes storage", func(t *testing.T) {
		f := newFixture(t)
		signedIn(t, f)
		f.advance(mock.DefaultAccessTokenTTL + time.Hour)

		// a backend with a different signing key cannot resume the stored session
		other, err := mock.New(mock.WithHashCost(bcrypt.MinCost), mock.WithNowFunc(f.clock))
		require.NoError(t, err)
		s, err := authstore.New(other, f.storage, f.bus, authstore.WithNowFunc(f.clock))
		require.NoError(t, err)
		defer s.Close()

		state := s.RestoreSession(ctx)
		require.True(t, state.IsInitialized)
		require.False(t, state.IsAuthenticated)
		require.EqualValues(t, 1, other.Calls.Refresh.Load())
		require.Zero(t, f.storage.Len())
	})

	t.Run("panic during restore signs out and wipes storage", func(t *testing.T) {
		f := newFixture(t)
		signedIn(t, f)
		f.advance(mock.DefaultAccessTokenTTL)

		s, err := authstore.New(panickingRefresh{f.provider}, f.storage, f.bus, authstore.WithNowFunc(f.clock))
		require.NoError(t, err)
		defer s.Close()

		var state authstore.State
		require.NotPanics(t, func() { state = s.RestoreSession(ctx) })
		require.True(t, state.IsInitialized)
		require.False(t, state.IsAuthenticated)
		require.False(t, state.IsLoading)
		require.Zero(t, f.storage.Len())
	})

	t.Run("storage read failure signs out and wipes storage", func(t *testing.T) {
		f := newFixture(t)
		signedIn(t, f)

		s, err := authstore.New(f.provider, failingGet{f.storage}, f.bus, authstore.WithNowFunc(f.clock))
		require.NoError(t, err)
		defer s.Close()

		state := s.RestoreSession(ctx)
		require.True(t, state.IsInitialized)
		require.False(t, state.IsAuthenticated)
		require.Zero(t, f.storage.Len())
	})

	t.Run("restored session is resumed by a new provider process", func(t *testing.T) {
		key := []byte("0123456789abcdef0123456789abcdef")
		f := newFixture(t, mock.WithSigningKey(key))
		signedIn(t, f)
		f.advance(mock.DefaultAccessTokenTTL - 30*time.Second)

		next, err := mock.New(mock.WithHashCost(bcrypt.MinCost), mock.WithNowFunc(f.clock), mock.WithSigningKey(key))
		require.NoError(t, err)
		s, err := authstore.New(next, f.storage, f.bus, authstore.WithNowFunc(f.clock))
		require.NoError(t, err)
		defer s.Close()

		state := s.RestoreSession(ctx)
		require.True(t, state.IsAuthenticated)
		require.EqualValues(t, 1, next.Calls.Refresh.Load())
		require.Equal(t, state.Session, next.GetSession(ctx))
	})

	t.Run("corrupt record is wiped", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.storage.Set(ctx, "@forgeai/session", "garbage"))
		require.NoError(t, f.storage.Set(ctx, "@forgeai/auth_token", "stale"))

		state := f.store(t).RestoreSession(ctx)
		require.True(t, state.IsInitialized)
		require.False(t, state.IsAuthenticated)
		require.Zero(t, f.storage.Len())
	})

	t.Run("runs only once", func(t *testing.T) {
		f := newFixture(t)
		s := f.store(t)
		require.False(t, s.RestoreSession(ctx).IsAuthenticated)

		signedIn(t, f)
		require.False(t, s.RestoreSession(ctx).IsAuthenticated, "second restore must not reload storage")
		require.True(t, s.State().IsInitialized)
	})
}

func TestStoreWithCoordinator(t *testing.T) {
	ctx := context.Background()

	t.Run("refresh persists through the store", func(t *testing.T) {
		f := newFixture(t)
		s := f.store(t)
		first, err := s.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)

		c := refresh.NewCoordinator(s, f.provider, f.bus)
		token, err := c.Refresh(ctx)
		require.NoError(t, err)
		require.NotEqual(t, first.AccessToken, token)

		current, err := s.AccessToken(ctx)
		require.NoError(t, err)
		require.Equal(t, token, current)
	})

	t.Run("missing refresh token fails fast", func(t *testing.T) {
		f := newFixture(t)
		s := f.store(t)

		c := refresh.NewCoordinator(s, f.provider, f.bus)
		_, err := c.Refresh(ctx)
		require.Equal(t, sessions.CodeNoRefreshToken, sessions.Code(err))
		require.Zero(t, f.provider.Calls.Refresh.Load())
	})

	t.Run("failed refresh forces logout", func(t *testing.T) {
		f := newFixture(t)
		s := f.store(t)
		_, err := s.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)
		f.provider.Expire()

		c := refresh.NewCoordinator(s, f.provider, f.bus)
		_, err = c.Refresh(ctx)
		require.ErrorIs(t, err, sessions.ErrSessionExpired)
		require.False(t, s.State().IsAuthenticated)
		require.Zero(t, f.storage.Len())
	})

	t.Run("refresh finishing after logout does not resurrect the session", func(t *testing.T) {
		f := newFixture(t)
		s := f.store(t)
		sess, err := s.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)
		s.Logout(ctx)

		require.Error(t, s.ApplyRefreshedSession(ctx, sess))
		require.False(t, s.State().IsAuthenticated)
		require.Zero(t, f.storage.Len())
	})
}

func TestApplyRefreshedSession_RacingLogoutWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gated := &gatedStorage{Store: f.storage}
	s, err := authstore.New(f.provider, gated, f.bus)
	require.NoError(t, err)
	defer s.Close()

	sess, err := s.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)

	gated.entered, gated.gate = make(chan struct{}), make(chan struct{})
	applied := make(chan error, 1)
	go func() { applied <- s.ApplyRefreshedSession(ctx, sess) }()
	<-gated.entered

	logoutStarted := make(chan struct{})
	s.OnLogout(func(context.Context) { close(logoutStarted) })
	loggedOut := make(chan struct{})
	go func() {
		s.Logout(ctx)
		close(loggedOut)
	}()
	<-logoutStarted
	time.Sleep(20 * time.Millisecond)

	close(gated.gate)
	require.NoError(t, <-applied)
	<-loggedOut

	require.False(t, s.State().IsAuthenticated)
	require.Zero(t, f.storage.Len())
	require.Nil(t, f.provider.GetSession(ctx), "provider signed out after the refresh was applied")
}
