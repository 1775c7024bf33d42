// Package authstore owns the authenticated session: it signs users in and out through a
// provider, mirrors the session to durable storage and restores it at start-up.
package authstore

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/events"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/provider"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiryBuffer is how close to expiry a restored session must be to be refreshed.
	DefaultExpiryBuffer = 60 * time.Second

	// DefaultKeyPrefix namespaces the persisted credential keys.
	DefaultKeyPrefix = "@forgeai/"

	forcedLogoutTimeout = 10 * time.Second
)

// Subscriber is the part of the event bus the store listens on.
type Subscriber interface {
	On(event events.Event, h events.Handler) (events.Subscription, error)
	Off(event events.Event, id events.Subscription)
}

// LogoutHook stops background work that needs an authenticated session.
type LogoutHook func(ctx context.Context)

// State is a read-only snapshot of the store.
type State struct {
	Session         *sessions.Session
	IsAuthenticated bool
	IsLoading       bool
	IsInitialized   bool
}

// Store is the single writer of the in-memory session and its persisted record.
type Store struct {
	provider     provider.Provider
	storage      storage.Storage
	bus          Subscriber
	keys         storage.Keys
	expiryBuffer time.Duration
	nowFunc      func() time.Time

	// writeMu serializes changes to the session and its persisted record
	writeMu sync.Mutex

	mu          sync.RWMutex
	session     *sessions.Session
	loading     int
	initialized bool
	hooks       []LogoutHook
	restoreOnce sync.Once

	subscription events.Subscription
}

type Option func(*Store)

// WithExpiryBuffer overrides DefaultExpiryBuffer. Negative values are ignored.
func WithExpiryBuffer(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.expiryBuffer = d
		}
	}
}

// WithKeyPrefix changes the storage key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.keys = storage.NewKeys(prefix)
	}
}

// WithNowFunc sets the clock used for expiry checks (primarily for testing)
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// New creates a Store and subscribes it to the forced logout event.
func New(p provider.Provider, st storage.Storage, bus Subscriber, options ...Option) (*Store, error) {
	if p == nil || st == nil || bus == nil {
		return nil, errors.New("[authstore New] provider, storage and bus are required")
	}

	s := &Store{
		provider:     p,
		storage:      st,
		bus:          bus,
		keys:         storage.NewKeys(DefaultKeyPrefix),
		expiryBuffer: DefaultExpiryBuffer,
		nowFunc:      time.Now,
	}
	for _, opt := range options {
		opt(s)
	}

	id, err := bus.On(events.ForceLogout, s.onForceLogout)
	if err != nil {
		return nil, errors.Wrap(err, "[authstore New] subscribe to forced logout")
	}
	s.subscription = id
	return s, nil
}

// Close unsubscribes from the event bus.
func (s *Store) Close() {
	s.bus.Off(events.ForceLogout, s.subscription)
}

// OnLogout registers a hook run at the start of every logout.
func (s *Store) OnLogout(hook LogoutHook) {
	if hook == nil {
		return
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

func (s *Store) Login(ctx context.Context, email, password string) (*sessions.Session, error) {
	s.beginLoading()
	defer s.endLoading()

	sess, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		log.Warn().Err(err).Str("code", sessions.Code(err)).Msg("login failed")
		return nil, err
	}
	if err := s.adopt(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (s *Store) Register(ctx context.Context, email, password, displayName string) (*sessions.Session, error) {
	s.beginLoading()
	defer s.endLoading()

	sess, err := s.provider.Register(ctx, email, password, displayName)
	if err != nil {
		log.Warn().Err(err).Str("code", sessions.Code(err)).Msg("registration failed")
		return nil, err
	}
	if err := s.adopt(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Logout ends the session. Provider sign-out is best effort; local state and the
// persisted record are always cleared.
func (s *Store) Logout(ctx context.Context) {
	s.mu.RLock()
	hooks := append([]LogoutHook(nil), s.hooks...)
	s.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.provider.SignOut(ctx); err != nil {
		log.Warn().Err(err).Msg("provider sign-out failed (ignored)")
	}
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	s.wipe(ctx)
}

// RestoreSession loads the persisted session once at start-up. A session expiring within
// the buffer is refreshed silently; any failure leaves the store signed out with storage
// wiped. Later calls return the current state without doing anything.
func (s *Store) RestoreSession(ctx context.Context) State {
	s.restoreOnce.Do(func() {
		s.beginLoading()
		s.restoreSafely(ctx)

		s.mu.Lock()
		s.loading--
		s.initialized = true
		s.mu.Unlock()
	})
	return s.State()
}

func (s *Store) restoreSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("restoring session panicked, signing out")
			s.mu.Lock()
			s.session = nil
			s.mu.Unlock()
			s.wipe(ctx)
		}
	}()
	s.restore(ctx)
}

func (s *Store) restore(ctx context.Context) {
	persisted, err := s.loadPersistedSession(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("discarding unreadable persisted session")
		s.wipe(ctx)
		return
	}
	if persisted == nil {
		return
	}
	s.resume(ctx, persisted)

	if !persisted.ExpiresWithin(s.nowFunc(), s.expiryBuffer) {
		s.setSession(persisted)
		return
	}

	refreshed, err := s.provider.RefreshSession(ctx, persisted.RefreshToken)
	if err != nil {
		log.Info().Err(err).Str("code", sessions.Code(err)).Msg("persisted session expired and could not be refreshed")
		s.wipe(ctx)
		return
	}
	if err := s.adopt(ctx, refreshed); err != nil {
		log.Warn().Err(err).Msg("refreshed session could not be persisted")
		s.wipe(ctx)
	}
}

// State returns a snapshot safe to hand to other components.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Session:         s.session.Clone(),
		IsAuthenticated: s.session != nil,
		IsLoading:       s.loading > 0,
		IsInitialized:   s.initialized,
	}
}

// Session returns a copy of the current session, or nil.
func (s *Store) Session() *sessions.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// AccessToken implements pipeline.TokenSource. It is empty when signed out.
func (s *Store) AccessToken(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return "", nil
	}
	return s.session.AccessToken, nil
}

// RefreshToken implements refresh.Credentials, reading the durable record.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	token, _, err := s.storage.Get(ctx, s.keys.RefreshToken)
	if err != nil {
		return "", errors.Wrap(err, "[Store RefreshToken]")
	}
	return token, nil
}

// ApplyRefreshedSession implements refresh.Credentials. A refresh that completes after
// the user signed out is discarded rather than resurrecting the session.
func (s *Store) ApplyRefreshedSession(ctx context.Context, sess *sessions.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	active := s.session != nil
	s.mu.RUnlock()
	if !active {
		return apperrors.Wrapf(apperrors.ErrNotFound, "[Store ApplyRefreshedSession] no active session")
	}
	if err := s.adoptLocked(ctx, sess); err != nil {
		return err
	}
	s.resume(ctx, sess)
	return nil
}

// adopt persists sess and then makes it current.
func (s *Store) adopt(ctx context.Context, sess *sessions.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.adoptLocked(ctx, sess)
}

func (s *Store) adoptLocked(ctx context.Context, sess *sessions.Session) error {
	if !sess.Complete() {
		return sessions.NewAuthError(sessions.CodeNoSessionReturned, "Provider returned an incomplete session.")
	}
	if err := s.persistSession(ctx, sess); err != nil {
		log.Error().Err(err).Msg("failed to persist session")
		return sessions.WrapAuthError(sessions.CodePersistFailed, "Could not save your session.", err)
	}
	s.setSession(sess)
	return nil
}

// resume hands sess to providers that track their own session copy.
func (s *Store) resume(ctx context.Context, sess *sessions.Session) {
	if r, ok := s.provider.(provider.Resumer); ok {
		r.Resume(ctx, sess)
	}
}

func (s *Store) setSession(sess *sessions.Session) {
	s.mu.Lock()
	s.session = sess.Clone()
	s.mu.Unlock()
}

func (s *Store) wipe(ctx context.Context) {
	if err := s.clearPersistedSession(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("failed to clear persisted session (ignored)")
	}
}

func (s *Store) onForceLogout() {
	ctx, cancel := context.WithTimeout(context.Background(), forcedLogoutTimeout)
	defer cancel()
	log.Info().Msg("forced logout")
	s.Logout(ctx)
}

func (s *Store) beginLoading() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
}

func (s *Store) endLoading() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
}
