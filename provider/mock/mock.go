// Package mock is an in-memory identity backend for development and tests. It
// issues short-lived HS256 access tokens and rotates refresh tokens on every use,
// so refresh handling can be exercised without a real provider.
package mock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/provider"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultAccessTokenTTL matches a production-like short expiry so refresh logic
	// can be exercised without waiting hours.
	DefaultAccessTokenTTL = 15 * time.Minute

	issuer             = "forgeai-mock"
	refreshTokenLength = 32
)

// SeedUser is a demo account created by New.
type SeedUser struct {
	ID          string
	Email       string
	Password    string
	DisplayName string
}

// DefaultUsers are the demo accounts available out of the box.
var DefaultUsers = []SeedUser{
	{ID: "usr_01", Email: "alice@forgeai.dev", Password: "password123", DisplayName: "Alice Chen"},
	{ID: "usr_02", Email: "bob@forgeai.dev", Password: "password123", DisplayName: "Bob Martinez"},
	{ID: "usr_03", Email: "carol@forgeai.dev", Password: "password123", DisplayName: "Carol Kim"},
}

type user struct {
	id           string
	email        string
	displayName  string
	passwordHash string
	confirmed    bool
}

// Calls counts provider invocations; tests use it to assert single-flight behaviour.
type Calls struct {
	SignIn   atomic.Int64
	SignOut  atomic.Int64
	Refresh  atomic.Int64
	Register atomic.Int64
}

// Provider implements provider.Provider entirely in memory.
type Provider struct {
	mu      sync.Mutex
	users   map[string]*user // keyed by lower-cased email
	current *sessions.Session

	signingKey          []byte
	accessTokenTTL      time.Duration
	latency             time.Duration
	hashCost            int
	requireConfirmation bool
	seed                []SeedUser
	nowFunc             func() time.Time

	Calls Calls
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Resumer  = (*Provider)(nil)
)

type Option func(*Provider)

// WithLatency delays every call to simulate a network round trip.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) {
		p.latency = d
	}
}

func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		p.accessTokenTTL = ttl
	}
}

// WithNowFunc sets the clock (primarily for testing)
func WithNowFunc(now func() time.Time) Option {
	return func(p *Provider) {
		p.nowFunc = now
	}
}

// WithHashCost sets the bcrypt cost; tests use bcrypt.MinCost to stay fast.
func WithHashCost(cost int) Option {
	return func(p *Provider) {
		p.hashCost = cost
	}
}

// WithConfirmationRequired makes Register withhold the session, as providers that
// require email confirmation do.
func WithConfirmationRequired() Option {
	return func(p *Provider) {
		p.requireConfirmation = true
	}
}

// WithSigningKey fixes the HS256 key so tokens stay valid across processes.
func WithSigningKey(key []byte) Option {
	return func(p *Provider) {
		p.signingKey = key
	}
}

// WithUsers replaces the default demo accounts.
func WithUsers(users ...SeedUser) Option {
	return func(p *Provider) {
		p.seed = users
	}
}

// New creates a mock provider seeded with DefaultUsers unless WithUsers is given.
func New(options ...Option) (*Provider, error) {
	p := &Provider{
		users:          make(map[string]*user),
		accessTokenTTL: DefaultAccessTokenTTL,
		hashCost:       bcrypt.DefaultCost,
		seed:           DefaultUsers,
		nowFunc:        time.Now,
	}
	for _, opt := range options {
		opt(p)
	}

	if p.signingKey == nil {
		key, err := randomBytes(32)
		if err != nil {
			return nil, errors.Wrap(err, "[mock New] signing key")
		}
		p.signingKey = key
	}

	for _, s := range p.seed {
		hash, err := hashPassword(s.Password, p.hashCost)
		if err != nil {
			return nil, errors.Wrapf(err, "[mock New] hash password for %s", s.Email)
		}
		p.users[strings.ToLower(s.Email)] = &user{
			id:           s.ID,
			email:        s.Email,
			displayName:  s.DisplayName,
			passwordHash: hash,
			confirmed:    true,
		}
	}
	return p, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*sessions.Session, error) {
	p.Calls.SignIn.Add(1)
	if err := p.simulateLatency(ctx); err != nil {
		return nil, sessions.WrapAuthError(sessions.CodeSignInError, "Sign-in was cancelled.", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, sessions.NewAuthError(sessions.CodeUserNotFound,
			fmt.Sprintf("No account found for %q. Try alice@forgeai.dev / password123.", email))
	}
	if !checkPasswordHash(password, u.passwordHash) {
		return nil, sessions.NewAuthError(sessions.CodeWrongPassword, "Incorrect password.")
	}
	if !u.confirmed {
		return nil, sessions.NewAuthError(sessions.CodeSignInError, "Email address has not been confirmed.")
	}

	return p.issueLocked(u.id, u.email)
}

// SignOut never fails; a cancelled context is logged and the session still dropped.
func (p *Provider) SignOut(ctx context.Context) error {
	p.Calls.SignOut.Add(1)
	if err := p.simulateLatency(ctx); err != nil {
		log.Warn().Err(err).Msg("mock signOut interrupted (ignored)")
	}

	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	return nil
}

func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (*sessions.Session, error) {
	p.Calls.Refresh.Add(1)
	if err := p.simulateLatency(ctx); err != nil {
		return nil, sessions.WrapAuthError(sessions.CodeRefreshError, "Token refresh was cancelled.", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || refreshToken == "" || p.current.RefreshToken != refreshToken {
		return nil, sessions.NewAuthError(sessions.CodeInvalidRefreshToken, "Refresh token is invalid or expired.")
	}
	return p.issueLocked(p.current.User.ID, p.current.User.Email)
}

func (p *Provider) GetSession(ctx context.Context) *sessions.Session {
	if err := p.simulateLatency(ctx); err != nil {
		log.Warn().Err(err).Msg("mock getSession interrupted")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

func (p *Provider) Register(ctx context.Context, email, password, displayName string) (*sessions.Session, error) {
	p.Calls.Register.Add(1)
	if err := p.simulateLatency(ctx); err != nil {
		return nil, sessions.WrapAuthError(sessions.CodeSignUpError, "Registration was cancelled.", err)
	}

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, sessions.NewAuthError(sessions.CodeSignUpError, "Email and password are required.")
	}

	hash, err := hashPassword(password, p.hashCost)
	if err != nil {
		return nil, sessions.WrapAuthError(sessions.CodeSignUpError, "Could not create account.", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := strings.ToLower(email)
	if _, exists := p.users[key]; exists {
		return nil, sessions.NewAuthError(sessions.CodeEmailInUse, "An account with this email already exists.")
	}

	u := &user{
		id:           "usr_" + uuid.New().String(),
		email:        email,
		displayName:  displayName,
		passwordHash: hash,
		confirmed:    !p.requireConfirmation,
	}
	p.users[key] = u

	if p.requireConfirmation {
		return nil, sessions.NewAuthError(sessions.CodeNoSessionAfterSignUp,
			"Registration succeeded but no session was returned. Email confirmation may be required.")
	}
	return p.issueLocked(u.id, u.email)
}

// Confirm marks a pending registration as confirmed.
func (p *Provider) Confirm(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[strings.ToLower(email)]
	if ok {
		u.confirmed = true
	}
	return ok
}

// ValidateAccessToken verifies a token issued by this provider and returns its user.
// It lets fake API servers answer 401 for stale tokens.
func (p *Provider) ValidateAccessToken(token string) (*sessions.User, error) {
	u, err := p.parseAccessToken(token,
		jwtlib.WithIssuer(issuer),
		jwtlib.WithTimeFunc(p.nowFunc),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[mock ValidateAccessToken]")
	}
	return u, nil
}

// Resume adopts a session restored from storage as the current one, so its refresh
// token is accepted. The access token must carry this provider's signature and match
// a known user; it may already be expired.
func (p *Provider) Resume(_ context.Context, s *sessions.Session) {
	if !s.Complete() {
		return
	}
	u, err := p.parseAccessToken(s.AccessToken, jwtlib.WithoutClaimsValidation())
	if err != nil {
		log.Warn().Err(err).Msg("mock resume: access token was not issued by this provider (ignored)")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	known, ok := p.users[strings.ToLower(u.Email)]
	if !ok || known.id != u.ID || u.ID != s.User.ID {
		log.Warn().Str("user", s.User.ID).Msg("mock resume: unknown user (ignored)")
		return
	}
	p.current = s.Clone()
}

func (p *Provider) parseAccessToken(token string, options ...jwtlib.ParserOption) (*sessions.User, error) {
	claims := jwtlib.MapClaims{}
	options = append(options, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}))
	if _, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		return p.signingKey, nil
	}, options...); err != nil {
		return nil, err
	}

	sub, _ := claims.GetSubject()
	email, _ := claims["email"].(string)
	return &sessions.User{ID: sub, Email: email}, nil
}

// Expire forgets the current session so the next refresh fails.
func (p *Provider) Expire() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
}

func (p *Provider) issueLocked(userID, email string) (*sessions.Session, error) {
	now := p.nowFunc()
	expiresAt := now.Add(p.accessTokenTTL).Unix()

	accessToken, err := p.createAccessToken(userID, email, now, expiresAt)
	if err != nil {
		return nil, sessions.WrapAuthError(sessions.CodeSignInError, "Could not issue access token.", err)
	}
	refreshBytes, err := randomBytes(refreshTokenLength)
	if err != nil {
		return nil, sessions.WrapAuthError(sessions.CodeSignInError, "Could not issue refresh token.", err)
	}

	s, err := provider.MapSession(provider.RawSession{
		AccessToken:  accessToken,
		RefreshToken: hex.EncodeToString(refreshBytes),
		ExpiresAt:    &expiresAt,
		UserID:       userID,
		Email:        email,
	}, now)
	if err != nil {
		return nil, err
	}

	p.current = s.Clone()
	return s, nil
}

func (p *Provider) createAccessToken(userID, email string, now time.Time, expiresAt int64) (string, error) {
	claims := jwtlib.MapClaims{
		"iss":   issuer,
		"sub":   userID,
		"email": email,
		"iat":   now.Unix(),
		"exp":   expiresAt,
		"jti":   uuid.New().String(), // unique per issue so rotated tokens always differ
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (p *Provider) simulateLatency(ctx context.Context) error {
	if p.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func hashPassword(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
