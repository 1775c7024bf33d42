// Package oidc is an Auth Backend Adapter for standards based identity providers.
// Credentials are exchanged with the OAuth2 password and refresh grants, and the user
// identity is taken from the verified OpenID Connect ID token.
package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/provider"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	codeInvalidIDToken = "INVALID_ID_TOKEN"
	maxErrorBody       = 64 << 10
)

// Config describes the identity provider and this client's registration with it.
type Config struct {
	IssuerURL       string
	ClientID        string
	ClientSecret    string
	Scopes          []string
	RegistrationURL string // optional, overrides discovery
	RevocationURL   string // optional, overrides discovery
	HTTPClient      *http.Client
}

type userInfoFunc func(ctx context.Context, tok *oauth2.Token) (*sessions.User, error)

// Provider implements provider.Provider against an OAuth2/OIDC identity provider.
type Provider struct {
	oauth           *oauth2.Config
	verifier        *gooidc.IDTokenVerifier
	userInfo        userInfoFunc
	revocationURL   string
	registrationURL string
	httpClient      *http.Client
	nowFunc         func() time.Time

	mu      sync.RWMutex
	current *sessions.Session
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Resumer  = (*Provider)(nil)
)

type Option func(*Provider)

// WithNowFunc sets the clock (primarily for testing)
func WithNowFunc(now func() time.Time) Option {
	return func(p *Provider) {
		p.nowFunc = now
	}
}

// New discovers the provider metadata from cfg.IssuerURL and builds the adapter.
func New(ctx context.Context, cfg Config, options ...Option) (*Provider, error) {
	if cfg.IssuerURL == "" {
		return nil, apperrors.ErrMissingIssuer
	}
	if cfg.ClientID == "" {
		return nil, apperrors.ErrMissingClientID
	}

	httpClient := clientOrDefault(cfg.HTTPClient)
	discovered, err := gooidc.NewProvider(gooidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("[oidc New] discovery: %w: %w", apperrors.ErrProviderUnavailable, err)
	}

	var claims discoveryClaims
	if err := discovered.Claims(&claims); err != nil {
		return nil, apperrors.Wrapf(err, "[oidc New] discovery claims")
	}
	if cfg.RevocationURL == "" {
		cfg.RevocationURL = claims.RevocationEndpoint
	}
	if cfg.RegistrationURL == "" {
		cfg.RegistrationURL = claims.RegistrationEndpoint
	}

	p, err := NewFromEndpoints(cfg, discovered.Endpoint(), discovered.Verifier(&gooidc.Config{ClientID: cfg.ClientID}), options...)
	if err != nil {
		return nil, err
	}
	p.userInfo = func(ctx context.Context, tok *oauth2.Token) (*sessions.User, error) {
		info, err := discovered.UserInfo(p.clientContext(ctx), oauth2.StaticTokenSource(tok))
		if err != nil {
			return nil, err
		}
		return &sessions.User{ID: info.Subject, Email: info.Email}, nil
	}
	return p, nil
}

// NewFromEndpoints builds the adapter from explicit endpoints, skipping discovery.
func NewFromEndpoints(cfg Config, endpoint oauth2.Endpoint, verifier *gooidc.IDTokenVerifier, options ...Option) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, apperrors.ErrMissingClientID
	}
	if verifier == nil {
		return nil, errors.New("[oidc NewFromEndpoints] verifier is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email", gooidc.ScopeOfflineAccess}
	}

	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		verifier:        verifier,
		revocationURL:   cfg.RevocationURL,
		registrationURL: cfg.RegistrationURL,
		httpClient:      clientOrDefault(cfg.HTTPClient),
		nowFunc:         time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*sessions.Session, error) {
	tok, err := p.oauth.PasswordCredentialsToken(p.clientContext(ctx), email, password)
	if err != nil {
		return nil, mapTokenError(err, sessions.CodeSignInError, "Invalid email or password.")
	}
	if tok == nil {
		return nil, sessions.NewAuthError(sessions.CodeNoSessionReturned, "Sign-in succeeded but no session was returned.")
	}

	s, err := p.sessionFromToken(ctx, tok, nil)
	if err != nil {
		return nil, err
	}
	p.setCurrent(s)
	return s, nil
}

// SignOut revokes the current tokens (RFC 7009) best effort and always forgets them.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.mu.Unlock()

	if current == nil || p.revocationURL == "" {
		return nil
	}

	p.revoke(ctx, current.RefreshToken, "refresh_token")
	p.revoke(ctx, current.AccessToken, "access_token")
	return nil
}

func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (*sessions.Session, error) {
	if refreshToken == "" {
		return nil, sessions.NewAuthError(sessions.CodeInvalidRefreshToken, "Refresh token is missing.")
	}

	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapTokenError(err, sessions.CodeRefreshError, "Refresh token is invalid or expired.")
	}
	if tok == nil {
		return nil, sessions.NewAuthError(sessions.CodeNoSessionAfterRefresh, "Token refresh succeeded but no session was returned.")
	}

	var known *sessions.User
	p.mu.RLock()
	if p.current != nil && p.current.RefreshToken == refreshToken {
		u := p.current.User
		known = &u
	}
	p.mu.RUnlock()

	s, err := p.sessionFromToken(ctx, tok, known)
	if err != nil {
		return nil, err
	}
	p.setCurrent(s)
	return s, nil
}

func (p *Provider) GetSession(_ context.Context) *sessions.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Clone()
}

// Resume adopts a session restored from storage so sign-out can revoke its tokens and
// a refresh without an ID token keeps the known user.
func (p *Provider) Resume(_ context.Context, s *sessions.Session) {
	if !s.Complete() {
		return
	}
	p.setCurrent(s)
}

func (p *Provider) Register(ctx context.Context, email, password, displayName string) (*sessions.Session, error) {
	if p.registrationURL == "" {
		return nil, sessions.NewAuthError(sessions.CodeSignUpUnsupported, "This identity provider does not support sign-up.")
	}

	body, err := json.Marshal(registrationRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
		ClientID:    p.oauth.ClientID,
	})
	if err != nil {
		return nil, sessions.WrapAuthError(sessions.CodeSignUpError, "Could not create account.", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.registrationURL, bytes.NewReader(body))
	if err != nil {
		return nil, sessions.WrapAuthError(sessions.CodeSignUpError, "Could not create account.", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, sessions.WrapAuthError(sessions.CodeSignUpError, "Could not reach the identity provider.", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, sessions.WrapAuthError(sessions.CodeSignUpError, "Could not read the sign-up response.", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		code := strings.ToUpper(e.Error)
		if code == "" {
			code = sessions.CodeSignUpError
		}
		msg := e.ErrorDescription
		if msg == "" {
			msg = fmt.Sprintf("Sign-up failed with status %d.", resp.StatusCode)
		}
		return nil, sessions.NewAuthError(code, msg)
	}

	var tr tokenResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &tr); err != nil {
			return nil, sessions.WrapAuthError(sessions.CodeSignUpError, "Could not read the sign-up response.", err)
		}
	}
	if utils.Value(tr.AccessToken) == "" {
		return nil, sessions.NewAuthError(sessions.CodeNoSessionAfterSignUp,
			"Registration succeeded but no session was returned. Email confirmation may be required.")
	}

	tok := &oauth2.Token{
		AccessToken:  utils.Value(tr.AccessToken),
		RefreshToken: utils.Value(tr.RefreshToken),
		TokenType:    tr.TokenType,
	}
	if tr.ExpiresIn != nil && *tr.ExpiresIn > 0 {
		tok.Expiry = p.nowFunc().Add(time.Duration(*tr.ExpiresIn) * time.Second)
	}
	if tr.IdToken != nil {
		tok = tok.WithExtra(map[string]interface{}{"id_token": *tr.IdToken})
	}

	s, err := p.sessionFromToken(ctx, tok, nil)
	if err != nil {
		return nil, err
	}
	p.setCurrent(s)
	return s, nil
}

// sessionFromToken resolves the user from, in order: the verified ID token, the
// previously known user, the userinfo endpoint. The result goes through MapSession.
func (p *Provider) sessionFromToken(ctx context.Context, tok *oauth2.Token, known *sessions.User) (*sessions.Session, error) {
	raw := provider.RawSession{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		raw.ExpiresAt = utils.Ptr(tok.Expiry.Unix())
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	switch {
	case rawIDToken != "":
		idToken, err := p.verifier.Verify(p.clientContext(ctx), rawIDToken)
		if err != nil {
			return nil, sessions.WrapAuthError(codeInvalidIDToken, "Provider returned an invalid ID token.", err)
		}
		var claims struct {
			Email string `json:"email"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, sessions.WrapAuthError(codeInvalidIDToken, "Provider returned unreadable ID token claims.", err)
		}
		raw.UserID, raw.Email = idToken.Subject, claims.Email
	case known != nil:
		raw.UserID, raw.Email = known.ID, known.Email
	case p.userInfo != nil:
		u, err := p.userInfo(ctx, tok)
		if err != nil {
			log.Warn().Err(err).Msg("oidc userinfo lookup failed")
		} else {
			raw.UserID, raw.Email = u.ID, u.Email
		}
	}

	return provider.MapSession(raw, p.nowFunc())
}

func (p *Provider) revoke(ctx context.Context, token, tokenTypeHint string) {
	if token == "" {
		return
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", tokenTypeHint)
	form.Set("client_id", p.oauth.ClientID)
	if p.oauth.ClientSecret != "" {
		form.Set("client_secret", p.oauth.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		log.Warn().Err(err).Str("token_type", tokenTypeHint).Msg("signOut: failed to build revocation request (ignored)")
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("token_type", tokenTypeHint).Msg("signOut: failed to revoke token (ignored)")
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("token_type", tokenTypeHint).Msg("signOut: revocation rejected (ignored)")
	}
}

func (p *Provider) setCurrent(s *sessions.Session) {
	p.mu.Lock()
	p.current = s.Clone()
	p.mu.Unlock()
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// mapTokenError converts oauth2 errors into AuthErrors. invalid_grant on a refresh is
// reported as INVALID_REFRESH_TOKEN so callers need not know OAuth2 codes.
func mapTokenError(err error, defaultCode, defaultMessage string) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return sessions.WrapAuthError(defaultCode, "Could not reach the identity provider.", err)
	}

	code := strings.ToUpper(re.ErrorCode)
	switch {
	case code == "":
		code = defaultCode
	case code == "INVALID_GRANT" && defaultCode == sessions.CodeRefreshError:
		code = sessions.CodeInvalidRefreshToken
	}

	msg := re.ErrorDescription
	if msg == "" {
		msg = defaultMessage
	}
	return sessions.WrapAuthError(code, msg, err)
}

func clientOrDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 30 * time.Second}
}
