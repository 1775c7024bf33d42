// Package pipeline attaches the session's bearer token to outgoing API requests and
// recovers from an expired token by refreshing once and replaying the request.
package pipeline

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// TokenSource supplies the current access token. An empty token sends the request
// unauthenticated.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Refresher renews the access token. The refresh coordinator implements it.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

type retriedKey struct{}

// WithRetried marks ctx so requests made with it are never replayed after a 401.
func WithRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// IsRetried reports whether ctx belongs to a request that was already replayed.
func IsRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey{}).(bool)
	return retried
}

// Transport is an http.RoundTripper that authorizes requests with the session token.
type Transport struct {
	Base      http.RoundTripper
	Tokens    TokenSource
	Refresher Refresher
}

var _ http.RoundTripper = (*Transport)(nil)

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	sent, err := t.Tokens.AccessToken(req.Context())
	if err != nil {
		return nil, err
	}

	resp, err := t.base().RoundTrip(authorize(req.Context(), req, sent))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || t.Refresher == nil || IsRetried(req.Context()) {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		log.Debug().Str("url", req.URL.Redacted()).Msg("401 on a request whose body cannot be replayed, not retrying")
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	token, err := t.replayToken(req.Context(), sent)
	if err != nil {
		return nil, err
	}

	retry := authorize(WithRetried(req.Context()), req, token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return t.base().RoundTrip(retry)
}

// replayToken returns the token to replay with. If the token was rotated while the
// request was in flight, the current one is reused and no new refresh is started.
func (t *Transport) replayToken(ctx context.Context, sent string) (string, error) {
	current, err := t.Tokens.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if current != "" && current != sent {
		log.Debug().Msg("access token rotated while the request was in flight, replaying without refresh")
		return current, nil
	}
	return t.Refresher.Refresh(ctx)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// authorize clones req since a RoundTripper must not modify the caller's request.
func authorize(ctx context.Context, req *http.Request, token string) *http.Request {
	out := req.Clone(ctx)
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return out
}

// NewClient wraps transport in an http.Client bounded by timeout.
func NewClient(transport http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
