// Package refresh coordinates access token renewal so that at most one refresh
// call is in flight no matter how many requests hit an expired token at once.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds both the refresh call and how long a queued caller waits for it.
const DefaultTimeout = 30 * time.Second

// Credentials is the persisted session the coordinator reads from and writes back to.
// The session store implements it so it stays the only writer of session state.
type Credentials interface {
	RefreshToken(ctx context.Context) (string, error)
	ApplyRefreshedSession(ctx context.Context, s *sessions.Session) error
}

// Refresher exchanges a refresh token for a new session.
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (*sessions.Session, error)
}

// Publisher receives the forced logout signal.
type Publisher interface {
	Emit(event events.Event)
}

type result struct {
	token string
	err   error
}

type waiter struct {
	ch chan result
}

// Coordinator is the single-flight refresh gate shared by every request pipeline.
type Coordinator struct {
	credentials Credentials
	refresher   Refresher
	publisher   Publisher
	timeout     time.Duration
	metrics     metrics.RefreshRecorder
	nowFunc     func() time.Time

	mu         sync.Mutex
	refreshing bool
	queue      []*waiter
}

type Option func(*Coordinator)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMetrics(m metrics.RefreshRecorder) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithNowFunc sets the clock used for durations (primarily for testing)
func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func NewCoordinator(credentials Credentials, refresher Refresher, publisher Publisher, options ...Option) *Coordinator {
	c := &Coordinator{
		credentials: credentials,
		refresher:   refresher,
		publisher:   publisher,
		timeout:     DefaultTimeout,
		metrics:     metrics.Noop{},
		nowFunc:     time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Refresh returns a fresh access token. If a refresh is already running the caller
// joins it and receives the same outcome; otherwise the caller becomes the leader.
// On failure the error wraps sessions.ErrSessionExpired and a ForceLogout event has
// been emitted exactly once for the cycle.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		w := &waiter{ch: make(chan result, 1)}
		c.queue = append(c.queue, w)
		c.mu.Unlock()

		c.metrics.RecordQueuedWaiter()
		return c.wait(ctx, w)
	}
	c.refreshing = true
	c.mu.Unlock()

	return c.lead(ctx)
}

// InFlight reports whether a refresh cycle is running.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Pending returns the number of callers queued behind the running refresh.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Coordinator) wait(ctx context.Context, w *waiter) (string, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-w.ch:
		return r.token, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", sessions.NewAuthError(sessions.CodeRefreshTimeout, "Timed out waiting for the session to refresh.")
	}
}

func (c *Coordinator) lead(ctx context.Context) (string, error) {
	started := c.nowFunc()
	token, err := c.run(ctx)
	elapsed := c.nowFunc().Sub(started)

	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.refreshing = false
	c.mu.Unlock()

	// Waiter channels are buffered so settling never blocks on an abandoned caller.
	for _, w := range queue {
		w.ch <- result{token: token, err: err}
	}

	if err != nil {
		outcome := metrics.ResultFailure
		if sessions.Code(err) == sessions.CodeRefreshTimeout {
			outcome = metrics.ResultTimeout
		}
		c.metrics.RecordRefresh(outcome, elapsed)

		log.Warn().Err(err).Int("waiters", len(queue)).Msg("session refresh failed, forcing logout")
		c.metrics.RecordForcedLogout()
		c.publisher.Emit(events.ForceLogout)
		return "", err
	}

	c.metrics.RecordRefresh(metrics.ResultSuccess, elapsed)
	log.Debug().Int("waiters", len(queue)).Dur("elapsed", elapsed).Msg("session refreshed")
	return token, nil
}

// run performs one refresh cycle. It is detached from the leader's cancellation so a
// caller giving up does not fail everyone queued behind it.
func (c *Coordinator) run(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	refreshToken, err := c.credentials.RefreshToken(ctx)
	if err != nil {
		return "", sessions.NewSessionExpiredError(sessions.CodeRefreshFailed, err)
	}
	if refreshToken == "" {
		return "", sessions.NewSessionExpiredError(sessions.CodeNoRefreshToken, nil)
	}

	s, err := c.refresher.RefreshSession(ctx, refreshToken)
	if err != nil {
		code := sessions.Code(err)
		if errors.Is(err, context.DeadlineExceeded) {
			code = sessions.CodeRefreshTimeout
		}
		return "", sessions.NewSessionExpiredError(code, err)
	}
	if s == nil || s.AccessToken == "" {
		return "", sessions.NewSessionExpiredError(sessions.CodeNoSessionAfterRefresh, nil)
	}

	// Persist before anyone is released so retried requests and storage agree.
	if err := c.credentials.ApplyRefreshedSession(ctx, s); err != nil {
		return "", sessions.NewSessionExpiredError(sessions.CodePersistFailed, err)
	}
	return s.AccessToken, nil
}
