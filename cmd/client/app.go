package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/authstore"
	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/pipeline"
	"github.com/jrsteele09/go-auth-client/provider"
	"github.com/jrsteele09/go-auth-client/provider/mock"
	"github.com/jrsteele09/go-auth-client/provider/oidc"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/storage/filestore"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog/log"
)

const (
	credentialsFile = "credentials.json"
	mockKeyFile     = "mock_signing.key"
)

// app is the wired client: provider, storage, session store, refresh coordinator and API.
type app struct {
	store       *authstore.Store
	coordinator *refresh.Coordinator
	api         *api.Client
	registry    *prometheus.Registry
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	p, err := newProvider(ctx, c)
	if err != nil {
		return nil, err
	}

	st, err := filestore.New(filepath.Join(c.GetDataFolder(), credentialsFile), filestore.WithSecret(c.GetStorageSecret()))
	if err != nil {
		return nil, errors.Wrap(err, "open credential storage")
	}

	bus := events.NewBus()
	store, err := authstore.New(p, st, bus,
		authstore.WithExpiryBuffer(c.GetExpiryBuffer()),
		authstore.WithKeyPrefix(c.GetStorageKeyPrefix()),
	)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	coordinator := refresh.NewCoordinator(store, p, bus,
		refresh.WithTimeout(c.GetRefreshTimeout()),
		refresh.WithMetrics(metrics.NewCollector(registry)),
	)

	transport := &pipeline.Transport{Tokens: store, Refresher: coordinator}
	return &app{
		store:       store,
		coordinator: coordinator,
		api:         api.NewClient(c.GetAPIBaseURL(), pipeline.NewClient(transport, c.GetAPITimeout())),
		registry:    registry,
	}, nil
}

func newProvider(ctx context.Context, c config.Config) (provider.Provider, error) {
	switch c.GetProviderKind() {
	case config.ProviderOIDC:
		log.Info().Str("issuer", c.GetIssuerURL()).Msg("using OIDC provider")
		return oidc.New(ctx, oidc.Config{
			IssuerURL:       c.GetIssuerURL(),
			ClientID:        c.GetClientID(),
			ClientSecret:    c.GetClientSecret(),
			RegistrationURL: c.GetRegistrationURL(),
		})
	default:
		log.Info().Msg("using mock provider")
		key, err := loadOrCreateMockKey(c.GetDataFolder())
		if err != nil {
			return nil, err
		}
		return mock.New(mock.WithLatency(300*time.Millisecond), mock.WithSigningKey(key))
	}
}

// loadOrCreateMockKey keeps the mock signing key next to the credentials so a
// session saved by one run still validates in the next.
func loadOrCreateMockKey(folder string) ([]byte, error) {
	path := filepath.Join(folder, mockKeyFile)
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(key) == 0 {
			return nil, errors.Errorf("[loadOrCreateMockKey] malformed key in %s", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "[loadOrCreateMockKey] read key")
	}

	if err := os.MkdirAll(folder, 0o700); err != nil {
		return nil, errors.Wrap(err, "[loadOrCreateMockKey] create data folder")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "[loadOrCreateMockKey] generate key")
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, errors.Wrap(err, "[loadOrCreateMockKey] write key")
	}
	return key, nil
}

func (a *app) close() {
	a.store.Close()
}

func (a *app) status(w io.Writer) error {
	state := a.store.State()
	if !state.IsAuthenticated {
		fmt.Fprintln(w, "Not signed in.")
		return nil
	}
	s := state.Session
	fmt.Fprintf(w, "Signed in as %s (%s)\n", s.User.Email, s.User.ID)
	fmt.Fprintf(w, "Access token expires %s\n", s.Expiry().Local().Format(time.RFC1123))
	return nil
}

func (a *app) login(ctx context.Context, w io.Writer, email, password string) error {
	s, err := a.store.Login(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Welcome back, %s.\n", s.User.Email)
	return nil
}

func (a *app) register(ctx context.Context, w io.Writer, email, password, name string) error {
	s, err := a.store.Register(ctx, email, password, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Account created for %s.\n", s.User.Email)
	return nil
}

func (a *app) profile(ctx context.Context, w io.Writer) error {
	if !a.store.State().IsAuthenticated {
		return errors.New("not signed in")
	}
	p, err := a.api.GetProfile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s <%s>\n", p.DisplayName, p.Email)
	return nil
}

func (a *app) refresh(ctx context.Context, w io.Writer) error {
	if _, err := a.coordinator.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintf(w, "Session refreshed, expires %s\n", a.store.Session().Expiry().Local().Format(time.RFC1123))
	return nil
}

func (a *app) printMetrics(w io.Writer) {
	families, err := a.registry.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("gather metrics")
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			log.Warn().Err(err).Str("family", mf.GetName()).Msg("write metrics")
			return
		}
	}
}
