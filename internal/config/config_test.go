package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := config.New()

	require.Equal(t, "ForgeAI Builder", c.GetAppName())
	require.Equal(t, "DEV", c.GetEnv())
	require.Equal(t, config.ProviderMock, c.GetProviderKind())
	require.Equal(t, 60*time.Second, c.GetExpiryBuffer())
	require.Equal(t, 30*time.Second, c.GetRefreshTimeout())
	require.Equal(t, 30*time.Second, c.GetAPITimeout())
	require.Equal(t, "@forgeai/", c.GetStorageKeyPrefix())
	require.Equal(t, "", c.GetStorageSecret())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("AUTH_PROVIDER", "OIDC")
	t.Setenv("OIDC_ISSUER_URL", "https://id.example.com")
	t.Setenv("API_BASE_URL", "https://api.example.com/")
	t.Setenv("SESSION_EXPIRY_BUFFER", "2m")
	t.Setenv("SESSION_REFRESH_TIMEOUT", "not-a-duration")

	c := config.New()

	require.Equal(t, "PRODUCTION", c.GetEnv())
	require.Equal(t, config.ProviderOIDC, c.GetProviderKind())
	require.Equal(t, "https://id.example.com", c.GetIssuerURL())
	require.Equal(t, "https://api.example.com", c.GetAPIBaseURL())
	require.Equal(t, 2*time.Minute, c.GetExpiryBuffer())
	require.Equal(t, 30*time.Second, c.GetRefreshTimeout(), "invalid durations fall back to the default")
}

func TestUnknownProviderFallsBackToMock(t *testing.T) {
	t.Setenv("AUTH_PROVIDER", "supabase")
	require.Equal(t, config.ProviderMock, config.New().GetProviderKind())
}
