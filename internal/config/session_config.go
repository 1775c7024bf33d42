package config

import "time"

type SessionConfig interface {
	GetExpiryBuffer() time.Duration
	GetRefreshTimeout() time.Duration
	GetAPITimeout() time.Duration
	GetStorageKeyPrefix() string
	GetStorageSecret() string
}

type Session struct{}

var _ SessionConfig = Session{}

// GetExpiryBuffer is how long before expiresAt a restored session is treated as expiring
func (Session) GetExpiryBuffer() time.Duration {
	return durationEnv("SESSION_EXPIRY_BUFFER", 60*time.Second)
}

// GetRefreshTimeout bounds an in-flight refresh and every queued wait on it
func (Session) GetRefreshTimeout() time.Duration {
	return durationEnv("SESSION_REFRESH_TIMEOUT", 30*time.Second)
}

func (Session) GetAPITimeout() time.Duration {
	return durationEnv("API_TIMEOUT", 30*time.Second)
}

func (Session) GetStorageKeyPrefix() string {
	return GetEnv("STORAGE_KEY_PREFIX", "@forgeai/")
}

// GetStorageSecret enables at-rest encryption of the credential file when set
func (Session) GetStorageSecret() string {
	return GetEnv("STORAGE_SECRET", "")
}

func durationEnv(envVar string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(GetEnv(envVar, ""))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
