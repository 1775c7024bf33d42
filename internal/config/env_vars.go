package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	appNameVar    = "APP_NAME"
	envVar        = "ENV"
	folderEnvVar  = "FOLDER"
	logLevelVar   = "LOG_LEVEL"
	apiBaseURLVar = "API_BASE_URL"
)

var (
	vOnce sync.Once
	v     *viper.Viper
)

// source returns the shared viper instance. A .env file in the working directory is
// read when present; real environment variables always win.
func source() *viper.Viper {
	vOnce.Do(func() {
		v = viper.New()
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		_ = v.ReadInConfig() // ignore missing .env
		v.AutomaticEnv()
	})
	return v
}

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "ForgeAI Builder")
}

func (EnvVars) GetEnv() string {
	return strings.ToUpper(GetEnv(envVar, "DEV"))
}

func (EnvVars) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetAPIBaseURL returns the base URL of the backend API (e.g., "https://api.forgeai.dev")
func (EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv(apiBaseURLVar, "https://api.forgeai.dev"), "/")
}

func GetEnv(envVar, defaultValue string) string {
	value := strings.TrimSpace(source().GetString(envVar))
	if value == "" {
		return defaultValue
	}
	return value
}
