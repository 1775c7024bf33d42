package config

type Config interface {
	EnvConfig
	ProviderConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetDataFolder() string
	GetLogLevel() string
	GetAPIBaseURL() string
}

type mainConfig struct {
	EnvVars
	Provider
	Session
}

func New() Config {
	return mainConfig{}
}
