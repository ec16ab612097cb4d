package config

import "time"

type Config interface {
	EnvConfig
	HTTPConfig
	OAuthConfig
	SecurityConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetDataFolder() string
	GetLogLevel() string
}

type HTTPConfig interface {
	GetRequestTimeout() time.Duration
	GetRefreshTimeout() time.Duration
	GetUserAgent() string
}

type mainConfig struct {
	EnvVars
	HTTP
	OAuth
	Security
}

func New() Config {
	return mainConfig{}
}
