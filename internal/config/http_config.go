package config

import "time"

type HTTP struct{}

var _ HTTPConfig = HTTP{}

func (HTTP) GetRequestTimeout() time.Duration {
	return GetEnvDuration("REQUEST_TIMEOUT", 15*time.Second)
}

// GetRefreshTimeout bounds the single in-flight token refresh. Waiters cannot
// cancel the refresh, so this is the only thing that stops a hung one.
func (HTTP) GetRefreshTimeout() time.Duration {
	return GetEnvDuration("REFRESH_TIMEOUT", 10*time.Second)
}

func (HTTP) GetUserAgent() string {
	return GetEnv("USER_AGENT", "habit-client/1.0")
}
