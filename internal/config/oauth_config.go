package config

import "strings"

type OAuthConfig interface {
	GetProviderClientID(provider string) string
	GetProviderClientSecret(provider string) string
	GetOAuthRedirectURL() string
	GetOAuthCallbackAddr() string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

// GetProviderClientID reads <PROVIDER>_CLIENT_ID, e.g. KAKAO_CLIENT_ID.
func (OAuth) GetProviderClientID(provider string) string {
	return GetEnv(strings.ToUpper(provider)+"_CLIENT_ID", "")
}

func (OAuth) GetProviderClientSecret(provider string) string {
	return GetEnv(strings.ToUpper(provider)+"_CLIENT_SECRET", "")
}

func (OAuth) GetOAuthRedirectURL() string {
	return GetEnv("OAUTH_REDIRECT_URL", "http://127.0.0.1:8765/callback")
}

func (OAuth) GetOAuthCallbackAddr() string {
	return GetEnv("OAUTH_CALLBACK_ADDR", "127.0.0.1:8765")
}
