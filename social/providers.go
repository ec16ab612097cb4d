package social

import (
	"context"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"github.com/jrsteele09/go-habit-client/session"
	"golang.org/x/oauth2"
)

// ProviderConfig describes how to run an authorization-code flow against one
// social provider.
type ProviderConfig struct {
	Provider session.Provider
	Endpoint oauth2.Endpoint
	Scopes   []string

	// Issuer is set for OpenID Connect providers. Their id_token is verified
	// and passed on to the backend.
	Issuer string
	// RequireIDToken fails the flow when the provider answers without an id_token.
	RequireIDToken bool
	// AuthParams are extra query parameters for the authorization URL.
	AuthParams map[string]string

	// Verifier overrides discovery of the issuer's signing keys.
	Verifier *oidc.IDTokenVerifier
}

// DefaultProviders returns the endpoints of every provider the backend accepts.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Provider: session.ProviderKakao,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://kauth.kakao.com/oauth/authorize",
				TokenURL:  "https://kauth.kakao.com/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{oidc.ScopeOpenID, "profile_nickname", "account_email"},
			Issuer: "https://kauth.kakao.com",
		},
		{
			Provider: session.ProviderGoogle,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL:  "https://oauth2.googleapis.com/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{oidc.ScopeOpenID, "email", "profile"},
			Issuer: "https://accounts.google.com",
		},
		{
			Provider: session.ProviderApple,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://appleid.apple.com/auth/authorize",
				TokenURL:  "https://appleid.apple.com/auth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes:         []string{"name", "email"},
			Issuer:         "https://appleid.apple.com",
			RequireIDToken: true,
			// Apple only posts the result back when scopes are requested.
			AuthParams: map[string]string{"response_mode": "form_post"},
		},
		{
			Provider: session.ProviderNaver,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://nid.naver.com/oauth2.0/authorize",
				TokenURL:  "https://nid.naver.com/oauth2.0/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

type providerClient struct {
	cfg    ProviderConfig
	oauth2 *oauth2.Config

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

func (p *providerClient) isOIDC() bool {
	return p.cfg.Issuer != "" || p.cfg.Verifier != nil
}

// idTokenVerifier discovers the issuer on first use and caches the result.
func (p *providerClient) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verifier != nil {
		return p.verifier, nil
	}
	if p.cfg.Verifier != nil {
		p.verifier = p.cfg.Verifier
		return p.verifier, nil
	}

	provider, err := oidc.NewProvider(ctx, p.cfg.Issuer)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[social] discover %s", p.cfg.Issuer)
	}
	p.verifier = provider.Verifier(&oidc.Config{ClientID: p.oauth2.ClientID})
	return p.verifier, nil
}
