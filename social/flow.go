// Package social obtains a provider credential (access token and, for OpenID
// Connect providers, a verified id_token) through the authorization-code flow
// with PKCE. The credential is what session.Manager.Login exchanges with the
// backend.
package social

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-habit-client/internal/config"
	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"github.com/jrsteele09/go-habit-client/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const defaultStateTTL = 10 * time.Minute

type Flow struct {
	providers map[session.Provider]*providerClient
	states    FlowStateRepo
	logger    zerolog.Logger
	stateTTL  time.Duration
	now       func() time.Time
}

type Option func(*flowOptions)

type flowOptions struct {
	providers []ProviderConfig
	states    FlowStateRepo
	logger    zerolog.Logger
	stateTTL  time.Duration
}

// WithProviders replaces the provider registry.
func WithProviders(providers ...ProviderConfig) Option {
	return func(o *flowOptions) {
		o.providers = providers
	}
}

func WithFlowStateRepo(repo FlowStateRepo) Option {
	return func(o *flowOptions) {
		o.states = repo
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *flowOptions) {
		o.logger = logger
	}
}

// WithStateTTL bounds how long a started flow can be completed.
func WithStateTTL(ttl time.Duration) Option {
	return func(o *flowOptions) {
		o.stateTTL = ttl
	}
}

// NewFlow builds a flow for every provider that has a client ID configured.
func NewFlow(cfg config.OAuthConfig, opts ...Option) (*Flow, error) {
	o := flowOptions{
		providers: DefaultProviders(),
		logger:    log.Logger,
		stateTTL:  defaultStateTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.states == nil {
		o.states = NewInMemoryFlowStateRepo()
	}

	f := &Flow{
		providers: make(map[session.Provider]*providerClient),
		states:    o.states,
		logger:    o.logger,
		stateTTL:  o.stateTTL,
		now:       time.Now,
	}
	for _, p := range o.providers {
		clientID := cfg.GetProviderClientID(p.Provider.String())
		if clientID == "" {
			continue
		}
		f.providers[p.Provider] = &providerClient{
			cfg: p,
			oauth2: &oauth2.Config{
				ClientID:     clientID,
				ClientSecret: cfg.GetProviderClientSecret(p.Provider.String()),
				Endpoint:     p.Endpoint,
				RedirectURL:  cfg.GetOAuthRedirectURL(),
				Scopes:       p.Scopes,
			},
		}
	}
	if len(f.providers) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrUnsupportedProvider, "[social NewFlow] no provider has a client ID configured")
	}
	return f, nil
}

// Providers lists the configured providers.
func (f *Flow) Providers() []session.Provider {
	out := make([]session.Provider, 0, len(f.providers))
	for _, p := range DefaultProviders() {
		if _, ok := f.providers[p.Provider]; ok {
			out = append(out, p.Provider)
		}
	}
	for p := range f.providers {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// Start begins a flow and returns the URL to send the user to along with the
// state value the provider will echo back.
func (f *Flow) Start(provider session.Provider) (authURL, state string, err error) {
	p, err := f.provider(provider)
	if err != nil {
		return "", "", err
	}

	state = uuid.NewString()
	flowState := &FlowState{
		Provider:     provider,
		CodeVerifier: oauth2.GenerateVerifier(),
		Nonce:        uuid.NewString(),
		CreatedAt:    f.now(),
	}
	if err := f.states.Upsert(state, flowState); err != nil {
		return "", "", apperrors.Wrapf(err, "[social Start]")
	}

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(flowState.CodeVerifier)}
	if p.isOIDC() {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", flowState.Nonce))
	}
	for k, v := range p.cfg.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	f.logger.Debug().Str("provider", provider.String()).Msg("social login started")
	return p.oauth2.AuthCodeURL(state, opts...), state, nil
}

// Complete redeems the authorization code for the flow identified by state. A
// state can be completed once.
func (f *Flow) Complete(ctx context.Context, state, code string) (*session.Credential, error) {
	if code == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidCredential, "[social Complete] missing code")
	}

	flowState, err := f.states.Get(state)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidState, "[social Complete] %v", err)
	}
	if err := f.states.Delete(state); err != nil {
		return nil, apperrors.Wrapf(err, "[social Complete]")
	}
	if f.now().Sub(flowState.CreatedAt) > f.stateTTL {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidState, "[social Complete] flow expired")
	}

	p, err := f.provider(flowState.Provider)
	if err != nil {
		return nil, err
	}

	tok, err := p.oauth2.Exchange(ctx, code, oauth2.VerifierOption(flowState.CodeVerifier))
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidCredential, "[social Complete] token exchange: %v", err)
	}

	cred := &session.Credential{Provider: flowState.Provider, AccessToken: tok.AccessToken}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		if p.cfg.RequireIDToken {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidCredential, "[social Complete] no id_token in response")
		}
		return cred, nil
	}
	if !p.isOIDC() {
		return cred, nil
	}

	verifier, err := p.idTokenVerifier(ctx)
	if err != nil {
		return nil, err
	}
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidCredential, "[social Complete] id_token verification: %v", err)
	}
	if idToken.Nonce != flowState.Nonce {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidNonce, "[social Complete]")
	}

	cred.IDToken = rawIDToken
	f.logger.Debug().Str("provider", flowState.Provider.String()).Msg("social login completed")
	return cred, nil
}

// pending reports whether state belongs to a started, uncompleted flow.
func (f *Flow) pending(state string) bool {
	if state == "" {
		return false
	}
	_, err := f.states.Get(state)
	return err == nil
}

func (f *Flow) discard(state string) {
	if err := f.states.Delete(state); err != nil {
		f.logger.Debug().Err(err).Msg("failed to discard flow state")
	}
}

func (f *Flow) provider(provider session.Provider) (*providerClient, error) {
	p, ok := f.providers[provider]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrUnsupportedProvider, "%q is not configured", provider.String())
	}
	return p, nil
}
