// Package session tracks who is signed in. It drives login and logout against the
// habit API and mirrors every transition to subscribers.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-habit-client/apiclient"
	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"github.com/jrsteele09/go-habit-client/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend routes used by the session.
const (
	RouteSocialLogin = "/api/auth/social/login"
	RouteLogout      = "/api/auth/logout"
	RouteMe          = "/api/members/me"
)

// ErrLoginInProgress is returned when Login is called while another login runs.
var ErrLoginInProgress = apperrors.Wrapf(apperrors.ErrInvalidRequest, "login already in progress")

type Status int

const (
	Unauthenticated Status = iota
	Authenticating
	Authenticated
	Failed
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of the session at one point in time.
type Snapshot struct {
	Status         Status
	Profile        *Profile
	Subject        string
	TokenExpiresAt time.Time
	Err            error // cause of the last Failed or expired transition
}

func (s Snapshot) IsLoggedIn() bool {
	return s.Status == Authenticated && s.Profile != nil
}

type Manager struct {
	client *apiclient.Client
	tokens *token.Store
	logger zerolog.Logger

	mu      sync.RWMutex
	status  Status
	profile *Profile
	lastErr error

	listenersMu  sync.Mutex
	listeners    map[uint64]func(Snapshot)
	nextListener uint64

	stopExpired func()
}

type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(client *apiclient.Client, opts ...Option) *Manager {
	m := &Manager{
		client:    client,
		tokens:    client.Tokens(),
		logger:    log.Logger,
		listeners: make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.stopExpired = client.OnSessionExpired(m.expired)
	return m
}

// Close detaches the manager from the client.
func (m *Manager) Close() {
	if m.stopExpired != nil {
		m.stopExpired()
	}
}

// Login exchanges a provider credential for the backend token pair and loads
// the profile. Any failure leaves the session Failed with no tokens stored.
func (m *Manager) Login(ctx context.Context, cred Credential) (*Profile, error) {
	if err := cred.validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.status == Authenticating {
		m.mu.Unlock()
		return nil, ErrLoginInProgress
	}
	m.status = Authenticating
	m.lastErr = nil
	m.mu.Unlock()
	m.notify()

	var pair token.Pair
	if err := m.client.JSON(ctx, http.MethodPost, RouteSocialLogin, cred, &pair, apiclient.WithoutAuth()); err != nil {
		return nil, m.fail(apperrors.Wrapf(err, "[session Login] %s", cred.Provider))
	}
	if err := m.tokens.SetPair(pair); err != nil {
		if apperrors.Is(err, apperrors.ErrInvalidToken) {
			return nil, m.fail(apperrors.Wrapf(err, "[session Login] %s", cred.Provider))
		}
		m.logger.Warn().Err(err).Msg("failed to persist login tokens")
	}

	profile, err := m.fetchMe(ctx)
	if err != nil {
		return nil, m.fail(apperrors.Wrapf(err, "[session Login] load profile"))
	}

	m.set(Authenticated, profile, nil)
	m.logger.Info().Str("provider", cred.Provider.String()).Int64("member_id", profile.ID).Msg("logged in")
	return profile.clone(), nil
}

// Logout tells the backend (best effort) and always clears local credentials.
func (m *Manager) Logout(ctx context.Context) error {
	if m.tokens.Get() != "" {
		body := map[string]string{"refreshToken": m.tokens.RefreshToken()}
		if err := m.client.JSON(ctx, http.MethodPost, RouteLogout, body, nil); err != nil {
			m.logger.Debug().Err(err).Msg("logout notification failed")
		}
	}

	err := m.client.ClearSession()
	m.set(Unauthenticated, nil, nil)
	if err != nil {
		return apperrors.Wrapf(err, "[session Logout]")
	}
	return nil
}

// ReloadMe re-fetches the profile. A 401 goes through one token refresh; if
// that fails the session ends. Network errors leave the session as it was.
func (m *Manager) ReloadMe(ctx context.Context) (*Profile, error) {
	profile, err := m.fetchMe(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSessionExpired) || apperrors.Is(err, apperrors.ErrNotLoggedIn) {
			m.set(Unauthenticated, nil, err)
		}
		return nil, apperrors.Wrapf(err, "[session ReloadMe]")
	}
	m.set(Authenticated, profile, nil)
	return profile.clone(), nil
}

// Restore resumes a session from stored tokens on cold start. Without a stored
// token it leaves the session Unauthenticated and returns nil.
func (m *Manager) Restore(ctx context.Context) error {
	if m.tokens.Get() == "" {
		m.set(Unauthenticated, nil, nil)
		return nil
	}
	_, err := m.ReloadMe(ctx)
	return err
}

// UpdateProfile applies a partial profile edit and stores the server's result.
func (m *Manager) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Profile, error) {
	var profile Profile
	if err := m.client.JSON(ctx, http.MethodPatch, RouteMe, update, &profile); err != nil {
		if apperrors.Is(err, apperrors.ErrSessionExpired) || apperrors.Is(err, apperrors.ErrNotLoggedIn) {
			m.set(Unauthenticated, nil, err)
		}
		return nil, apperrors.Wrapf(err, "[session UpdateProfile]")
	}
	m.set(Authenticated, &profile, nil)
	return profile.clone(), nil
}

func (m *Manager) IsLoggedIn() bool {
	return m.Snapshot().IsLoggedIn()
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) Profile() *Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile.clone()
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	snap := Snapshot{
		Status:  m.status,
		Profile: m.profile.clone(),
		Err:     m.lastErr,
	}
	m.mu.RUnlock()

	if snap.Status == Authenticated {
		if claims, err := token.ParseClaims(m.tokens.Get()); err == nil {
			snap.Subject = claims.Subject
			snap.TokenExpiresAt = claims.ExpiresAt()
		}
	}
	return snap
}

// Subscribe calls fn with a snapshot after every transition. The returned func
// unsubscribes.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) fetchMe(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := m.client.JSON(ctx, http.MethodGet, RouteMe, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (m *Manager) fail(err error) error {
	if clearErr := m.client.ClearSession(); clearErr != nil {
		m.logger.Warn().Err(clearErr).Msg("failed to clear tokens after login failure")
	}
	m.set(Failed, nil, err)
	m.logger.Warn().Err(err).Msg("login failed")
	return err
}

// expired runs when the client gave up on refreshing the token.
func (m *Manager) expired(cause error) {
	m.logger.Info().Err(cause).Msg("session expired")
	m.set(Unauthenticated, nil, fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, cause))
}

func (m *Manager) set(status Status, profile *Profile, err error) {
	m.mu.Lock()
	m.status = status
	m.profile = profile.clone()
	m.lastErr = err
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) notify() {
	snap := m.Snapshot()

	m.listenersMu.Lock()
	listeners := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
