package token

import (
	"strings"
	"sync"

	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"github.com/jrsteele09/go-habit-client/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const bearerPrefix = "Bearer "

// Pair is the token pair returned by the login and refresh endpoints.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Store holds the access and refresh tokens. Values are cached in memory and
// written through to the storage backend. A Store is created once per client and
// cleared on logout. A nil backend keeps tokens in memory only.
type Store struct {
	mu      sync.RWMutex
	storage storage.Storage
	access  string
	refresh string
	gen     uint64
	logger  zerolog.Logger
}

type StoreOption func(*Store)

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(backend storage.Storage, opts ...StoreOption) *Store {
	s := &Store{
		storage: backend,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalize returns token in "Bearer <raw>" form. Empty input stays empty.
func Normalize(token string) string {
	raw := Raw(token)
	if raw == "" {
		return ""
	}
	return bearerPrefix + raw
}

// Raw strips a (case-insensitive) "Bearer " prefix. A bare "Bearer" is empty.
func Raw(token string) string {
	token = strings.TrimSpace(token)
	scheme := strings.TrimSpace(bearerPrefix)
	if strings.EqualFold(token, scheme) {
		return ""
	}
	if len(token) > len(scheme) && strings.EqualFold(token[:len(scheme)], scheme) && isSpace(token[len(scheme)]) {
		token = strings.TrimSpace(token[len(scheme):])
	}
	return token
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

// Get returns the bearer-prefixed access token, or "" when logged out. On a cold
// cache it falls back to storage; storage errors read as "no token".
func (s *Store) Get() string {
	s.mu.RLock()
	access := s.access
	s.mu.RUnlock()
	if access != "" {
		return access
	}

	stored, ok := s.load(storage.KeyAccessToken)
	if !ok {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access == "" {
		s.access = Normalize(stored)
	}
	return s.access
}

// Current returns the access token together with the generation it belongs to.
// The generation changes on every write, so a caller can tell whether the
// tokens were replaced or cleared after it looked.
func (s *Store) Current() (string, uint64) {
	s.Get()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.gen
}

// Generation is bumped by every Set, SetRefreshToken, SetPair and Clear.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Set normalizes token and writes it to the cache and storage. The cache is
// updated even if the storage write fails so the running process stays usable.
func (s *Store) Set(token string) error {
	normalized := Normalize(token)
	if normalized == "" {
		return apperrors.ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	return s.setAccess(normalized)
}

// RefreshToken returns the stored refresh token or "".
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	refresh := s.refresh
	s.mu.RUnlock()
	if refresh != "" {
		return refresh
	}

	stored, ok := s.load(storage.KeyRefreshToken)
	if !ok {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresh == "" {
		s.refresh = stored
	}
	return s.refresh
}

func (s *Store) SetRefreshToken(refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return apperrors.ErrInvalidRefreshToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	return s.setRefresh(refreshToken)
}

// SetPair stores both tokens. An empty refresh token keeps the current one
// (the server is not required to rotate it).
func (s *Store) SetPair(p Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setPair(p)
}

// SetPairIf stores p only if the generation is still gen. It reports whether
// the pair was applied.
func (s *Store) SetPairIf(gen uint64, p Pair) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return false, nil
	}
	return true, s.setPair(p)
}

// Clear drops both tokens from the cache and storage.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clear()
}

// ClearIf clears the tokens only if the generation is still gen. It reports
// whether they were cleared.
func (s *Store) ClearIf(gen uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return false, nil
	}
	return true, s.clear()
}

func (s *Store) setPair(p Pair) error {
	normalized := Normalize(p.AccessToken)
	if normalized == "" {
		return apperrors.ErrInvalidToken
	}
	refresh := strings.TrimSpace(p.RefreshToken)

	s.gen++
	err := s.setAccess(normalized)
	if refresh == "" {
		return err
	}
	return apperrors.Join(err, s.setRefresh(refresh))
}

func (s *Store) setAccess(normalized string) error {
	s.access = normalized
	if s.storage == nil {
		return nil
	}
	return apperrors.Wrapf(s.storage.Set(storage.KeyAccessToken, normalized), "[token Store] persist access token")
}

func (s *Store) setRefresh(refreshToken string) error {
	s.refresh = refreshToken
	if s.storage == nil {
		return nil
	}
	return apperrors.Wrapf(s.storage.Set(storage.KeyRefreshToken, refreshToken), "[token Store] persist refresh token")
}

func (s *Store) clear() error {
	s.gen++
	s.access = ""
	s.refresh = ""
	if s.storage == nil {
		return nil
	}

	var errs []error
	if err := s.storage.Delete(storage.KeyAccessToken); err != nil {
		errs = append(errs, err)
	}
	if err := s.storage.Delete(storage.KeyRefreshToken); err != nil {
		errs = append(errs, err)
	}
	return apperrors.Wrapf(apperrors.Join(errs...), "[token Store] clear")
}

func (s *Store) load(key string) (string, bool) {
	if s.storage == nil {
		return "", false
	}
	v, err := s.storage.Get(key)
	if err != nil {
		if !apperrors.Is(err, storage.ErrNotFound) {
			s.logger.Debug().Err(err).Str("key", key).Msg("token storage unavailable")
		}
		return "", false
	}
	return v, v != ""
}
