package token_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"github.com/jrsteele09/go-habit-client/storage"
	"github.com/jrsteele09/go-habit-client/token"
	"github.com/stretchr/testify/require"
)

// brokenStorage fails every call.
type brokenStorage struct{}

func (brokenStorage) Get(string) (string, error) { return "", errors.New("keychain locked") }
func (brokenStorage) Set(string, string) error   { return errors.New("keychain locked") }
func (brokenStorage) Delete(string) error        { return errors.New("keychain locked") }

func TestStore_SetNormalizesIdempotently(t *testing.T) {
	s := token.NewStore(storage.NewMemory())

	require.NoError(t, s.Set("raw-token"))
	first := s.Get()
	require.NoError(t, s.Set("Bearer raw-token"))
	second := s.Get()

	require.Equal(t, "Bearer raw-token", first)
	require.Equal(t, first, second)

	require.NoError(t, s.Set("  bearer raw-token "))
	require.Equal(t, "Bearer raw-token", s.Get())
}

func TestStore_SetRejectsEmpty(t *testing.T) {
	s := token.NewStore(storage.NewMemory())
	require.ErrorIs(t, s.Set(""), apperrors.ErrInvalidToken)
	require.ErrorIs(t, s.Set("Bearer "), apperrors.ErrInvalidToken)
	require.ErrorIs(t, s.Set("bearer"), apperrors.ErrInvalidToken)
	require.ErrorIs(t, s.Set("  BEARER \t "), apperrors.ErrInvalidToken)
	require.ErrorIs(t, s.SetPair(token.Pair{AccessToken: "Bearer "}), apperrors.ErrInvalidToken)
	require.Equal(t, "", s.Get())
}

func TestStore_WithoutBackend(t *testing.T) {
	s := token.NewStore(nil)

	require.NoError(t, s.Set("raw"))
	require.Equal(t, "Bearer raw", s.Get())
	require.NoError(t, s.SetRefreshToken("r1"))
	require.Equal(t, "r1", s.RefreshToken())
	require.NoError(t, s.SetPair(token.Pair{AccessToken: "a2", RefreshToken: "r2"}))
	require.Equal(t, "Bearer a2", s.Get())

	require.NoError(t, s.Clear())
	require.Equal(t, "", s.Get())
	require.Equal(t, "", s.RefreshToken())
}

func TestStore_GenerationGuardsConditionalWrites(t *testing.T) {
	s := token.NewStore(storage.NewMemory())
	require.NoError(t, s.SetPair(token.Pair{AccessToken: "a1", RefreshToken: "r1"}))

	current, gen := s.Current()
	require.Equal(t, "Bearer a1", current)

	require.NoError(t, s.Clear())
	applied, err := s.SetPairIf(gen, token.Pair{AccessToken: "a2", RefreshToken: "r2"})
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, "", s.Get())

	require.NoError(t, s.SetPair(token.Pair{AccessToken: "a3", RefreshToken: "r3"}))
	cleared, err := s.ClearIf(gen)
	require.NoError(t, err)
	require.False(t, cleared)
	require.Equal(t, "Bearer a3", s.Get())

	_, gen = s.Current()
	applied, err = s.SetPairIf(gen, token.Pair{AccessToken: "a4"})
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, "Bearer a4", s.Get())
	require.Equal(t, "r3", s.RefreshToken())
	require.NotEqual(t, gen, s.Generation())
}

func TestStore_ColdStartReadsStorage(t *testing.T) {
	backend := storage.NewMemory()
	require.NoError(t, backend.Set(storage.KeyAccessToken, "Bearer persisted"))
	require.NoError(t, backend.Set(storage.KeyRefreshToken, "refresh-1"))

	s := token.NewStore(backend)
	require.Equal(t, "Bearer persisted", s.Get())
	require.Equal(t, "refresh-1", s.RefreshToken())
}

func TestStore_SetWritesThrough(t *testing.T) {
	backend := storage.NewMemory()
	s := token.NewStore(backend)

	require.NoError(t, s.SetPair(token.Pair{AccessToken: "a1", RefreshToken: "r1"}))

	v, err := backend.Get(storage.KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, "Bearer a1", v)
	v, err = backend.Get(storage.KeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "r1", v)
}

func TestStore_SetPairKeepsRefreshWhenNotRotated(t *testing.T) {
	s := token.NewStore(storage.NewMemory())
	require.NoError(t, s.SetPair(token.Pair{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, s.SetPair(token.Pair{AccessToken: "a2"}))

	require.Equal(t, "Bearer a2", s.Get())
	require.Equal(t, "r1", s.RefreshToken())
}

func TestStore_Clear(t *testing.T) {
	backend := storage.NewMemory()
	s := token.NewStore(backend)
	require.NoError(t, s.SetPair(token.Pair{AccessToken: "a1", RefreshToken: "r1"}))

	require.NoError(t, s.Clear())

	require.Equal(t, "", s.Get())
	require.Equal(t, "", s.RefreshToken())
	_, err := backend.Get(storage.KeyAccessToken)
	require.ErrorIs(t, err, storage.ErrNotFound)

	fresh := token.NewStore(backend)
	require.Equal(t, "", fresh.Get())
}

func TestStore_StorageUnavailable(t *testing.T) {
	s := token.NewStore(brokenStorage{})

	require.Equal(t, "", s.Get())
	require.Equal(t, "", s.RefreshToken())

	// The in-process cache still works when persistence fails.
	require.Error(t, s.Set("a1"))
	require.Equal(t, "Bearer a1", s.Get())

	require.Error(t, s.Clear())
	require.Equal(t, "", s.Get())
}

func TestRaw(t *testing.T) {
	require.Equal(t, "abc", token.Raw("Bearer abc"))
	require.Equal(t, "abc", token.Raw("BEARER abc"))
	require.Equal(t, "abc", token.Raw("abc"))
	require.Equal(t, "", token.Raw("Bearer "))
	require.Equal(t, "", token.Raw("bearer"))
	require.Equal(t, "Bearerabc", token.Raw("Bearerabc"))
	require.Equal(t, "", token.Raw(""))
	require.Equal(t, "", token.Normalize("   "))
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "member-7",
		"memberId": 7,
		"role":     "USER",
		"exp":      exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := token.ParseClaims("Bearer " + signed)
	require.NoError(t, err)
	require.Equal(t, "member-7", claims.Subject)
	require.Equal(t, int64(7), claims.MemberID)
	require.Equal(t, "USER", claims.Role)
	require.True(t, claims.ExpiresAt().Equal(exp))
	require.False(t, claims.ExpiredAt(time.Now()))
	require.True(t, claims.ExpiredAt(exp.Add(time.Second)))
}

func TestParseClaims_Opaque(t *testing.T) {
	_, err := token.ParseClaims("Bearer opaque-token")
	require.ErrorIs(t, err, apperrors.ErrNotJWT)

	_, err = token.ParseClaims("")
	require.ErrorIs(t, err, apperrors.ErrInvalidToken)
}
