package session

import (
	"strings"

	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
)

// Provider is a social login provider accepted by the backend.
type Provider string

const (
	ProviderKakao  Provider = "KAKAO"
	ProviderGoogle Provider = "GOOGLE"
	ProviderApple  Provider = "APPLE"
	ProviderNaver  Provider = "NAVER"
)

var providers = map[Provider]struct{}{
	ProviderKakao:  {},
	ProviderGoogle: {},
	ProviderApple:  {},
	ProviderNaver:  {},
}

// ParseProvider accepts any casing ("kakao", "Kakao", "KAKAO").
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", apperrors.Wrapf(apperrors.ErrUnsupportedProvider, "%q", s)
	}
	return p, nil
}

func (p Provider) Valid() bool {
	_, ok := providers[p]
	return ok
}

func (p Provider) String() string {
	return string(p)
}

// Credential is what the provider issued to the user. The backend verifies it
// and answers with its own token pair.
type Credential struct {
	Provider    Provider `json:"provider"`
	AccessToken string   `json:"accessToken,omitempty"`
	IDToken     string   `json:"idToken,omitempty"`
}

func (c Credential) validate() error {
	if !c.Provider.Valid() {
		return apperrors.Wrapf(apperrors.ErrUnsupportedProvider, "%q", string(c.Provider))
	}
	if c.AccessToken == "" && c.IDToken == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidCredential, "missing provider token")
	}
	return nil
}
