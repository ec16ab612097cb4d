package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"github.com/jrsteele09/go-habit-client/storage"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

type persistedCookie struct {
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Path     string        `json:"path"`
	Domain   string        `json:"domain,omitempty"`
	Expires  time.Time     `json:"expires,omitempty"`
	Secure   bool          `json:"secure,omitempty"`
	HttpOnly bool          `json:"httpOnly,omitempty"`
	SameSite http.SameSite `json:"sameSite,omitempty"`
}

func (p persistedCookie) key() string {
	return p.Name + ";" + p.Domain + ";" + p.Path
}

func (p persistedCookie) expired(now time.Time) bool {
	return !p.Expires.IsZero() && !p.Expires.After(now)
}

func (p persistedCookie) cookie() *http.Cookie {
	return &http.Cookie{
		Name:     p.Name,
		Value:    p.Value,
		Path:     p.Path,
		Domain:   p.Domain,
		Expires:  p.Expires,
		Secure:   p.Secure,
		HttpOnly: p.HttpOnly,
		SameSite: p.SameSite,
	}
}

// sessionCookies is a cookie jar for the API origin whose contents survive
// restarts through the storage backend. Cookies are only captured from
// successful responses. The jar cannot list cookie attributes, so the
// Set-Cookie values are also kept here as received.
type sessionCookies struct {
	mu      sync.Mutex
	origin  *url.URL
	jar     *cookiejar.Jar
	saved   map[string]persistedCookie
	storage storage.Storage
	logger  zerolog.Logger
	now     func() time.Time
}

func newSessionCookies(origin *url.URL, backend storage.Storage, logger zerolog.Logger) (*sessionCookies, error) {
	jar, err := newJar()
	if err != nil {
		return nil, err
	}
	c := &sessionCookies{
		origin:  &url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/"},
		jar:     jar,
		saved:   make(map[string]persistedCookie),
		storage: backend,
		logger:  logger,
		now:     time.Now,
	}
	c.restore()
	return c, nil
}

func newJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, apperrors.Wrapf(err, "[apiclient] cookie jar")
	}
	return jar, nil
}

// apply adds the jar's cookies for r.URL to r.
func (c *sessionCookies) apply(r *http.Request) {
	c.mu.Lock()
	cookies := c.jar.Cookies(r.URL)
	c.mu.Unlock()

	for _, cookie := range cookies {
		r.AddCookie(cookie)
	}
}

// capture stores the Set-Cookie values of resp and persists them.
func (c *sessionCookies) capture(resp *http.Response) {
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	u := resp.Request.URL
	c.jar.SetCookies(u, cookies)

	now := c.now()
	for _, cookie := range cookies {
		p := persistedCookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Domain:   cookie.Domain,
			Expires:  cookie.Expires,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HttpOnly,
			SameSite: cookie.SameSite,
		}
		if p.Path == "" || p.Path[0] != '/' {
			p.Path = defaultCookiePath(u.Path)
		}
		switch {
		case cookie.MaxAge < 0:
			p.Expires = now
		case cookie.MaxAge > 0:
			p.Expires = now.Add(time.Duration(cookie.MaxAge) * time.Second)
		}

		if p.expired(now) {
			delete(c.saved, p.key())
			continue
		}
		c.saved[p.key()] = p
	}
	c.persist()
}

// reset drops every cookie in memory and storage.
func (c *sessionCookies) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if jar, err := newJar(); err == nil {
		c.jar = jar
	}
	c.saved = make(map[string]persistedCookie)
	if c.storage != nil {
		if err := c.storage.Delete(storage.KeyCookies); err != nil {
			c.logger.Debug().Err(err).Msg("failed to delete persisted cookies")
		}
	}
}

func (c *sessionCookies) persist() {
	if c.storage == nil {
		return
	}
	now := c.now()
	saved := make([]persistedCookie, 0, len(c.saved))
	for k, p := range c.saved {
		if p.expired(now) {
			delete(c.saved, k)
			continue
		}
		saved = append(saved, p)
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return
	}
	if err := c.storage.Set(storage.KeyCookies, string(data)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to persist cookies")
	}
}

func (c *sessionCookies) restore() {
	if c.storage == nil {
		return
	}
	data, err := c.storage.Get(storage.KeyCookies)
	if err != nil {
		return
	}
	var saved []persistedCookie
	if err := json.Unmarshal([]byte(data), &saved); err != nil {
		c.logger.Debug().Err(err).Msg("ignoring unreadable persisted cookies")
		return
	}

	now := c.now()
	for _, p := range saved {
		if p.Name == "" || p.expired(now) {
			continue
		}
		if p.Path == "" {
			p.Path = "/"
		}
		c.saved[p.key()] = p
		u := *c.origin
		u.Path = p.Path
		c.jar.SetCookies(&u, []*http.Cookie{p.cookie()})
	}
}

// defaultCookiePath is the RFC 6265 default-path of a request path.
func defaultCookiePath(requestPath string) string {
	if requestPath == "" || requestPath[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(requestPath, "/")
	if i == 0 {
		return "/"
	}
	return requestPath[:i]
}
