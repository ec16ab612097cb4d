// Package apiclient is the HTTP layer for the habit API. It attaches the bearer
// token and session cookies to every request and turns a 401 into a single shared
// token refresh followed by one replay of the failed request.
package apiclient

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-habit-client/internal/config"
	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"github.com/jrsteele09/go-habit-client/storage"
	"github.com/jrsteele09/go-habit-client/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const headerRequestID = "X-Request-ID"

// Config is the part of the application config the client needs.
type Config interface {
	GetBaseURL() string
	config.HTTPConfig
}

// State is the refresh state of a Client.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRefreshing:
		return "REFRESHING"
	default:
		return "UNKNOWN"
	}
}

type Client struct {
	baseURL        *url.URL
	http           *http.Client
	tokens         *token.Store
	cookies        *sessionCookies
	logger         zerolog.Logger
	refreshTimeout time.Duration

	transport http.RoundTripper

	// refreshMu makes the stale-token check and joining the in-flight refresh atomic.
	refreshMu    sync.Mutex
	refreshGroup singleflight.Group
	state        atomic.Int32

	listenersMu  sync.Mutex
	listeners    map[uint64]func(error)
	nextListener uint64
}

type Option func(*Client)

// WithTransport sets the base RoundTripper (defaults to http.DefaultTransport).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(cfg Config, tokens *token.Store, backend storage.Storage, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "[apiclient New] token store is required")
	}
	baseURL, err := url.Parse(cfg.GetBaseURL())
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "[apiclient New] invalid base URL %q", cfg.GetBaseURL())
	}

	c := &Client{
		baseURL:        baseURL,
		tokens:         tokens,
		logger:         log.Logger,
		refreshTimeout: cfg.GetRefreshTimeout(),
		listeners:      make(map[uint64]func(error)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cookies, err = newSessionCookies(baseURL, backend, c.logger)
	if err != nil {
		return nil, err
	}
	c.http = &http.Client{
		Timeout: cfg.GetRequestTimeout(),
		Transport: ChainTransport(c.transport,
			UserAgentTransport(cfg.GetUserAgent()),
			LoggingTransport(c.logger),
		),
	}
	return c, nil
}

// State reports whether a token refresh is in flight.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Tokens returns the token store the client authenticates with.
func (c *Client) Tokens() *token.Store {
	return c.tokens
}

// URL resolves an API path (optionally with a query) against the base URL.
func (c *Client) URL(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", apperrors.Wrapf(err, "[apiclient] invalid path %q", path)
	}
	u := c.baseURL.JoinPath(ref.Path)
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

type requestOptions struct {
	auth bool
}

type RequestOption func(*requestOptions)

// WithoutAuth sends the request without an Authorization header and skips the
// refresh-and-replay policy. Used for login and other public endpoints.
func WithoutAuth() RequestOption {
	return func(o *requestOptions) {
		o.auth = false
	}
}

// Do sends req with credentials attached.
//
// For authenticated requests (the default) a missing token fails with
// ErrNotLoggedIn before anything is sent. A 401 triggers one shared token refresh
// and a single replay with the new token; a 401 on the replay is returned as an
// *APIError. When the refresh fails the session is cleared and the error wraps
// both ErrSessionExpired and the original 401 *APIError.
//
// Unauthenticated requests return the response whatever its status.
func (c *Client) Do(req *http.Request, opts ...RequestOption) (*http.Response, error) {
	ro := requestOptions{auth: true}
	for _, opt := range opts {
		opt(&ro)
	}

	if err := bufferBody(req); err != nil {
		return nil, err
	}
	requestID := req.Header.Get(headerRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if !ro.auth {
		return c.send(req, requestID, "", 1)
	}

	used := c.tokens.Get()
	if used == "" {
		return nil, apperrors.ErrNotLoggedIn
	}

	resp, err := c.send(req, requestID, used, 1)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	original := newAPIError(resp)
	fresh, err := c.renew(req, used, original)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Str("request_id", requestID).Str("path", req.URL.Path).Msg("replaying request with refreshed token")
	resp, err = c.send(req, requestID, fresh, 2)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, newAPIError(resp)
	}
	return resp, nil
}

// ClearSession forgets the tokens and session cookies.
func (c *Client) ClearSession() error {
	c.cookies.reset()
	return c.tokens.Clear()
}

// OnSessionExpired registers fn to run after a failed refresh has cleared the
// session. The returned func unregisters it.
func (c *Client) OnSessionExpired(fn func(cause error)) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) send(req *http.Request, requestID, bearer string, attempt int) (*http.Response, error) {
	out := req.Clone(withAttempt(req.Context(), attempt))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, apperrors.Wrapf(err, "[apiclient] rewind body")
		}
		out.Body = body
	}

	out.Header.Set(headerRequestID, requestID)
	if bearer != "" {
		out.Header.Set("Authorization", bearer)
	} else {
		out.Header.Del("Authorization")
	}
	c.cookies.apply(out)

	resp, err := c.http.Do(out)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[apiclient] %s %s", req.Method, req.URL.Path)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.cookies.capture(resp)
	}
	return resp, nil
}

// bufferBody makes req's body replayable.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return apperrors.Wrapf(err, "[apiclient] read request body")
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}
