package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"github.com/jrsteele09/go-habit-client/token"
)

// RouteTokenRefresh is the backend endpoint that mints a new access token.
const RouteTokenRefresh = "/api/auth/token/refresh"

const refreshKey = "refresh"

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// renew returns an access token to replay a request that got a 401 with used.
//
// If the store already holds a different token, another request refreshed in the
// meantime and that token is returned without a new refresh. Otherwise the caller
// joins the single in-flight refresh, starting it if needed. The refresh runs on a
// context detached from the caller: a caller that gives up only stops waiting.
func (c *Client) renew(req *http.Request, used string, original *APIError) (string, error) {
	ctx := req.Context()

	c.refreshMu.Lock()
	current, gen := c.tokens.Current()
	if current == "" {
		c.refreshMu.Unlock()
		return "", fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, original)
	}
	if current != used {
		c.refreshMu.Unlock()
		return current, nil
	}
	ch := c.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), gen)
	})
	c.refreshMu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("%w: %w (refresh: %v)", apperrors.ErrSessionExpired, original, res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refresh exchanges the refresh token for a new pair. Any failure, including
// network errors and timeouts, ends the session.
//
// gen is the token generation the refresh was started for. If the tokens were
// cleared or replaced while the call was in flight (logout, a new login) the
// result is dropped and the current tokens are left alone.
func (c *Client) refresh(parent context.Context, gen uint64) (string, error) {
	c.state.Store(int32(StateRefreshing))
	defer c.state.Store(int32(StateIdle))

	ctx, cancel := context.WithTimeout(parent, c.refreshTimeout)
	defer cancel()

	pair, err := c.requestRefresh(ctx)
	if err != nil {
		if c.expire(gen, err) {
			c.logger.Warn().Err(err).Msg("token refresh failed, session cleared")
			return "", err
		}
		c.logger.Debug().Err(err).Msg("token refresh failed after the session changed")
		return c.superseded()
	}

	applied, err := c.tokens.SetPairIf(gen, *pair)
	if !applied {
		c.logger.Debug().Msg("dropping refreshed tokens, session changed during refresh")
		return c.superseded()
	}
	if err != nil {
		// The cache holds the new pair; only persistence failed.
		c.logger.Warn().Err(err).Msg("failed to persist refreshed tokens")
	}
	c.logger.Debug().Msg("access token refreshed")
	return c.tokens.Get(), nil
}

// superseded is the refresh outcome when the session changed underneath it.
func (c *Client) superseded() (string, error) {
	if current := c.tokens.Get(); current != "" {
		return current, nil
	}
	return "", apperrors.ErrNotLoggedIn
}

func (c *Client) requestRefresh(ctx context.Context) (*token.Pair, error) {
	refreshToken := c.tokens.RefreshToken()
	if refreshToken == "" {
		return nil, apperrors.ErrInvalidRefreshToken
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, apperrors.Wrapf(err, "[apiclient refresh] marshal")
	}
	u, err := c.URL(RouteTokenRefresh)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrapf(err, "[apiclient refresh] new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(req, uuid.NewString(), "", 1)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp)
	}
	defer resp.Body.Close()

	var pair token.Pair
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&pair); err != nil {
		return nil, apperrors.Wrapf(err, "[apiclient refresh] decode response")
	}
	if token.Raw(pair.AccessToken) == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidToken, "[apiclient refresh] empty access token")
	}
	return &pair, nil
}

// expire clears the session started at gen and notifies the listeners. It does
// nothing and returns false if the tokens changed since.
func (c *Client) expire(gen uint64, cause error) bool {
	cleared, err := c.tokens.ClearIf(gen)
	if !cleared {
		return false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear session")
	}
	c.cookies.reset()

	c.listenersMu.Lock()
	listeners := make([]func(error), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(cause)
	}
	return true
}
