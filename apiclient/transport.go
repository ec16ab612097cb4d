package apiclient

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type attemptKey struct{}

// withAttempt marks ctx with the send number of a logical request: 1 for the
// first send, 2 for the replay after a refresh.
func withAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

func attemptFrom(ctx context.Context) int {
	attempt, _ := ctx.Value(attemptKey{}).(int)
	return attempt
}

// Transport middleware wraps a RoundTripper.
type Transport func(http.RoundTripper) http.RoundTripper

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// ChainTransport wraps base with mw; the first middleware is the outermost.
func ChainTransport(base http.RoundTripper, mw ...Transport) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	chained := base
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

// UserAgentTransport sets User-Agent when the request has none.
func UserAgentTransport(userAgent string) Transport {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if userAgent != "" && r.Header.Get("User-Agent") == "" {
				r = r.Clone(r.Context())
				r.Header.Set("User-Agent", userAgent)
			}
			return next.RoundTrip(r)
		})
	}
}

// LoggingTransport logs request/response metadata. Headers and bodies are never logged.
func LoggingTransport(logger zerolog.Logger) Transport {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)

			event := logger.Debug()
			if err != nil {
				event = logger.Warn().Err(err)
			}
			event = event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", r.Header.Get(headerRequestID)).
				Bool("auth", r.Header.Get("Authorization") != "").
				Dur("duration", time.Since(start))
			if attempt := attemptFrom(r.Context()); attempt > 0 {
				event = event.Int("attempt", attempt)
			}
			if resp != nil {
				event = event.Int("status", resp.StatusCode)
			}
			event.Msg("api request")
			return resp, err
		})
	}
}
