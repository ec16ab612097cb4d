package apiclient_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jrsteele09/go-habit-client/apiclient"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainTransport_Order(t *testing.T) {
	var order []string
	tag := func(name string) apiclient.Transport {
		return func(next http.RoundTripper) http.RoundTripper {
			return roundTrip(func(r *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(r)
			})
		}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "server")
	}))
	defer server.Close()

	client := &http.Client{Transport: apiclient.ChainTransport(nil, tag("first"), tag("second"))}
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"first", "second", "server"}, order)
}

func TestLoggingTransport_NeverLogsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	client := &http.Client{Transport: apiclient.ChainTransport(nil, apiclient.LoggingTransport(logger))}

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/members/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer super-secret")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/api/members/me"`)
	assert.Contains(t, buf.String(), `"auth":true`)
	assert.NotContains(t, buf.String(), "super-secret")
}

func TestClient_LogsAttemptPerSend(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "expired")

	var buf bytes.Buffer
	client, err := apiclient.New(testConfig{baseURL: f.server.URL}, f.tokens, f.storage,
		apiclient.WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+routeProtected, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	var attempts []int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry struct {
			Message string `json:"message"`
			Path    string `json:"path"`
			Attempt int    `json:"attempt"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry.Message == "api request" && entry.Path == routeProtected {
			attempts = append(attempts, entry.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestUserAgentTransport_KeepsExplicitValue(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := &http.Client{Transport: apiclient.ChainTransport(nil, apiclient.UserAgentTransport("habit-client/1.0"))}

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "custom", got)
}

type roundTrip func(*http.Request) (*http.Response, error)

func (f roundTrip) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
