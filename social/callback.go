package social

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"github.com/jrsteele09/go-habit-client/session"
)

const callbackPage = `<!doctype html><html><body><p>%s</p><p>You can close this window.</p></body></html>`

type callbackResult struct {
	cred *session.Credential
	err  error
}

// CallbackHandler receives the provider redirect, completes the flow and hands
// the credential to Wait. Only the first callback for a started flow counts.
type CallbackHandler struct {
	flow   *Flow
	once   sync.Once
	result chan callbackResult
}

func NewCallbackHandler(flow *Flow) *CallbackHandler {
	return &CallbackHandler{
		flow:   flow,
		result: make(chan callbackResult, 1),
	}
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// FormValue covers both the query string and form_post responses.
	state := r.FormValue("state")
	code := r.FormValue("code")
	errorParam := r.FormValue("error")
	errorDesc := r.FormValue("error_description")

	// Requests that do not belong to a started flow never end the wait.
	if !h.flow.pending(state) {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	if errorParam != "" {
		h.flow.discard(state)
		err := apperrors.Wrapf(apperrors.ErrInvalidCredential, "authorization failed: %s - %s", errorParam, errorDesc)
		h.deliver(nil, err)
		writePage(w, http.StatusBadRequest, "Login was cancelled or denied.")
		return
	}
	if code == "" {
		http.Error(w, "Missing code parameter", http.StatusBadRequest)
		return
	}

	cred, err := h.flow.Complete(r.Context(), state, code)
	if err != nil {
		h.deliver(nil, err)
		writePage(w, http.StatusUnauthorized, "Login failed.")
		return
	}

	h.deliver(cred, nil)
	writePage(w, http.StatusOK, "Login successful.")
}

// Wait blocks until a callback arrives or ctx is done.
func (h *CallbackHandler) Wait(ctx context.Context) (*session.Credential, error) {
	select {
	case res := <-h.result:
		return res.cred, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *CallbackHandler) deliver(cred *session.Credential, err error) {
	h.once.Do(func() {
		h.result <- callbackResult{cred: cred, err: err}
	})
}

func writePage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, callbackPage, msg)
}

// Loopback runs a complete flow for provider: it listens on addr for the
// redirect, passes the authorization URL to open and waits for the callback.
// The callback path is taken from redirectURL.
func (f *Flow) Loopback(ctx context.Context, provider session.Provider, addr, redirectURL string, open func(authURL string) error) (*session.Credential, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[social Loopback] redirect URL")
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[social Loopback] listen %s", addr)
	}

	handler := NewCallbackHandler(f)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error().Err(err).Msg("callback server stopped")
		}
	}()
	defer shutdown(server)

	authURL, _, err := f.Start(provider)
	if err != nil {
		return nil, err
	}
	if err := open(authURL); err != nil {
		return nil, apperrors.Wrapf(err, "[social Loopback] open browser")
	}
	return handler.Wait(ctx)
}

func shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
