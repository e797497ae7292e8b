package authbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPClient is the production Client: it speaks the backend's REST token
// endpoints. It keeps no session of its own — the server process serves many
// browsers at once, so each caller's session travels with the caller (in
// cookies) and comes back in as the credential argument.
//
// CONCURRENCY:
// The subscriber table is guarded by mu. Events are delivered synchronously
// from the goroutine that caused the transition; subscriber callbacks must be
// fast and must not call back into the client while handling an event.
type HTTPClient struct {
	baseURL   string
	publicKey string
	http      *http.Client
	logger    *slog.Logger

	mu          sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client against the backend at baseURL. publicKey is
// sent as the api key header on every request, matching the backend's SDK.
func NewHTTPClient(baseURL, publicKey string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		publicKey:   publicKey,
		http:        &http.Client{Timeout: 20 * time.Second},
		logger:      logger,
		subscribers: make(map[int]func(Event)),
	}
}

// tokenResponse is the backend's token endpoint reply, shared by the
// authorization-code and refresh grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         User   `json:"user"`
}

// errorResponse is the backend's error body. Both fields appear in the wild
// depending on the endpoint.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"msg"`
}

func (e *errorResponse) text() string {
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Message != "":
		return e.Message
	default:
		return e.Error
	}
}

// ExchangeCodeForSession redeems an OAuth authorization code. On success a
// SIGNED_IN event is emitted and the fresh session returned to the caller,
// who is responsible for persisting it (cookie, test fixture, ...).
//
// The backend rejects a code that was already redeemed with an error message
// mentioning the code challenge; that exact text is what the callback state
// machine's recovery path matches on, so it is passed through verbatim.
func (c *HTTPClient) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	tok, err := c.postToken(ctx, "grant_type=authorization_code", map[string]string{"auth_code": code})
	if err != nil {
		return nil, err
	}

	session := newSession(tok)
	c.emit(Event{Type: EventSignedIn, Session: session})
	return session, nil
}

// RefreshSession extends the session the given refresh token belongs to.
func (c *HTTPClient) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("authbackend: no refresh token")
	}

	tok, err := c.postToken(ctx, "grant_type=refresh_token", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	session := newSession(tok)
	c.emit(Event{Type: EventTokenRefreshed, Session: session})
	return session, nil
}

// SignOut revokes the session behind the given refresh token server-side
// (best effort) and emits SIGNED_OUT. The caller clears its own cookies
// regardless of the revocation outcome.
func (c *HTTPClient) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		payload, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1/logout", bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("apikey", c.publicKey)
			if resp, err := c.http.Do(req); err != nil {
				c.logger.Warn("authbackend: logout request failed", slog.String("error", err.Error()))
			} else {
				resp.Body.Close()
			}
		}
	}

	c.emit(Event{Type: EventSignedOut})
	return nil
}

// OnAuthChange registers fn for future auth transitions. The returned
// function removes the subscription; it is safe to call more than once.
func (c *HTTPClient) OnAuthChange(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *HTTPClient) postToken(ctx context.Context, grant string, body map[string]string) (*tokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("authbackend: encoding token request: %w", err)
	}

	url := fmt.Sprintf("%s/auth/v1/token?%s", c.baseURL, grant)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("authbackend: building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.publicKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authbackend: token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("authbackend: reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		if msg := e.text(); msg != "" {
			return nil, fmt.Errorf("authbackend: %s", msg)
		}
		return nil, fmt.Errorf("authbackend: token endpoint returned status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("authbackend: decoding token response: %w", err)
	}
	if tok.AccessToken == "" || tok.User.ID == "" {
		return nil, fmt.Errorf("authbackend: token response missing access_token or user")
	}

	return &tok, nil
}

func newSession(tok *tokenResponse) *Session {
	return &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		User:         tok.User,
	}
}

// emit delivers an event to every subscriber. The subscriber list is copied
// under the lock so a callback can unsubscribe without deadlocking.
func (c *HTTPClient) emit(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
