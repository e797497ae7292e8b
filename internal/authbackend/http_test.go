package authbackend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBackend is an httptest stand-in for the managed-auth token endpoints.
type fakeBackend struct {
	srv          *httptest.Server
	tokenStatus  int
	tokenBody    map[string]any
	logoutCalled atomic.Int32
	lastLogout   atomic.Value // body of the last logout request
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	f := &fakeBackend{
		tokenStatus: http.StatusOK,
		tokenBody: map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
			"user":          map[string]any{"id": "user-1", "email": "u@example.com"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_ = json.NewEncoder(w).Encode(f.tokenBody)
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logoutCalled.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastLogout.Store(body["refresh_token"])
		w.WriteHeader(http.StatusNoContent)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBackend) client() *HTTPClient {
	return NewHTTPClient(f.srv.URL, "public-key", testLogger())
}

func TestExchangeCodeForSession_Success(t *testing.T) {
	f := newFakeBackend(t)
	c := f.client()

	var events []Event
	unsub := c.OnAuthChange(func(ev Event) { events = append(events, ev) })
	defer unsub()

	session, err := c.ExchangeCodeForSession(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("ExchangeCodeForSession() error = %v", err)
	}
	if session.User.ID != "user-1" {
		t.Errorf("session user = %q, want user-1", session.User.ID)
	}
	if session.RefreshToken != "rt-1" {
		t.Errorf("RefreshToken = %q, want rt-1", session.RefreshToken)
	}
	if !session.Valid() {
		t.Error("freshly exchanged session should be valid")
	}

	if len(events) != 1 || events[0].Type != EventSignedIn {
		t.Errorf("events = %+v, want one SIGNED_IN", events)
	}
}

func TestExchangeCodeForSession_PassesProviderErrorTextThrough(t *testing.T) {
	f := newFakeBackend(t)
	f.tokenStatus = http.StatusBadRequest
	f.tokenBody = map[string]any{
		"error_description": "invalid request: both auth code and code verifier should be non-empty, code challenge does not match",
	}

	_, err := f.client().ExchangeCodeForSession(context.Background(), "used-code")
	if err == nil {
		t.Fatal("ExchangeCodeForSession() should fail on 400")
	}
	// The callback state machine matches on this text, so it must survive.
	if !strings.Contains(err.Error(), "code challenge") {
		t.Errorf("error = %v, want provider text preserved", err)
	}
}

func TestExchangeCodeForSession_NoSharedState(t *testing.T) {
	f := newFakeBackend(t)
	c := f.client()

	first, err := c.ExchangeCodeForSession(context.Background(), "code-a")
	if err != nil {
		t.Fatalf("exchange code-a: %v", err)
	}

	f.tokenBody["access_token"] = "at-2"
	f.tokenBody["user"] = map[string]any{"id": "user-2", "email": "v@example.com"}

	second, err := c.ExchangeCodeForSession(context.Background(), "code-b")
	if err != nil {
		t.Fatalf("exchange code-b: %v", err)
	}

	// Each caller gets its own session; the first is untouched by the second.
	if first.User.ID != "user-1" || first.AccessToken != "at-1" {
		t.Errorf("first session mutated: %+v", first)
	}
	if second.User.ID != "user-2" {
		t.Errorf("second session user = %q, want user-2", second.User.ID)
	}
}

func TestRefreshSession(t *testing.T) {
	f := newFakeBackend(t)
	c := f.client()

	f.tokenBody["access_token"] = "at-2"
	var refreshed atomic.Int32
	unsub := c.OnAuthChange(func(ev Event) {
		if ev.Type == EventTokenRefreshed {
			refreshed.Add(1)
		}
	})
	defer unsub()

	session, err := c.RefreshSession(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	if session.AccessToken != "at-2" {
		t.Errorf("AccessToken = %q, want at-2", session.AccessToken)
	}
	if refreshed.Load() != 1 {
		t.Errorf("TOKEN_REFRESHED events = %d, want 1", refreshed.Load())
	}
}

func TestRefreshSession_WithoutToken(t *testing.T) {
	f := newFakeBackend(t)
	if _, err := f.client().RefreshSession(context.Background(), ""); err == nil {
		t.Fatal("RefreshSession() without a refresh token should fail")
	}
}

func TestSignOut_RevokesAndNotifies(t *testing.T) {
	f := newFakeBackend(t)
	c := f.client()

	var signedOut atomic.Int32
	unsub := c.OnAuthChange(func(ev Event) {
		if ev.Type == EventSignedOut {
			signedOut.Add(1)
		}
	})
	defer unsub()

	if err := c.SignOut(context.Background(), "rt-1"); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}

	if signedOut.Load() != 1 {
		t.Errorf("SIGNED_OUT events = %d, want 1", signedOut.Load())
	}
	if f.logoutCalled.Load() != 1 {
		t.Errorf("backend logout calls = %d, want 1", f.logoutCalled.Load())
	}
	if got, _ := f.lastLogout.Load().(string); got != "rt-1" {
		t.Errorf("revoked refresh token = %q, want rt-1", got)
	}
}

func TestSignOut_WithoutTokenSkipsRevocation(t *testing.T) {
	f := newFakeBackend(t)
	c := f.client()

	var signedOut atomic.Int32
	unsub := c.OnAuthChange(func(ev Event) {
		if ev.Type == EventSignedOut {
			signedOut.Add(1)
		}
	})
	defer unsub()

	if err := c.SignOut(context.Background(), ""); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if f.logoutCalled.Load() != 0 {
		t.Errorf("backend logout calls = %d, want 0", f.logoutCalled.Load())
	}
	if signedOut.Load() != 1 {
		t.Errorf("SIGNED_OUT events = %d, want 1", signedOut.Load())
	}
}

func TestOnAuthChange_UnsubscribeStopsDelivery(t *testing.T) {
	f := newFakeBackend(t)
	c := f.client()

	var calls atomic.Int32
	unsub := c.OnAuthChange(func(Event) { calls.Add(1) })
	unsub()

	if _, err := c.ExchangeCodeForSession(context.Background(), "code"); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	// Give any stray delivery a moment; there should be none.
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("subscriber called %d times after unsubscribe, want 0", calls.Load())
	}
}
