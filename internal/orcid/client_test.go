package orcid

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
)

func rawURLEncode(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeProvider stands in for ORCID: a token endpoint and a /person endpoint.
type fakeProvider struct {
	srv            *httptest.Server
	tokenStatus    int
	tokenResponse  map[string]any
	personStatus   int
	personResponse string
	tokenCalls     int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{
		tokenStatus: http.StatusOK,
		tokenResponse: map[string]any{
			"access_token": "tok-123",
			"token_type":   "bearer",
			"scope":        "/authenticate",
			"orcid":        "0000-0001-2345-6789",
			"name":         "Nguyen Van A",
		},
		personStatus: http.StatusOK,
		personResponse: `{
			"name": {
				"given-names": {"value": "Nguyen"},
				"family-name": {"value": "Van A"}
			},
			"emails": {"email": [
				{"email": "secondary@example.com", "primary": false},
				{"email": "a@example.com", "primary": true}
			]}
		}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_ = json.NewEncoder(w).Encode(f.tokenResponse)
	})
	mux.HandleFunc("/v3.0/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.personStatus)
		fmt.Fprint(w, f.personResponse)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProvider) client() *Client {
	return NewWithEndpoints(
		"client-id", "client-secret",
		f.srv.URL+"/oauth/authorize",
		f.srv.URL+"/oauth/token",
		f.srv.URL+"/v3.0",
		testLogger(),
	)
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"0000-0001-2345-6789", true},
		{"0000-0002-1825-009X", true}, // X checksum character
		{"0000-0001-2345-678x", false},
		{"0000-0001-2345-67890", false},
		{"0000000123456789", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestIsConfigured(t *testing.T) {
	if New("", "", testLogger()).IsConfigured() {
		t.Error("IsConfigured() with no credentials should be false")
	}
	if New("id-only", "", testLogger()).IsConfigured() {
		t.Error("IsConfigured() with missing secret should be false")
	}
	if !New("id", "secret", testLogger()).IsConfigured() {
		t.Error("IsConfigured() with both credentials should be true")
	}
}

func TestAuthorizationURL(t *testing.T) {
	c := New("my-client", "secret", testLogger())
	got := c.AuthorizationURL("https://app.example.com/auth/orcid/callback", "opaque-state")

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("AuthorizationURL() produced unparseable URL: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "my-client" {
		t.Errorf("client_id = %q, want %q", q.Get("client_id"), "my-client")
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q, want code", q.Get("response_type"))
	}
	if q.Get("scope") != "/authenticate" {
		t.Errorf("scope = %q, want /authenticate", q.Get("scope"))
	}
	if q.Get("redirect_uri") != "https://app.example.com/auth/orcid/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("state") != "opaque-state" {
		t.Errorf("state = %q, want opaque-state", q.Get("state"))
	}
}

func TestExchangeCode_Success(t *testing.T) {
	f := newFakeProvider(t)
	c := f.client()

	id := c.ExchangeCode(context.Background(), "auth-code", "https://app/cb")
	if id == nil {
		t.Fatal("ExchangeCode() = nil, want identity")
	}
	if id.AccessToken != "tok-123" {
		t.Errorf("AccessToken = %q, want tok-123", id.AccessToken)
	}
	if id.ORCIDID != "0000-0001-2345-6789" {
		t.Errorf("ORCIDID = %q", id.ORCIDID)
	}
	if id.Name != "Nguyen Van A" {
		t.Errorf("Name = %q", id.Name)
	}
}

func TestExchangeCode_Non2xxReturnsNil(t *testing.T) {
	f := newFakeProvider(t)
	f.tokenStatus = http.StatusUnauthorized
	f.tokenResponse = map[string]any{"error": "invalid_client"}

	if id := f.client().ExchangeCode(context.Background(), "code", "https://app/cb"); id != nil {
		t.Errorf("ExchangeCode() on 401 = %+v, want nil", id)
	}
}

func TestExchangeCode_MissingORCIDReturnsNil(t *testing.T) {
	f := newFakeProvider(t)
	delete(f.tokenResponse, "orcid")

	if id := f.client().ExchangeCode(context.Background(), "code", "https://app/cb"); id != nil {
		t.Errorf("ExchangeCode() without orcid field = %+v, want nil", id)
	}
}

func TestExchangeCode_NetworkFailureReturnsNil(t *testing.T) {
	f := newFakeProvider(t)
	c := f.client()
	f.srv.Close() // provider unreachable

	if id := c.ExchangeCode(context.Background(), "code", "https://app/cb"); id != nil {
		t.Errorf("ExchangeCode() with dead provider = %+v, want nil", id)
	}
}

func TestFetchProfile_PrefersPrimaryEmail(t *testing.T) {
	f := newFakeProvider(t)

	p := f.client().FetchProfile(context.Background(), "0000-0001-2345-6789", "tok-123")
	if p == nil {
		t.Fatal("FetchProfile() = nil, want profile")
	}
	if p.Name != "Nguyen Van A" {
		t.Errorf("Name = %q, want %q", p.Name, "Nguyen Van A")
	}
	if p.Email != "a@example.com" {
		t.Errorf("Email = %q, want primary a@example.com", p.Email)
	}
}

func TestFetchProfile_FirstEmailWhenNoPrimary(t *testing.T) {
	f := newFakeProvider(t)
	f.personResponse = `{
		"name": {"given-names": {"value": "B"}, "family-name": {"value": "Tran"}},
		"emails": {"email": [
			{"email": "first@example.com", "primary": false},
			{"email": "second@example.com", "primary": false}
		]}
	}`

	p := f.client().FetchProfile(context.Background(), "0000-0001-2345-6789", "tok")
	if p == nil {
		t.Fatal("FetchProfile() = nil")
	}
	if p.Email != "first@example.com" {
		t.Errorf("Email = %q, want first@example.com", p.Email)
	}
}

func TestFetchProfile_Non2xxReturnsNil(t *testing.T) {
	f := newFakeProvider(t)
	f.personStatus = http.StatusNotFound

	if p := f.client().FetchProfile(context.Background(), "0000-0001-2345-6789", "tok"); p != nil {
		t.Errorf("FetchProfile() on 404 = %+v, want nil", p)
	}
}

func TestStateRoundTrip(t *testing.T) {
	in := State{Next: "/analyze", CSRF: "nonce-1"}
	out, err := DecodeState(EncodeState(in))
	if err != nil {
		t.Fatalf("DecodeState() error = %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestDecodeState_AcceptsRawURLBase64(t *testing.T) {
	// A state produced by a different encoder variant must still decode.
	raw := `{"next":"/analyze"}`
	encoded := rawURLEncode(raw)

	s, err := DecodeState(encoded)
	if err != nil {
		t.Fatalf("DecodeState() error = %v", err)
	}
	if s.Next != "/analyze" || s.CSRF != "" {
		t.Errorf("DecodeState() = %+v", s)
	}
}

func TestDecodeState_Garbage(t *testing.T) {
	if _, err := DecodeState("!!!definitely not base64!!!"); err == nil {
		t.Error("DecodeState() should fail on garbage input")
	}
}
