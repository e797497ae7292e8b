package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncsstat/ncsstat/internal/authbackend"
	"github.com/ncsstat/ncsstat/internal/cookie"
	"github.com/ncsstat/ncsstat/internal/ledger"
	"github.com/ncsstat/ncsstat/internal/model"
	"github.com/ncsstat/ncsstat/internal/repository/sqlite"
	"github.com/ncsstat/ncsstat/internal/service"
	"github.com/ncsstat/ncsstat/internal/session"
)

type profileFixture struct {
	handler  *ProfileHandler
	resolver *session.Resolver
	tokens   *authbackend.TokenService
	db       *sqlite.DB
}

func newProfileFixture(t *testing.T) *profileFixture {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	led := ledger.New(db, db, logger)
	rewards := service.NewRewardService(led, db, 20000, 10000, logger)
	profiles := service.NewProfileService(db, db, db, rewards, "lab-access", logger)

	tokens, err := authbackend.NewTokenService("profile-handler-test-secret")
	require.NoError(t, err)

	return &profileFixture{
		handler:  NewProfileHandler(profiles, rewards, false, logger),
		resolver: session.NewResolver(tokens, db),
		tokens:   tokens,
		db:       db,
	}
}

func (f *profileFixture) postBootstrap(t *testing.T, body string) (*httptest.ResponseRecorder, bootstrapResponse) {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/orcid-profile", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.HandleBootstrap(w, r)

	var resp bootstrapResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	}
	return w, resp
}

const bootstrapBody = `{"orcid":"0000-0001-2345-6789","name":"Nguyen Van A","email":"a@example.com"}`

// =========================================================================
// BOOTSTRAP ENDPOINT
// =========================================================================

func TestBootstrapEndpoint_CreatesProfile(t *testing.T) {
	f := newProfileFixture(t)

	w, resp := f.postBootstrap(t, bootstrapBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.False(t, resp.IsExisting)
	assert.NotEmpty(t, resp.ProfileID)
	require.NotNil(t, resp.Profile)
	assert.Equal(t, int64(service.DefaultTokenBalance), resp.Profile.Tokens)

	// The endpoint also logs the caller in.
	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == cookie.ORCIDUserName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.Equal(t, resp.ProfileID, sessionCookie.Value)
}

func TestBootstrapEndpoint_SecondCallIsExisting(t *testing.T) {
	f := newProfileFixture(t)

	_, first := f.postBootstrap(t, bootstrapBody)
	w, second := f.postBootstrap(t, bootstrapBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, second.IsExisting)
	assert.Equal(t, first.ProfileID, second.ProfileID)
}

func TestBootstrapEndpoint_Validation(t *testing.T) {
	f := newProfileFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing orcid", `{"email":"a@example.com"}`},
		{"missing email", `{"orcid":"0000-0001-2345-6789"}`},
		{"bad email", `{"orcid":"0000-0001-2345-6789","email":"nope"}`},
		{"bad orcid format", `{"orcid":"123","email":"a@example.com"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := f.postBootstrap(t, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var errResp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
			assert.Equal(t, "validation_error", errResp.Error)
		})
	}
}

// =========================================================================
// AUTHENTICATED ENDPOINTS (unlock, feedback)
// =========================================================================

// authedRequest builds a request carrying a valid managed session cookie for
// the given user and routes it through RequireUser, like the real router.
func (f *profileFixture) authedRequest(t *testing.T, h http.HandlerFunc, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	jwt, err := f.tokens.Issue(authbackend.User{ID: userID, Email: "u@example.com"}, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.AddCookie(&http.Cookie{Name: "token", Value: jwt})
	w := httptest.NewRecorder()
	session.RequireUser(f.resolver)(h).ServeHTTP(w, r)
	return w
}

func TestUnlockResearcherEndpoint(t *testing.T) {
	f := newProfileFixture(t)
	p := &model.Profile{Email: "r@example.com"}
	require.NoError(t, f.db.Create(context.Background(), p))

	w := f.authedRequest(t, f.handler.HandleUnlockResearcher,
		http.MethodPost, "/api/unlock-researcher", `{"code":"lab-access"}`, p.ID)
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := f.db.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleResearcher, got.Role)
}

func TestUnlockResearcherEndpoint_WrongCode(t *testing.T) {
	f := newProfileFixture(t)
	p := &model.Profile{Email: "r@example.com"}
	require.NoError(t, f.db.Create(context.Background(), p))

	w := f.authedRequest(t, f.handler.HandleUnlockResearcher,
		http.MethodPost, "/api/unlock-researcher", `{"code":"wrong"}`, p.ID)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUnlockResearcherEndpoint_Anonymous(t *testing.T) {
	f := newProfileFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/api/unlock-researcher", strings.NewReader(`{"code":"lab-access"}`))
	w := httptest.NewRecorder()
	session.RequireUser(f.resolver)(http.HandlerFunc(f.handler.HandleUnlockResearcher)).ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFeedbackRewardEndpoint(t *testing.T) {
	f := newProfileFixture(t)
	p := &model.Profile{Email: "fb@example.com", Tokens: 100}
	require.NoError(t, f.db.Create(context.Background(), p))

	w := f.authedRequest(t, f.handler.HandleFeedbackReward,
		http.MethodPost, "/api/feedback-reward", "", p.ID)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success    bool  `json:"success"`
		NewBalance int64 `json:"newBalance"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(10100), resp.NewBalance)
}
