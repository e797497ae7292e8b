package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ncsstat/ncsstat/internal/authbackend"
	"github.com/ncsstat/ncsstat/internal/callback"
)

const (
	// sessionCookieTTL bounds the managed JWT cookie. The backend session
	// outlives it; /api/refresh-session reissues the cookie as needed.
	sessionCookieTTL = time.Hour

	// refreshCookieName holds the backend refresh token so the browser can
	// extend its session and revoke it on logout.
	refreshCookieName = "refresh_token"
	refreshCookieTTL  = 7 * 24 * time.Hour
)

// CallbackHandler terminates the managed-auth OAuth flow. The heavy lifting
// (idempotency, timeout, recovery) lives in the callback state machine; this
// handler only translates HTTP in and out.
type CallbackHandler struct {
	machine *callback.Machine
	tokens  *authbackend.TokenService
	secure  bool
	logger  *slog.Logger
}

func NewCallbackHandler(machine *callback.Machine, tokens *authbackend.TokenService, secure bool, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		machine: machine,
		tokens:  tokens,
		secure:  secure,
		logger:  logger,
	}
}

// HandleCallback runs the state machine for one provider redirect.
//
// HTTP: GET /auth/callback?code&state&error&error_description
//
// Whether this browser is already signed in is read from ITS OWN token
// cookie — never from shared state, since the process serves many browsers at
// once. On a success that performed an exchange, the resulting session is
// materialized as the signed "token" cookie (plus the refresh-token cookie)
// before redirecting, so every subsequent request resolves the user without
// another backend round-trip.
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	result := h.machine.Handle(r.Context(), callback.Params{
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		Next:             q.Get("next"),
		HasSession:       h.callerHasSession(r),
	})

	if result.State == callback.StateSuccess && result.Session != nil {
		h.setSessionCookies(w, result.Session)
	}

	http.Redirect(w, r, result.RedirectTo, http.StatusSeeOther)
}

// callerHasSession reports whether the request carries a valid token cookie.
func (h *CallbackHandler) callerHasSession(r *http.Request) bool {
	c, err := r.Cookie("token")
	if err != nil || c.Value == "" {
		return false
	}
	_, err = h.tokens.Verify(c.Value)
	return err == nil
}

func (h *CallbackHandler) setSessionCookies(w http.ResponseWriter, session *authbackend.Session) {
	setManagedSessionCookies(w, h.tokens, session, h.secure, h.logger)
}

// setManagedSessionCookies materializes a backend session on the responding
// browser: the signed JWT in "token" and, when present, the backend refresh
// token for later /api/refresh-session and logout calls.
func setManagedSessionCookies(w http.ResponseWriter, tokens *authbackend.TokenService, session *authbackend.Session, secure bool, logger *slog.Logger) {
	jwt, err := tokens.Issue(session.User, sessionCookieTTL)
	if err != nil {
		logger.Error("issuing session cookie failed", slog.String("error", err.Error()))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    jwt,
		Path:     "/",
		MaxAge:   int(sessionCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})

	if session.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     refreshCookieName,
			Value:    session.RefreshToken,
			Path:     "/",
			MaxAge:   int(refreshCookieTTL.Seconds()),
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
