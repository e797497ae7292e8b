package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ncsstat/ncsstat/internal/authbackend"
	"github.com/ncsstat/ncsstat/internal/cookie"
	"github.com/ncsstat/ncsstat/internal/session"
)

// SessionHandler answers "am I signed in" questions and handles logout. Every
// answer is derived from the asking request's own cookies; the handler holds
// no notion of a current user.
type SessionHandler struct {
	backend  authbackend.Client
	tokens   *authbackend.TokenService
	resolver *session.Resolver
	secure   bool
	logger   *slog.Logger
}

func NewSessionHandler(backend authbackend.Client, tokens *authbackend.TokenService, resolver *session.Resolver, secure bool, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		backend:  backend,
		tokens:   tokens,
		resolver: resolver,
		secure:   secure,
		logger:   logger,
	}
}

type sessionInfo struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type refreshResponse struct {
	HasSession bool         `json:"hasSession"`
	Session    *sessionInfo `json:"session,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// HandleRefreshSession reports the caller's managed-auth session state; the
// POST variant additionally redeems the caller's refresh-token cookie against
// the backend and reissues both cookies from the result.
//
// HTTP: GET|POST /api/refresh-session
//
// Failures answer 200 with hasSession:false — the caller is a session probe,
// not an action, and must be able to distinguish "no session" from "broken
// endpoint" by the error field alone.
func (h *SessionHandler) HandleRefreshSession(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		rt, err := r.Cookie(refreshCookieName)
		if err != nil || rt.Value == "" {
			writeJSON(w, http.StatusOK, refreshResponse{HasSession: false, Error: "no_session_to_refresh"})
			return
		}

		sess, err := h.backend.RefreshSession(r.Context(), rt.Value)
		if err != nil {
			h.logger.Warn("session refresh failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusOK, refreshResponse{HasSession: false, Error: "session_unavailable"})
			return
		}

		setManagedSessionCookies(w, h.tokens, sess, h.secure, h.logger)
		writeSessionInfo(w, sess)
		return
	}

	// GET: report what the caller's own token cookie says. An absent,
	// expired, or garbled cookie is an ordinary "not signed in".
	c, err := r.Cookie("token")
	if err != nil || c.Value == "" {
		writeJSON(w, http.StatusOK, refreshResponse{HasSession: false})
		return
	}
	sess, err := h.tokens.VerifySession(c.Value)
	if err != nil {
		writeJSON(w, http.StatusOK, refreshResponse{HasSession: false})
		return
	}
	writeSessionInfo(w, sess)
}

func writeSessionInfo(w http.ResponseWriter, sess *authbackend.Session) {
	writeJSON(w, http.StatusOK, refreshResponse{
		HasSession: true,
		Session: &sessionInfo{
			UserID:    sess.User.ID,
			Email:     sess.User.Email,
			ExpiresAt: sess.ExpiresAt,
		},
	})
}

// HandleMe returns the resolved current user plus their profile row.
//
// HTTP: GET /api/me (auth required)
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ident, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	profile, err := h.resolver.Profile(r.Context(), ident)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":  ident.UserID,
		"email":   ident.Email,
		"source":  ident.Source,
		"profile": profile,
	})
}

// HandleLogout revokes the caller's backend session (best effort, using the
// caller's own refresh-token cookie) and clears every session cookie this
// subsystem owns: the managed token, the refresh token, the ORCID
// pseudo-session, and any pending ORCID identity.
//
// HTTP: POST /auth/logout
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if rt, err := r.Cookie(refreshCookieName); err == nil && rt.Value != "" {
		if err := h.backend.SignOut(r.Context(), rt.Value); err != nil {
			// Local cookies still get cleared; the backend session ages out.
			h.logger.Warn("backend sign-out failed", slog.String("error", err.Error()))
		}
	}

	for _, name := range []string{"token", refreshCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	cookie.ClearORCIDUser(w)
	cookie.ClearPending(w)

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
