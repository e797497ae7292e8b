package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rs/xid"

	"github.com/ncsstat/ncsstat/internal/apperror"
	"github.com/ncsstat/ncsstat/internal/cookie"
	"github.com/ncsstat/ncsstat/internal/orcid"
	"github.com/ncsstat/ncsstat/internal/service"
)

const (
	orcidCallbackPath   = "/auth/orcid/callback"
	completeProfilePath = "/auth/orcid/complete-profile"
	defaultNextPath     = "/analyze"
)

// ORCIDHandler owns the hand-rolled ORCID OAuth flow:
//
//   - HandleLogin    → redirect the browser to ORCID's authorization page
//   - HandleCallback → receive the code, exchange it, resolve a profile,
//     issue the orcid_user pseudo-session cookie
//
// Unlike the managed flow, failures here are always redirects back to the
// login page with a short machine-readable reason in the query string.
type ORCIDHandler struct {
	client   *orcid.Client
	profiles *service.ProfileService
	siteURL  string
	secure   bool // Secure cookie attribute, true in production
	logger   *slog.Logger
}

func NewORCIDHandler(client *orcid.Client, profiles *service.ProfileService, siteURL string, secure bool, logger *slog.Logger) *ORCIDHandler {
	return &ORCIDHandler{
		client:   client,
		profiles: profiles,
		siteURL:  siteURL,
		secure:   secure,
		logger:   logger,
	}
}

// HandleLogin redirects the user to ORCID's authorization page.
//
// HTTP: GET /auth/orcid/login?next=/analyze
//
// The state blob carries both a CSRF nonce and the post-login destination.
func (h *ORCIDHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.client.IsConfigured() {
		h.logger.Error("orcid login requested but client credentials are not configured")
		http.Redirect(w, r, loginRedirect("orcid_not_configured"), http.StatusSeeOther)
		return
	}

	next := r.URL.Query().Get("next")
	if next == "" {
		next = defaultNextPath
	}

	state := orcid.EncodeState(orcid.State{
		Next: next,
		CSRF: xid.New().String(),
	})

	http.Redirect(w, r, h.client.AuthorizationURL(h.redirectURI(), state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the ORCID OAuth flow.
//
// HTTP: GET /auth/orcid/callback?code&state&error&error_description
//
// Steps run strictly in order; every failure exit is a redirect to the login
// page with a specific error code:
//
//  1. error param present        → login?error=<provider error>
//  2. code missing               → login?error=no_orcid_code
//  3. state parses but no csrf   → login?error=invalid_request_state
//  4. code exchange fails        → login?error=orcid_token_exchange_failed
//  5. profile fetch fails        → login?error=orcid_profile_failed
//  6. profile lookup fails       → login?error=orcid_lookup_failed
//     known orcid_id             → set orcid_user cookie, redirect to next
//     unknown orcid_id           → set orcid_pending cookie, redirect to the
//     profile-completion page
func (h *ORCIDHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// === Step 1: provider reported an error ===
	if errParam := q.Get("error"); errParam != "" {
		h.logger.Warn("orcid callback: provider error",
			slog.String("error", errParam),
			slog.String("description", q.Get("error_description")),
		)
		http.Redirect(w, r, loginRedirect(errParam), http.StatusSeeOther)
		return
	}

	// === Step 2: authorization code is required ===
	code := q.Get("code")
	if code == "" {
		http.Redirect(w, r, loginRedirect("no_orcid_code"), http.StatusSeeOther)
		return
	}

	// === Step 3: state — next path is a nicety, the csrf field is not ===
	// A state that fails to parse only costs the user their destination; a
	// state that parses without a csrf nonce did not come from our login
	// redirect and stops the flow before any token is exchanged.
	next := defaultNextPath
	if state, err := orcid.DecodeState(q.Get("state")); err == nil {
		if state.CSRF == "" {
			h.logger.Warn("orcid callback: state missing csrf nonce")
			http.Redirect(w, r, loginRedirect("invalid_request_state"), http.StatusSeeOther)
			return
		}
		if state.Next != "" {
			next = state.Next
		}
	} else {
		h.logger.Warn("orcid callback: unparseable state, using default next path",
			slog.String("error", err.Error()),
		)
	}

	// === Step 4: exchange the code ===
	identity := h.client.ExchangeCode(r.Context(), code, h.redirectURI())
	if identity == nil {
		http.Redirect(w, r, loginRedirect("orcid_token_exchange_failed"), http.StatusSeeOther)
		return
	}

	// === Step 5: fetch the public profile ===
	profile := h.client.FetchProfile(r.Context(), identity.ORCIDID, identity.AccessToken)
	if profile == nil {
		http.Redirect(w, r, loginRedirect("orcid_profile_failed"), http.StatusSeeOther)
		return
	}

	// === Step 6: resolve a local profile ===
	// Only a definitive not-found routes to the new-user path; a lookup
	// failure must not re-register a returning user.
	existing, err := h.profiles.GetByORCID(r.Context(), identity.ORCIDID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		h.logger.Error("orcid callback: profile lookup failed",
			slog.String("orcid", identity.ORCIDID),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, loginRedirect("orcid_lookup_failed"), http.StatusSeeOther)
		return
	}
	if err == nil {
		// Returning ORCID user: refresh activity, issue the pseudo-session.
		if err := h.profiles.RecordLogin(r.Context(), existing.ID); err != nil {
			h.logger.Warn("orcid callback: recording login failed",
				slog.String("profileID", existing.ID),
				slog.String("error", err.Error()),
			)
		}
		cookie.SetORCIDUser(w, existing.ID, h.secure)

		h.logger.Info("orcid user logged in",
			slog.String("profileID", existing.ID),
			slog.String("orcid", identity.ORCIDID),
		)
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}

	// New ORCID user: no permanent profile yet. Park the identity in the
	// short-lived pending cookie and send them to the completion form.
	if err := cookie.SetPending(w, cookie.Pending{
		ORCID: identity.ORCIDID,
		Name:  profile.Name,
		Email: profile.Email,
	}, h.secure); err != nil {
		h.logger.Error("orcid callback: setting pending cookie failed", slog.String("error", err.Error()))
		http.Redirect(w, r, loginRedirect("orcid_pending_failed"), http.StatusSeeOther)
		return
	}

	dest := completeProfilePath + "?" + url.Values{
		"orcid": {identity.ORCIDID},
		"name":  {profile.Name},
	}.Encode()
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

func (h *ORCIDHandler) redirectURI() string {
	return h.siteURL + orcidCallbackPath
}

func loginRedirect(reason string) string {
	return "/login?error=" + url.QueryEscape(reason)
}
