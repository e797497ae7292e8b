// Package cookie is the low-level store for the session cookies this app owns.
//
// Two cookies matter here:
//
//	orcid_user    — the ORCID pseudo-session: a raw profile UUID, 7 days.
//	orcid_pending — transient JSON {orcid, name, email} captured between
//	                "ORCID identity confirmed" and "profile completed", 10 min.
//
// Both are HttpOnly, SameSite=Lax, and Secure in production. The pseudo-session
// carries no token and no signature beyond UUID-shape validation; that trust
// boundary is deliberately weaker than the managed-auth session and is treated
// as such by every consumer (managed-auth always wins when both are present).
package cookie

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// ORCIDUserName holds a raw profile UUID for ORCID-only users.
	ORCIDUserName = "orcid_user"
	// ORCIDPendingName holds the not-yet-completed ORCID registration.
	ORCIDPendingName = "orcid_pending"

	orcidUserMaxAge    = int(7 * 24 * time.Hour / time.Second)
	orcidPendingMaxAge = int(10 * time.Minute / time.Second)
)

// Get returns the named cookie's value, or "" and false when the cookie is
// missing or the header is malformed. It never returns an error: a bad cookie
// header reads the same as no cookie at all.
func Get(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Set writes a cookie with the attributes shared by everything in this app:
// HttpOnly, SameSite=Lax, path "/". secure should be true in production.
func Set(w http.ResponseWriter, name, value string, maxAge int, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Delete tells the browser to drop the named cookie immediately.
func Delete(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// GetORCIDUser returns the profile UUID from the ORCID pseudo-session cookie.
//
// DEFENSIVE CLEANUP:
// The cookie value must parse as a UUID. Anything else (corruption, tampering,
// a stale value from an older release) is self-healed: the cookie is deleted
// and the caller sees "", false — the request simply reads as unauthenticated,
// and no parse error ever propagates.
func GetORCIDUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	value, ok := Get(r, ORCIDUserName)
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(value); err != nil {
		Delete(w, ORCIDUserName)
		return "", false
	}
	return value, true
}

// SetORCIDUser establishes the ORCID pseudo-session for the given profile id.
func SetORCIDUser(w http.ResponseWriter, profileID string, secure bool) {
	Set(w, ORCIDUserName, profileID, orcidUserMaxAge, secure)
}

// ClearORCIDUser ends the ORCID pseudo-session.
func ClearORCIDUser(w http.ResponseWriter) {
	Delete(w, ORCIDUserName)
}

// Pending is the transient ORCID registration state: identity confirmed by the
// provider, profile row not yet created. It pre-fills the completion form.
type Pending struct {
	ORCID string `json:"orcid"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// SetPending stores the pending registration as base64(JSON) for 10 minutes.
// Base64 keeps the value inside the cookie-safe character set.
func SetPending(w http.ResponseWriter, p Pending, secure bool) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	Set(w, ORCIDPendingName, encoded, orcidPendingMaxAge, secure)
	return nil
}

// GetPending decodes the pending registration cookie. A missing or
// undecodable cookie returns nil, false — same self-healing stance as
// GetORCIDUser, except there is nothing worth deleting since the cookie
// expires on its own within minutes.
func GetPending(r *http.Request) (*Pending, bool) {
	value, ok := Get(r, ORCIDPendingName)
	if !ok {
		return nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, false
	}
	var p Pending
	if err := json.Unmarshal(raw, &p); err != nil || p.ORCID == "" {
		return nil, false
	}
	return &p, true
}

// ClearPending drops the pending registration cookie.
func ClearPending(w http.ResponseWriter) {
	Delete(w, ORCIDPendingName)
}
