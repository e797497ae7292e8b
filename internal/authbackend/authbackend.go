// Package authbackend wraps the managed-auth backend — the third-party
// identity and session-store service this app delegates email/OAuth/magic-link
// login to.
//
// The backend is treated as an opaque capability with three operations plus a
// change feed:
//
//	ExchangeCodeForSession   — redeem an OAuth authorization code for a session
//	RefreshSession           — extend a session, given its refresh token
//	SignOut                  — revoke a session, given its refresh token
//	OnAuthChange             — subscribe to sign-in/sign-out transitions
//
// The client holds NO session state. One server process serves many browsers,
// so "the current session" is a per-caller notion: every operation takes the
// caller's own credential, and the caller's session lives in the caller's
// cookies. Everything above the interface (the session reconciler, the
// callback state machine, the HTTP handlers) depends only on Client, never on
// the concrete HTTP implementation — tests substitute a hand-written fake.
package authbackend

import (
	"context"
	"time"
)

// User is the identity the backend attaches to a session. Its ID is the same
// UUID used as the Profile primary key for managed-auth users.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Provider string `json:"provider,omitempty"`
}

// Session is an authenticated backend session. The access token is an opaque
// bearer credential from this package's point of view; cookie persistence is
// the backend SDK's concern.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         User      `json:"user"`
}

// Valid reports whether the session exists and has not expired.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && time.Now().Before(s.ExpiresAt)
}

// EventType classifies an auth-change notification.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event is one auth-change notification. Session is nil for EventSignedOut.
type Event struct {
	Type    EventType
	Session *Session
}

// Client is the opaque managed-auth capability. All operations are stateless:
// the caller supplies the credential each time.
//
// OnAuthChange returns an unsubscribe function; callers must invoke it on
// teardown or the subscription leaks.
type Client interface {
	ExchangeCodeForSession(ctx context.Context, code string) (*Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, refreshToken string) error
	OnAuthChange(fn func(Event)) (unsubscribe func())
}
