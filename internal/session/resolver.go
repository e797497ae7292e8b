// Package session decides who the current user is.
//
// Two session kinds can exist at once and they are NOT equal:
//
//   - Managed-auth session: a signed JWT in the "token" cookie, issued after
//     the managed OAuth flow. Strong: verified cryptographically per request.
//   - ORCID pseudo-session: the "orcid_user" cookie holding a raw profile
//     UUID. Weak by design; validated only by shape and by a profile lookup.
//
// When both are present, managed-auth wins. The Resolver applies that rule
// per request; the Reconciler applies it to the process-wide shared state.
package session

import (
	"context"
	"net/http"

	"github.com/ncsstat/ncsstat/internal/authbackend"
	"github.com/ncsstat/ncsstat/internal/cookie"
	"github.com/ncsstat/ncsstat/internal/model"
	"github.com/ncsstat/ncsstat/internal/repository"
)

// contextKey is package-private so no other package can read or shadow the
// identity stored in a request context.
type contextKey string

const identityKey contextKey = "identity"

// Source records which credential resolved the user.
type Source string

const (
	SourceManaged Source = "managed"
	SourceORCID   Source = "orcid"
)

// Identity is the resolved per-request user.
type Identity struct {
	UserID string
	Email  string
	Source Source
}

// Resolver turns request cookies into an Identity.
type Resolver struct {
	tokens   *authbackend.TokenService
	profiles repository.ProfileRepository
}

func NewResolver(tokens *authbackend.TokenService, profiles repository.ProfileRepository) *Resolver {
	return &Resolver{tokens: tokens, profiles: profiles}
}

// Resolve inspects the request's cookies in priority order. The managed JWT
// is tried first; only when it is absent or invalid does the ORCID cookie
// get a look. A dangling ORCID cookie (UUID shape but no profile row) is
// cleared and treated as anonymous.
func (res *Resolver) Resolve(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	if c, err := r.Cookie("token"); err == nil {
		if user, err := res.tokens.Verify(c.Value); err == nil {
			return Identity{UserID: user.ID, Email: user.Email, Source: SourceManaged}, true
		}
	}

	id, ok := cookie.GetORCIDUser(w, r)
	if !ok {
		return Identity{}, false
	}
	p, err := res.profiles.GetByID(r.Context(), id)
	if err != nil {
		cookie.ClearORCIDUser(w)
		return Identity{}, false
	}
	return Identity{UserID: p.ID, Email: p.Email, Source: SourceORCID}, true
}

// Profile loads the full profile row behind an Identity.
func (res *Resolver) Profile(ctx context.Context, ident Identity) (*model.Profile, error) {
	return res.profiles.GetByID(ctx, ident.UserID)
}

// RequireUser blocks anonymous requests with a 401. The resolved Identity
// lands in the request context for handlers to read via FromContext.
func RequireUser(res *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := res.Resolve(w, r)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"unauthorized","message":"valid session required"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalUser resolves the Identity when one exists but never blocks.
func OptionalUser(res *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ident, ok := res.Resolve(w, r); ok {
				r = r.WithContext(context.WithValue(r.Context(), identityKey, ident))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FromContext retrieves the Identity placed by RequireUser/OptionalUser.
// The second return is false for anonymous requests.
func FromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey).(Identity)
	return ident, ok && ident.UserID != ""
}
