package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ncsstat/ncsstat/internal/authbackend"
	"github.com/ncsstat/ncsstat/internal/model"
	"github.com/ncsstat/ncsstat/internal/service"
)

// Reconciler maintains one browser context's answer to "who is signed in".
// The server process serves many browsers, so a Reconciler is scoped to a
// single client's credentials — never shared across callers.
//
// It is initialized exactly once per application load with that client's
// resolved managed-auth session; only if that is empty does the ORCID
// pseudo-session cookie get considered. After initialization the backend's
// auth-change events are the sole source of subsequent transitions.
//
// CurrentUser / CurrentProfile / IsLoading are safe for concurrent readers.
type Reconciler struct {
	backend    authbackend.Client
	profiles   *service.ProfileService
	clearORCID func()
	logger     *slog.Logger

	initOnce sync.Once

	mu          sync.RWMutex
	user        *authbackend.User
	profile     *model.Profile
	loading     bool
	recorded    map[string]bool // user ids whose login was already recorded this load
	unsubscribe func()
}

func NewReconciler(backend authbackend.Client, profiles *service.ProfileService, clearORCID func(), logger *slog.Logger) *Reconciler {
	if clearORCID == nil {
		clearORCID = func() {}
	}
	return &Reconciler{
		backend:    backend,
		profiles:   profiles,
		clearORCID: clearORCID,
		logger:     logger,
		loading:    true,
		recorded:   make(map[string]bool),
	}
}

// Init resolves the initial session. managed is this client's verified
// backend session (nil when absent); orcidUserID is the already-validated
// value of the orcid_user cookie, or "" when absent. Subsequent calls are
// no-ops; the first caller wins.
func (rc *Reconciler) Init(ctx context.Context, managed *authbackend.Session, orcidUserID string) {
	rc.initOnce.Do(func() {
		defer func() {
			rc.mu.Lock()
			rc.loading = false
			rc.mu.Unlock()
		}()

		// Managed-auth session takes priority over the ORCID cookie.
		sess := managed
		switch {
		case sess != nil && sess.Valid():
			rc.adoptUser(ctx, sess.User)

		case orcidUserID != "":
			p, err := rc.profiles.GetByID(ctx, orcidUserID)
			if err != nil {
				rc.logger.Warn("reconciler: orcid cookie names unknown profile",
					slog.String("profileID", orcidUserID),
				)
				break
			}
			// No managed-auth user exists; synthesize one from the profile.
			rc.mu.Lock()
			rc.user = &authbackend.User{ID: p.ID, Email: p.Email, Provider: "orcid"}
			rc.profile = p
			rc.mu.Unlock()
		}

		rc.mu.Lock()
		rc.unsubscribe = rc.backend.OnAuthChange(rc.handleEvent)
		rc.mu.Unlock()
	})
}

// Teardown detaches the auth-change subscription. After Teardown the last
// observed state remains readable but no longer updates.
func (rc *Reconciler) Teardown() {
	rc.mu.Lock()
	unsub := rc.unsubscribe
	rc.unsubscribe = nil
	rc.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// CurrentUser returns the tracked user, if any.
func (rc *Reconciler) CurrentUser() (authbackend.User, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.user == nil {
		return authbackend.User{}, false
	}
	return *rc.user, true
}

// CurrentProfile returns the tracked profile row, if loaded.
func (rc *Reconciler) CurrentProfile() (*model.Profile, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.profile == nil {
		return nil, false
	}
	return rc.profile, true
}

// IsLoading reports whether the initial resolution has completed.
func (rc *Reconciler) IsLoading() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.loading
}

// handleEvent reacts to backend auth-change notifications.
func (rc *Reconciler) handleEvent(ev authbackend.Event) {
	switch ev.Type {
	case authbackend.EventSignedIn, authbackend.EventTokenRefreshed:
		if ev.Session == nil || !ev.Session.Valid() {
			return
		}
		rc.mu.RLock()
		same := rc.user != nil && rc.user.ID == ev.Session.User.ID
		rc.mu.RUnlock()
		if same {
			return
		}
		// A different user signed in (provider switch without reload).
		rc.adoptUser(context.Background(), ev.Session.User)

	case authbackend.EventSignedOut:
		rc.mu.Lock()
		rc.user = nil
		rc.profile = nil
		rc.mu.Unlock()
		// The ORCID cookie must not survive a managed sign-out, or the
		// user would silently fall back to the weaker session.
		rc.clearORCID()
	}
}

// adoptUser makes u the tracked user, loads their profile, and records the
// login at most once per distinct user id per application load.
func (rc *Reconciler) adoptUser(ctx context.Context, u authbackend.User) {
	rc.mu.Lock()
	user := u
	rc.user = &user
	first := !rc.recorded[u.ID]
	rc.recorded[u.ID] = true
	rc.mu.Unlock()

	if p, err := rc.profiles.GetByID(ctx, u.ID); err == nil {
		rc.mu.Lock()
		rc.profile = p
		rc.mu.Unlock()
	}

	if first {
		go func() {
			loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := rc.profiles.RecordLogin(loginCtx, u.ID); err != nil {
				rc.logger.Warn("reconciler: recording login failed",
					slog.String("userID", u.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}
