// Package service — business logic between the HTTP handlers and the
// repositories.
//
//	handlers (HTTP) → ProfileService / RewardService → repositories (DB)
//	                                  ↘ ledger (token movements)
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ncsstat/ncsstat/internal/apperror"
	"github.com/ncsstat/ncsstat/internal/model"
	"github.com/ncsstat/ncsstat/internal/orcid"
	"github.com/ncsstat/ncsstat/internal/repository"
)

// DefaultTokenBalance is the compiled-in fallback starting balance, used when
// the system_config store has no default_token_balance row (or is unreadable).
const DefaultTokenBalance = 100000

const keyDefaultTokenBalance = "default_token_balance"

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ProfileService owns profile lifecycle: the idempotent ORCID bootstrap,
// login recording, and the researcher unlock.
type ProfileService struct {
	profiles  repository.ProfileRepository
	sysconfig repository.SystemConfigRepository
	audit     repository.AuditRepository
	rewards   *RewardService
	unlock    string // researcher unlock code from config; empty disables the flow
	logger    *slog.Logger
}

func NewProfileService(
	profiles repository.ProfileRepository,
	sysconfig repository.SystemConfigRepository,
	audit repository.AuditRepository,
	rewards *RewardService,
	unlockCode string,
	logger *slog.Logger,
) *ProfileService {
	return &ProfileService{
		profiles:  profiles,
		sysconfig: sysconfig,
		audit:     audit,
		rewards:   rewards,
		unlock:    unlockCode,
		logger:    logger,
	}
}

// BootstrapInput is the payload of the profile-completion step: the ORCID
// identity plus the email the user supplied. ReferralCode is optional.
type BootstrapInput struct {
	ORCID        string
	Name         string
	Email        string
	ReferralCode string
}

// BootstrapResult reports what the bootstrap did.
type BootstrapResult struct {
	Profile    *model.Profile
	IsExisting bool
	Message    string
}

// BootstrapORCIDProfile creates-or-updates the profile for an ORCID identity.
//
// IDEMPOTENT BY CONSTRUCTION — safe to call any number of times with the same
// input, and lookups run in a fixed priority order:
//
//  1. By email. A profile already registered under this email (typically a
//     managed-auth account) absorbs the ORCID iD: update, never duplicate.
//  2. By ORCID iD. The identity is already known; just bump last_active.
//  3. Neither matched: create a fresh profile with the configured starting
//     balance and record a user_registered audit event.
//
// Email outranks ORCID so that a researcher who first signed up with email
// and later links ORCID keeps one profile, one balance, one history.
func (s *ProfileService) BootstrapORCIDProfile(ctx context.Context, in BootstrapInput) (*BootstrapResult, error) {
	if err := validateBootstrapInput(in); err != nil {
		return nil, err
	}

	// --- Step 1: lookup by email (takes priority) ---
	byEmail, err := s.profiles.GetByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/profile: looking up email %s: %w", in.Email, err)
	}
	if byEmail != nil {
		if err := s.profiles.AttachORCID(ctx, byEmail.ID, in.ORCID, in.Name); err != nil {
			return nil, fmt.Errorf("service/profile: attaching ORCID to %s: %w", byEmail.ID, err)
		}
		updated, err := s.profiles.GetByID(ctx, byEmail.ID)
		if err != nil {
			return nil, fmt.Errorf("service/profile: re-reading profile %s: %w", byEmail.ID, err)
		}

		s.logger.Info("ORCID attached to existing profile",
			slog.String("profileID", updated.ID),
			slog.String("orcid", in.ORCID),
		)
		return &BootstrapResult{
			Profile:    updated,
			IsExisting: true,
			Message:    "ORCID linked to existing account",
		}, nil
	}

	// --- Step 2: lookup by ORCID iD ---
	byORCID, err := s.profiles.GetByORCID(ctx, in.ORCID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/profile: looking up ORCID %s: %w", in.ORCID, err)
	}
	if byORCID != nil {
		if err := s.profiles.TouchLastActive(ctx, byORCID.ID); err != nil {
			return nil, fmt.Errorf("service/profile: touching profile %s: %w", byORCID.ID, err)
		}

		return &BootstrapResult{
			Profile:    byORCID,
			IsExisting: true,
			Message:    "ORCID account already registered",
		}, nil
	}

	// --- Step 3: create a new profile ---
	p := &model.Profile{
		Email:    in.Email,
		ORCIDID:  in.ORCID,
		FullName: in.Name,
		Provider: "orcid",
		Tokens:   s.startingBalance(ctx),
	}

	var referrer *model.Profile
	if in.ReferralCode != "" {
		referrer, err = s.profiles.GetByReferralCode(ctx, in.ReferralCode)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/profile: looking up referral code: %w", err)
		}
		if referrer != nil {
			p.ReferredBy = in.ReferralCode
		}
	}

	if err := s.profiles.Create(ctx, p); err != nil {
		// Two concurrent first-time bootstraps can both pass the lookups;
		// the loser trips the unique index on orcid_id. Re-resolve so the
		// loser converges on the winner's row like a sequential retry would.
		if winner, lookupErr := s.profiles.GetByORCID(ctx, in.ORCID); lookupErr == nil {
			if touchErr := s.profiles.TouchLastActive(ctx, winner.ID); touchErr != nil {
				s.logger.Warn("touching profile after create race failed",
					slog.String("profileID", winner.ID),
					slog.String("error", touchErr.Error()),
				)
			}
			return &BootstrapResult{
				Profile:    winner,
				IsExisting: true,
				Message:    "ORCID account already registered",
			}, nil
		}
		return nil, fmt.Errorf("service/profile: creating profile (orcid=%s): %w", in.ORCID, err)
	}

	s.logger.Info("ORCID profile created",
		slog.String("profileID", p.ID),
		slog.String("orcid", in.ORCID),
		slog.Int64("startingBalance", p.Tokens),
	)

	// Referral reward is best-effort: the registration stands even if the
	// bonus credit fails.
	if referrer != nil {
		s.rewards.GrantReferralBonus(ctx, referrer.ID, p.ID)
	}

	s.recordAudit(ctx, "user_registered", p.ID, "provider=orcid")

	return &BootstrapResult{
		Profile:    p,
		IsExisting: false,
		Message:    "account created",
	}, nil
}

// RecordLogin bumps last_active and writes a user_login audit event. Called
// by the session reconciler at most once per distinct user per app load.
func (s *ProfileService) RecordLogin(ctx context.Context, userID string) error {
	if err := s.profiles.TouchLastActive(ctx, userID); err != nil {
		return fmt.Errorf("service/profile: recording login for %s: %w", userID, err)
	}
	s.recordAudit(ctx, "user_login", userID, "")
	return nil
}

// GetByID returns the profile for the given id.
func (s *ProfileService) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "profile id must not be empty")
	}
	p, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/profile: fetching profile %s: %w", id, err)
	}
	return p, nil
}

// GetByORCID returns the profile holding the given ORCID iD.
func (s *ProfileService) GetByORCID(ctx context.Context, orcidID string) (*model.Profile, error) {
	return s.profiles.GetByORCID(ctx, orcidID)
}

// UnlockResearcher upgrades the user's role when the supplied code matches
// the configured unlock code. The comparison is constant-time; an
// unconfigured code disables the flow with an explicit error rather than
// silently matching empty input.
func (s *ProfileService) UnlockResearcher(ctx context.Context, userID, code string) error {
	if s.unlock == "" {
		return fmt.Errorf("service/profile: researcher unlock code is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(s.unlock)) != 1 {
		return apperror.Forbidden("invalid researcher unlock code")
	}

	if err := s.profiles.SetRole(ctx, userID, model.RoleResearcher); err != nil {
		return fmt.Errorf("service/profile: unlocking researcher for %s: %w", userID, err)
	}

	s.logger.Info("researcher role unlocked", slog.String("userID", userID))
	s.recordAudit(ctx, "researcher_unlocked", userID, "")
	return nil
}

// startingBalance reads the configured default balance, falling back to the
// compiled-in constant when the row is missing or unreadable.
func (s *ProfileService) startingBalance(ctx context.Context) int64 {
	n, err := s.sysconfig.GetInt(ctx, keyDefaultTokenBalance)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("reading default token balance failed, using fallback",
				slog.String("error", err.Error()),
			)
		}
		return DefaultTokenBalance
	}
	return n
}

// recordAudit writes the audit row asynchronously. The parent context may be
// cancelled as soon as the response is sent, so the write gets a detached
// context with its own deadline. Failures are logged, never propagated.
func (s *ProfileService) recordAudit(ctx context.Context, event, userID, detail string) {
	entry := &model.AuditEntry{Event: event, UserID: userID, Detail: detail}

	go func() {
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := s.audit.Record(auditCtx, entry); err != nil {
			s.logger.Warn("audit write failed",
				slog.String("event", event),
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func validateBootstrapInput(in BootstrapInput) error {
	if in.ORCID == "" {
		return apperror.ValidationFailed("orcid", "orcid is required")
	}
	if !orcid.ValidID(in.ORCID) {
		return apperror.ValidationFailed("orcid", "invalid ORCID iD format")
	}
	if in.Email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	if !emailPattern.MatchString(in.Email) {
		return apperror.ValidationFailed("email", "invalid email format")
	}
	return nil
}
