package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ncsstat/ncsstat/internal/ledger"
	"github.com/ncsstat/ncsstat/internal/repository"
)

// RewardService hands out token bonuses: referral rewards when a referred
// user registers, and a one-off bonus for submitted feedback.
type RewardService struct {
	ledger        *ledger.Ledger
	profiles      repository.ProfileRepository
	referralBonus int64
	feedbackBonus int64
	logger        *slog.Logger
}

func NewRewardService(
	led *ledger.Ledger,
	profiles repository.ProfileRepository,
	referralBonus, feedbackBonus int64,
	logger *slog.Logger,
) *RewardService {
	return &RewardService{
		ledger:        led,
		profiles:      profiles,
		referralBonus: referralBonus,
		feedbackBonus: feedbackBonus,
		logger:        logger,
	}
}

// GrantReferralBonus credits the referrer and bumps their referral counter.
// Best-effort by contract: callers are mid-registration, so failures are
// logged and swallowed rather than failing the signup.
func (s *RewardService) GrantReferralBonus(ctx context.Context, referrerID, newUserID string) {
	if _, err := s.ledger.Credit(ctx, referrerID, s.referralBonus, "referral_bonus"); err != nil {
		s.logger.Warn("referral bonus credit failed",
			slog.String("referrerID", referrerID),
			slog.String("newUserID", newUserID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.profiles.IncrementReferralCount(ctx, referrerID); err != nil {
		s.logger.Warn("referral count increment failed",
			slog.String("referrerID", referrerID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("referral bonus granted",
		slog.String("referrerID", referrerID),
		slog.String("newUserID", newUserID),
		slog.Int64("amount", s.referralBonus),
	)
}

// GrantFeedbackBonus credits the user for submitted feedback and returns the
// new balance. Unlike referral grants this is user-initiated, so errors
// surface to the caller.
func (s *RewardService) GrantFeedbackBonus(ctx context.Context, userID string) (int64, error) {
	balance, err := s.ledger.Credit(ctx, userID, s.feedbackBonus, "feedback_bonus")
	if err != nil {
		return 0, fmt.Errorf("service/reward: feedback bonus for %s: %w", userID, err)
	}

	s.logger.Info("feedback bonus granted",
		slog.String("userID", userID),
		slog.Int64("amount", s.feedbackBonus),
	)
	return balance, nil
}
