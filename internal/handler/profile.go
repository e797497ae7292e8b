package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ncsstat/ncsstat/internal/apperror"
	"github.com/ncsstat/ncsstat/internal/cookie"
	"github.com/ncsstat/ncsstat/internal/model"
	"github.com/ncsstat/ncsstat/internal/service"
	"github.com/ncsstat/ncsstat/internal/session"
)

// validate is shared across handlers; validator instances cache struct
// metadata and are safe for concurrent use.
var validate = validator.New()

// ProfileHandler exposes the profile lifecycle endpoints: the idempotent
// ORCID bootstrap, the researcher unlock, and the feedback reward.
type ProfileHandler struct {
	profiles *service.ProfileService
	rewards  *service.RewardService
	secure   bool
	logger   *slog.Logger
}

func NewProfileHandler(profiles *service.ProfileService, rewards *service.RewardService, secure bool, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		rewards:  rewards,
		secure:   secure,
		logger:   logger,
	}
}

type bootstrapRequest struct {
	ORCID        string `json:"orcid" validate:"required"`
	Name         string `json:"name"`
	Email        string `json:"email" validate:"required,email"`
	ReferralCode string `json:"referralCode"`
}

type bootstrapResponse struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	ProfileID  string         `json:"profileId"`
	IsExisting bool           `json:"isExisting"`
	Profile    *model.Profile `json:"profile,omitempty"`
}

// HandleBootstrap creates-or-updates the profile for a confirmed ORCID
// identity, then logs the caller in by issuing the orcid_user cookie.
//
// HTTP: POST /api/auth/orcid-profile
// Rate limited per client IP at the router; identity-creation endpoints are
// a standing abuse target.
func (h *ProfileHandler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "orcid and a valid email are required"))
		return
	}

	res, err := h.profiles.BootstrapORCIDProfile(r.Context(), service.BootstrapInput{
		ORCID:        req.ORCID,
		Name:         req.Name,
		Email:        req.Email,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// The profile exists now; promote the pending identity to a real
	// pseudo-session.
	cookie.SetORCIDUser(w, res.Profile.ID, h.secure)
	cookie.ClearPending(w)

	writeJSON(w, http.StatusOK, bootstrapResponse{
		Success:    true,
		Message:    res.Message,
		ProfileID:  res.Profile.ID,
		IsExisting: res.IsExisting,
		Profile:    res.Profile,
	})
}

type unlockRequest struct {
	Code string `json:"code" validate:"required"`
}

// HandleUnlockResearcher upgrades the authenticated user to the researcher
// role when the right unlock code is supplied.
//
// HTTP: POST /api/unlock-researcher (auth required)
func (h *ProfileHandler) HandleUnlockResearcher(w http.ResponseWriter, r *http.Request) {
	ident, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid session required"))
		return
	}

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperror.ValidationFailed("code", "unlock code is required"))
		return
	}

	if err := h.profiles.UnlockResearcher(r.Context(), ident.UserID, req.Code); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"role":    model.RoleResearcher,
	})
}

// HandleFeedbackReward credits the authenticated user's feedback bonus.
//
// HTTP: POST /api/feedback-reward (auth required)
func (h *ProfileHandler) HandleFeedbackReward(w http.ResponseWriter, r *http.Request) {
	ident, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid session required"))
		return
	}

	balance, err := h.rewards.GrantFeedbackBonus(r.Context(), ident.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"newBalance": balance,
	})
}
