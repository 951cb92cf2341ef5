package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/lankaed/internal/onboarding"
	"github.com/MarcoPoloResearchLab/lankaed/internal/profiles"
	"github.com/MarcoPoloResearchLab/lankaed/internal/xp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type awardRequestPayload struct {
	Event string `json:"event"`
}

type awardResponsePayload struct {
	Success   bool   `json:"success"`
	Action    string `json:"action"`
	XPAwarded int64  `json:"xpAwarded"`
	XPTotal   int64  `json:"xpTotal"`
}

type completeRequestPayload struct {
	Grade    *int   `json:"grade"`
	Language string `json:"language"`
}

func (h *httpHandler) handleAwardXP(c *gin.Context) {
	externalID := c.GetString(externalIDContextKey)
	if externalID == "" {
		respondWithError(c, http.StatusUnauthorized, errorCodeUnauthorized, "authentication required")
		return
	}

	var request awardRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Event) == "" {
		respondWithError(c, http.StatusBadRequest, errorCodeInvalidRequest, "event is required")
		return
	}

	award, err := h.awarder.Award(c.Request.Context(), externalID, request.Event)
	switch {
	case err == nil:
	case errors.Is(err, xp.ErrInvalidActionKind):
		respondWithError(c, http.StatusBadRequest, errorCodeInvalidAction, "unknown event")
		return
	case errors.Is(err, xp.ErrProfileNotFound):
		respondWithError(c, http.StatusNotFound, errorCodeProfileNotFound, "profile not found")
		return
	case errors.Is(err, xp.ErrMissingIdentity):
		respondWithError(c, http.StatusUnauthorized, errorCodeUnauthorized, "authentication required")
		return
	default:
		h.logger.Error("xp award failed", zap.String("external_id", externalID), zap.Error(err))
		respondWithError(c, http.StatusInternalServerError, errorCodeAwardFailed, "xp award failed")
		return
	}

	c.JSON(http.StatusOK, awardResponsePayload{
		Success:   true,
		Action:    string(award.Action),
		XPAwarded: award.Points,
		XPTotal:   award.NewTotal,
	})
}

func (h *httpHandler) handleCompleteProfile(c *gin.Context) {
	externalID := c.GetString(externalIDContextKey)
	if externalID == "" {
		respondWithError(c, http.StatusUnauthorized, errorCodeUnauthorized, "authentication required")
		return
	}

	var request completeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondWithError(c, http.StatusBadRequest, errorCodeInvalidRequest, "grade and language are required")
		return
	}

	profile, err := h.completer.Complete(c.Request.Context(), externalID, onboarding.Request{
		Grade:    request.Grade,
		Language: request.Language,
	})
	switch {
	case err == nil:
	case errors.Is(err, onboarding.ErrMissingGrade), errors.Is(err, onboarding.ErrMissingLanguage):
		respondWithError(c, http.StatusBadRequest, errorCodeInvalidRequest, "grade and language are required")
		return
	case errors.Is(err, profiles.ErrInvalidGrade):
		respondWithError(c, http.StatusBadRequest, errorCodeInvalidGrade, "grade must be between 1 and 13")
		return
	case errors.Is(err, profiles.ErrInvalidLanguage):
		respondWithError(c, http.StatusBadRequest, errorCodeInvalidLanguage, "language must be one of en, si, ta")
		return
	case errors.Is(err, profiles.ErrNotFound):
		respondWithError(c, http.StatusNotFound, errorCodeProfileNotFound, "profile not found")
		return
	default:
		h.logger.Error("profile completion failed", zap.String("external_id", externalID), zap.Error(err))
		respondWithError(c, http.StatusInternalServerError, errorCodeOnboardingFailed, "profile completion failed")
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	externalID := c.GetString(externalIDContextKey)
	if externalID == "" {
		respondWithError(c, http.StatusUnauthorized, errorCodeUnauthorized, "authentication required")
		return
	}

	profile, err := h.profiles.Get(c.Request.Context(), externalID)
	if errors.Is(err, profiles.ErrNotFound) {
		respondWithError(c, http.StatusNotFound, errorCodeProfileNotFound, "profile not found")
		return
	}
	if err != nil {
		h.logger.Error("profile load failed", zap.String("external_id", externalID), zap.Error(err))
		respondWithError(c, http.StatusInternalServerError, errorCodeProfileLoadFailed, "profile could not be loaded")
		return
	}
	c.JSON(http.StatusOK, profile)
}
