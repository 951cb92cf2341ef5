package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/MarcoPoloResearchLab/lankaed/internal/identitysync"
	"github.com/MarcoPoloResearchLab/lankaed/internal/metrics"
	"github.com/MarcoPoloResearchLab/lankaed/internal/webhook"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

func (h *httpHandler) handleIdentityWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Warn("webhook body unreadable", zap.Error(err))
		h.metrics.ObserveWebhookEvent("", metrics.OutcomeRejected)
		respondWithError(c, http.StatusBadRequest, errorCodeInvalidPayload, "request body could not be read")
		return
	}

	event, err := h.receiver.Receive(c.Request.Header, body)
	if err != nil {
		h.respondWebhookError(c, err)
		return
	}

	if !event.Handled() {
		h.logger.Debug("ignoring identity event", zap.String("event_type", event.Type), zap.String("message_id", event.ID))
		h.metrics.ObserveWebhookEvent(event.Type, metrics.OutcomeIgnored)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.syncer.Handle(c.Request.Context(), event); err != nil {
		h.metrics.ObserveWebhookEvent(event.Type, metrics.OutcomeFailed)
		h.logger.Error("identity event sync failed",
			zap.String("event_type", event.Type),
			zap.String("message_id", event.ID),
			zap.String("external_id", event.ExternalID),
			zap.Error(err))
		switch {
		case errors.Is(err, identitysync.ErrMissingPrimaryContact):
			respondWithError(c, http.StatusInternalServerError, errorCodeMissingContact, "event has no primary email address")
		case errors.Is(err, identitysync.ErrMissingExternalID):
			respondWithError(c, http.StatusInternalServerError, errorCodeMissingExternalID, "event has no user id")
		default:
			respondWithError(c, http.StatusInternalServerError, errorCodeSyncFailed, "profile sync failed")
		}
		return
	}

	h.metrics.ObserveWebhookEvent(event.Type, metrics.OutcomeOK)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) respondWebhookError(c *gin.Context, err error) {
	h.metrics.ObserveWebhookEvent("", metrics.OutcomeRejected)
	switch {
	case errors.Is(err, webhook.ErrConfiguration):
		h.logger.Error("webhook signing secret unavailable", zap.Error(err))
		respondWithError(c, http.StatusInternalServerError, errorCodeConfiguration, "webhook verification is not configured")
	case errors.Is(err, webhook.ErrMissingHeaders):
		h.logger.Warn("webhook rejected", zap.Error(err))
		respondWithError(c, http.StatusBadRequest, errorCodeMissingHeaders, "signature headers are required")
	case errors.Is(err, webhook.ErrSignatureInvalid):
		h.logger.Warn("webhook rejected", zap.Error(err))
		respondWithError(c, http.StatusBadRequest, errorCodeInvalidSignature, "signature verification failed")
	default:
		h.logger.Warn("webhook rejected", zap.Error(err))
		respondWithError(c, http.StatusBadRequest, errorCodeInvalidPayload, "payload is not a valid identity event")
	}
}
