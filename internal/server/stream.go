package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/lankaed/internal/realtime"
	"github.com/gin-gonic/gin"
)

const (
	RealtimeEventProfileChanged = "profile-change"
	realtimeEventReady          = "ready"
	realtimeEventHeartbeat      = "heartbeat"
	realtimeSourceBackend       = "lankaed-api"

	streamBufferSize = 16
)

type changeEventPayload struct {
	Kind                string `json:"kind"`
	ProfileID           string `json:"profileId,omitempty"`
	XPTotal             int64  `json:"xpTotal"`
	OnboardingCompleted bool   `json:"onboardingCompleted"`
	Timestamp           string `json:"timestamp"`
	Source              string `json:"source"`
}

func (h *httpHandler) handleProfileStream(c *gin.Context) {
	externalID := c.GetString(externalIDContextKey)
	if externalID == "" {
		respondWithError(c, http.StatusUnauthorized, errorCodeUnauthorized, "authentication required")
		return
	}

	ctx := c.Request.Context()
	changes := make(chan realtime.Change, streamBufferSize)
	subscription := h.realtime.Subscribe(ctx, realtime.Filter{ExternalID: externalID}, func(change realtime.Change) {
		select {
		case changes <- change:
		default:
		}
	})
	defer h.realtime.Unsubscribe(subscription)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(realtimeEventReady, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case change := <-changes:
			c.SSEvent(RealtimeEventProfileChanged, changeEventPayload{
				Kind:                string(change.Kind),
				ProfileID:           change.ProfileID,
				XPTotal:             change.XPTotal,
				OnboardingCompleted: change.OnboardingCompleted,
				Timestamp:           change.Timestamp.UTC().Format(time.RFC3339Nano),
				Source:              realtimeSourceBackend,
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC().Format(time.RFC3339)})
			return true
		}
	})
}
