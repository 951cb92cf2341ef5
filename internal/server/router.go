package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lankaed/internal/auth"
	"github.com/MarcoPoloResearchLab/lankaed/internal/metrics"
	"github.com/MarcoPoloResearchLab/lankaed/internal/onboarding"
	"github.com/MarcoPoloResearchLab/lankaed/internal/profiles"
	"github.com/MarcoPoloResearchLab/lankaed/internal/realtime"
	"github.com/MarcoPoloResearchLab/lankaed/internal/webhook"
	"github.com/MarcoPoloResearchLab/lankaed/internal/xp"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	externalIDContextKey = "lankaed_external_id"

	defaultHeartbeatInterval = 25 * time.Second
	defaultWebhookRate       = 5
	defaultWebhookBurst      = 20
)

var (
	errMissingSessionVerifier = errors.New("session verifier dependency required")
	errMissingWebhookReceiver = errors.New("webhook receiver dependency required")
	errMissingEventSyncer     = errors.New("event syncer dependency required")
	errMissingXPAwarder       = errors.New("xp awarder dependency required")
	errMissingProfileService  = errors.New("profile dependencies required")
	errMissingRealtime        = errors.New("realtime dependency required")
)

type SessionVerifier interface {
	VerifyRequest(r *http.Request) (auth.Claims, error)
}

type WebhookReceiver interface {
	Receive(headers http.Header, body []byte) (webhook.Event, error)
}

type EventSyncer interface {
	Handle(ctx context.Context, event webhook.Event) error
}

type XPAwarder interface {
	Award(ctx context.Context, externalID string, action string) (xp.Award, error)
}

type ProfileCompleter interface {
	Complete(ctx context.Context, externalID string, request onboarding.Request) (profiles.Profile, error)
}

type ProfileReader interface {
	Get(ctx context.Context, externalID string) (profiles.Profile, error)
}

type ChangeSubscriber interface {
	Subscribe(ctx context.Context, filter realtime.Filter, onChange func(realtime.Change)) *realtime.Subscription
	Unsubscribe(subscription *realtime.Subscription)
}

// Dependencies wires the HTTP surface to the services behind it.
type Dependencies struct {
	SessionVerifier  SessionVerifier
	WebhookReceiver  WebhookReceiver
	EventSyncer      EventSyncer
	XPAwarder        XPAwarder
	ProfileCompleter ProfileCompleter
	ProfileReader    ProfileReader
	Realtime         ChangeSubscriber
	Metrics          *metrics.Registry
	Logger           *zap.Logger

	AllowedOrigins       []string
	WebhookRatePerSecond float64
	WebhookBurst         int
	HeartbeatInterval    time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionVerifier == nil {
		return nil, errMissingSessionVerifier
	}
	if deps.WebhookReceiver == nil {
		return nil, errMissingWebhookReceiver
	}
	if deps.EventSyncer == nil {
		return nil, errMissingEventSyncer
	}
	if deps.XPAwarder == nil {
		return nil, errMissingXPAwarder
	}
	if deps.ProfileCompleter == nil || deps.ProfileReader == nil {
		return nil, errMissingProfileService
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	ratePerSecond := deps.WebhookRatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = defaultWebhookRate
	}
	burst := deps.WebhookBurst
	if burst <= 0 {
		burst = defaultWebhookBurst
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		verifier:          deps.SessionVerifier,
		receiver:          deps.WebhookReceiver,
		syncer:            deps.EventSyncer,
		awarder:           deps.XPAwarder,
		completer:         deps.ProfileCompleter,
		profiles:          deps.ProfileReader,
		realtime:          deps.Realtime,
		metrics:           deps.Metrics,
		logger:            logger,
		heartbeatInterval: heartbeat,
	}
	limiter := newClientRateLimiter(ratePerSecond, burst, logger)

	router.GET("/healthz", handleHealth)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	router.POST("/webhooks/identity", limiter.middleware, handler.handleIdentityWebhook)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/xp/award", handler.handleAwardXP)
	protected.POST("/profile/complete", handler.handleCompleteProfile)
	protected.GET("/profile", handler.handleGetProfile)
	protected.GET("/profile/stream", handler.handleProfileStream)

	return router, nil
}

type httpHandler struct {
	verifier          SessionVerifier
	receiver          WebhookReceiver
	syncer            EventSyncer
	awarder           XPAwarder
	completer         ProfileCompleter
	profiles          ProfileReader
	realtime          ChangeSubscriber
	metrics           *metrics.Registry
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			origins = nil
			break
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.verifier.VerifyRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("session verification failed", zap.Error(err))
		} else {
			h.logger.Warn("session verification failed", zap.Error(err))
		}
		abortWithError(c, http.StatusUnauthorized, errorCodeUnauthorized, "authentication required")
		return
	}
	c.Set(externalIDContextKey, claims.Subject)
	c.Next()
}
