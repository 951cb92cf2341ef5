package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounts(t *testing.T) {
	registry := NewRegistry()

	registry.ObserveWebhookEvent("user.created", OutcomeOK)
	registry.ObserveWebhookEvent("user.created", OutcomeOK)
	registry.ObserveWebhookEvent("", OutcomeRejected)
	registry.ObserveSyncAttempt("upsert", OutcomeRetry)
	registry.ObserveAward("VIDEO_WATCHED", OutcomeOK, 5)
	registry.ObserveAward("VIDEO_WATCHED", OutcomeOK, 5)
	registry.ObserveAward("VIDEO_WATCHED", OutcomeFailed, 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(registry.webhookEvents.WithLabelValues("user.created", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.webhookEvents.WithLabelValues("unknown", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.syncAttempts.WithLabelValues("upsert", OutcomeRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.xpAwards.WithLabelValues("VIDEO_WATCHED", OutcomeFailed)))
	assert.Equal(t, 10.0, testutil.ToFloat64(registry.xpPoints.WithLabelValues("VIDEO_WATCHED")))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var registry *Registry

	assert.NotPanics(t, func() {
		registry.ObserveWebhookEvent("user.created", OutcomeOK)
		registry.ObserveSyncAttempt("delete", OutcomeOK)
		registry.ObserveAward("DAILY_LOGIN", OutcomeOK, 2)
	})
	assert.NotNil(t, registry.Handler())
}

func TestHandlerExposesServiceMetrics(t *testing.T) {
	registry := NewRegistry()
	registry.ObserveAward("QUIZ_COMPLETED", OutcomeOK, 15)

	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(recorder.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `lankaed_xp_points_total{action="QUIZ_COMPLETED"} 15`))
}
