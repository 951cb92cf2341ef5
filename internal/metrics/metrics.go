// Package metrics exposes Prometheus counters for identity sync and XP awards.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
)

// Registry owns a private Prometheus registry and the service collectors.
// A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	webhookEvents *prometheus.CounterVec
	syncAttempts  *prometheus.CounterVec
	xpAwards      *prometheus.CounterVec
	xpPoints      *prometheus.CounterVec
}

// NewRegistry creates the collectors.
//
// Metrics:
//   - lankaed_webhook_events_total{type,outcome}
//   - lankaed_sync_attempts_total{operation,outcome}
//   - lankaed_xp_awards_total{action,outcome}
//   - lankaed_xp_points_total{action}
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Registry{
		registry: registry,
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lankaed_webhook_events_total",
				Help: "Identity webhook deliveries by event type and outcome",
			},
			[]string{"type", "outcome"},
		),
		syncAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lankaed_sync_attempts_total",
				Help: "Profile store attempts made by the sync orchestrator",
			},
			[]string{"operation", "outcome"},
		),
		xpAwards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lankaed_xp_awards_total",
				Help: "XP award requests by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		xpPoints: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lankaed_xp_points_total",
				Help: "XP points granted by action",
			},
			[]string{"action"},
		),
	}
}

func (r *Registry) ObserveWebhookEvent(eventType string, outcome string) {
	if r == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	r.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (r *Registry) ObserveSyncAttempt(operation string, outcome string) {
	if r == nil {
		return
	}
	r.syncAttempts.WithLabelValues(operation, outcome).Inc()
}

// ObserveAward counts one award request; points are added only for successful awards.
func (r *Registry) ObserveAward(action string, outcome string, points int64) {
	if r == nil {
		return
	}
	r.xpAwards.WithLabelValues(action, outcome).Inc()
	if outcome == OutcomeOK && points > 0 {
		r.xpPoints.WithLabelValues(action).Add(float64(points))
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// Handler serves the exposition format for this registry.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
