// Package metrics exposes the poller's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campwatch"

var (
	// Sweeps counts finished tier sweeps by outcome (completed, failed).
	Sweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweeps_total",
		Help:      "Tier sweeps by outcome.",
	}, []string{"tier", "outcome"})

	// SweepsSkipped counts triggers dropped because the tier was still running.
	SweepsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweeps_skipped_total",
		Help:      "Sweep triggers skipped because the previous sweep was still running.",
	}, []string{"tier"})

	// SweepDuration observes sweep wall time.
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Wall time of a tier sweep.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"tier"})

	// AlertChecks counts per-alert pipeline runs by outcome.
	AlertChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_checks_total",
		Help:      "Per-alert availability checks by park system and outcome.",
	}, []string{"park_system", "outcome"})

	// UpstreamRequests counts individual upstream HTTP attempts.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Upstream reservation platform requests by park system and outcome.",
	}, []string{"park_system", "outcome"})

	// MatchesCreated counts new alert matches.
	MatchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_created_total",
		Help:      "New alert matches by park system.",
	}, []string{"park_system"})

	// MatchesExpired counts matches flagged expired by the expiry sweep.
	MatchesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_expired_total",
		Help:      "Matches flagged expired.",
	})

	// Notifications counts delivery attempts by method and outcome.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification deliveries by method and outcome.",
	}, []string{"method", "outcome"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
