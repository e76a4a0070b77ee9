// Package metrics defines the Prometheus instruments exposed on the admin
// HTTP surface's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runloop_claims_total",
		Help: "Total claim() attempts by result (success, empty, already_claimed, error).",
	}, []string{"result"})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runloop_tasks_in_flight",
		Help: "Number of tasks currently claimed and executing (0 or 1 per poller).",
	})

	HeartbeatAgeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runloop_heartbeat_age_seconds",
		Help: "Seconds since this runner's last successful heartbeat write.",
	})

	RestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runloop_restarts_total",
		Help: "Total restart attempts by component and result.",
	}, []string{"component", "result"})

	StaleRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runloop_stale_recovered_total",
		Help: "Total tasks transitioned out of RUNNING by recover_stale_tasks.",
	})
)
