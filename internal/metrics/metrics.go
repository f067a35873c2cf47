// Package metrics exposes the prometheus counters, gauges, and histograms
// consumed by the rest of the server: the policy resolver observes
// resolution latency, the push orchestrator counts rule pushes, the
// connection registry drives the connected-device gauge, and the domain
// handlers count TAN redemption outcomes. The collectors are optional on
// every consumer (a nil *Metrics means "not wired") so components stay
// constructible in isolation for tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the server registers, plus the registry
// they were registered against so the HTTP handler can scrape it.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectedDevices       prometheus.Gauge
	ConnectedParents       prometheus.Gauge
	TanRedemptions         *prometheus.CounterVec
	TanGenerationFailures  prometheus.Counter
	PolicyResolveDuration  prometheus.Histogram
	RulesPushed            prometheus.Counter
	UsageEventsRecorded    prometheus.Counter
	SchedulerRunDuration   *prometheus.HistogramVec
}

// New registers and returns a Metrics set on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		ConnectedDevices: factory.NewGauge(prometheus.GaugeOpts{
			Name: "heimdall_connected_devices",
			Help: "Number of currently connected agent devices.",
		}),
		ConnectedParents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "heimdall_connected_parents",
			Help: "Number of currently connected parent-portal sockets.",
		}),
		TanRedemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heimdall_tan_redemptions_total",
			Help: "TAN redemption attempts, labeled by outcome.",
		}, []string{"outcome"}),
		TanGenerationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "heimdall_tan_generation_failures_total",
			Help: "TAN code generation attempts that exhausted their retry budget.",
		}),
		PolicyResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "heimdall_policy_resolve_duration_seconds",
			Help:    "Latency of policy rule resolution.",
			Buckets: prometheus.DefBuckets,
		}),
		RulesPushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "heimdall_rules_pushed_total",
			Help: "rules_updated messages sent to devices.",
		}),
		UsageEventsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "heimdall_usage_events_recorded_total",
			Help: "UsageEvent rows persisted.",
		}),
		SchedulerRunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heimdall_scheduler_run_duration_seconds",
			Help:    "Duration of each background scheduler run, labeled by job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}
