package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"heimdall_connected_devices",
		"heimdall_connected_parents",
		"heimdall_tan_redemptions_total",
		"heimdall_tan_generation_failures_total",
		"heimdall_policy_resolve_duration_seconds",
		"heimdall_rules_pushed_total",
		"heimdall_usage_events_recorded_total",
		"heimdall_scheduler_run_duration_seconds",
	} {
		assert.True(t, names[want], "expected %s to be registered", want)
	}

	m.ConnectedDevices.Set(3)
	m.TanRedemptions.WithLabelValues("success").Inc()
	m.SchedulerRunDuration.WithLabelValues("quest_scheduler").Observe(0.5)
}

func TestNew_CountersIncrementIndependently(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TanRedemptions.WithLabelValues("success").Inc()
	m.TanRedemptions.WithLabelValues("success").Inc()
	m.TanRedemptions.WithLabelValues("blackout_window").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TanRedemptions.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TanRedemptions.WithLabelValues("blackout_window")))
}
