package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// counterValue returns the value of the counter family name whose labels match.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			matched := 0
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("mail:send").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("mail:send").End(boom), boom)

	require.Equal(t, float64(1), counterValue(t, reg, "armslicense_jobs_total", map[string]string{"job": "mail:send", "status": "success"}))
	require.Equal(t, float64(1), counterValue(t, reg, "armslicense_jobs_total", map[string]string{"job": "mail:send", "status": "failure"}))
	require.Equal(t, float64(1), counterValue(t, reg, "armslicense_jobs_failures_total", map[string]string{"job": "mail:send"}))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("noop").End(nil))
	m.AddNotifications("mail", "ZS", 3)
}

func TestAddNotifications(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddNotifications("mail", "ACP", 2)
	m.AddNotifications("mail", "ACP", 0)
	m.AddNotifications("pubsub", "", 1)

	require.Equal(t, float64(2), counterValue(t, reg, "armslicense_notifications_total", map[string]string{"channel": "mail", "role": "ACP"}))
	require.Equal(t, float64(1), counterValue(t, reg, "armslicense_notifications_total", map[string]string{"channel": "pubsub", "role": "unknown"}))
}
