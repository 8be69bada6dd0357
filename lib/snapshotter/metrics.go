package snapshotter

import (
	"github.com/fiffu/registrywatch/lib/snapshot"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrywatch_polls_total",
			Help: "Poll ticks by outcome.",
		},
		[]string{"result"},
	)
	changesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrywatch_changes_detected_total",
			Help: "Changes detected between consecutive snapshots.",
		},
		[]string{"change_type"},
	)
	catalogServers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registrywatch_catalog_servers",
		Help: "Servers in the most recent catalog fetch.",
	})
	lastPoll = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registrywatch_last_poll_timestamp_seconds",
		Help: "Unix time of the last completed poll.",
	})
)

func init() {
	prometheus.MustRegister(pollsTotal, changesDetected, catalogServers, lastPoll)
}

type snapshotMetrics struct {
	servers int
	new     int
	updated int
	removed int
	skipped bool
}

func metricsOf(servers int, diff *snapshot.DiffResult) *snapshotMetrics {
	m := &snapshotMetrics{servers: servers}
	if diff != nil {
		m.new = len(diff.NewServers)
		m.updated = len(diff.UpdatedServers)
		m.removed = len(diff.RemovedServers)
	}
	return m
}

func (m *snapshotMetrics) changed() bool {
	return m.new+m.updated+m.removed > 0
}

// logArgs lists only the non-zero counters.
func (m *snapshotMetrics) logArgs() []any {
	args := []any{"servers", m.servers}
	if m.new != 0 {
		args = append(args, "new", m.new)
	}
	if m.updated != 0 {
		args = append(args, "updated", m.updated)
	}
	if m.removed != 0 {
		args = append(args, "removed", m.removed)
	}
	return args
}

func (m *snapshotMetrics) record() {
	catalogServers.Set(float64(m.servers))
	changesDetected.WithLabelValues("new").Add(float64(m.new))
	changesDetected.WithLabelValues("updated").Add(float64(m.updated))
	changesDetected.WithLabelValues("removed").Add(float64(m.removed))
	if m.changed() {
		pollsTotal.WithLabelValues("changed").Inc()
	} else {
		pollsTotal.WithLabelValues("unchanged").Inc()
	}
}
