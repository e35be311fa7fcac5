package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors updated by a Syncer.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	merged   *prometheus.CounterVec
}

// NewMetrics creates the sync collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Sync runs by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tally",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of non-skipped sync runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		merged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "sync",
			Name:      "merged_records_total",
			Help:      "Records taken from the remote during merges.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration, m.merged)
	}
	return m
}

func (m *Metrics) observe(outcome string, started time.Time, stats MergeStats) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if outcome == outcomeSkipped {
		return
	}
	m.duration.Observe(time.Since(started).Seconds())
	m.merged.WithLabelValues("added").Add(float64(stats.Added))
	m.merged.WithLabelValues("updated").Add(float64(stats.Updated))
}
