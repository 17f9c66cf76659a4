package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records drain pass outcomes and server push verdicts.
type SyncMetrics struct {
	drainDuration *prometheus.HistogramVec
	drainJobs     *prometheus.CounterVec
	pushVerdicts  *prometheus.CounterVec
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	drainDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_drain_duration_seconds",
		Help:    "Duration of outbox drain passes in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"reason"})
	drainJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_drain_jobs_total",
		Help: "Jobs handled by drain passes, by outcome.",
	}, []string{"outcome"})
	pushVerdicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_push_verdicts_total",
		Help: "Per-transaction ingestion verdicts returned to terminals.",
	}, []string{"verdict"})
	reg.MustRegister(drainDuration, drainJobs, pushVerdicts)
	return &SyncMetrics{
		drainDuration: drainDuration,
		drainJobs:     drainJobs,
		pushVerdicts:  pushVerdicts,
	}
}

// ObserveDrain records the duration of one drain pass.
func (m *SyncMetrics) ObserveDrain(reason string, duration time.Duration) {
	if m == nil || m.drainDuration == nil {
		return
	}
	m.drainDuration.WithLabelValues(normalizeLabel(reason)).Observe(duration.Seconds())
}

// AddDrainOutcome increments the per-outcome job counter.
func (m *SyncMetrics) AddDrainOutcome(outcome string, n int) {
	if m == nil || m.drainJobs == nil || n <= 0 {
		return
	}
	m.drainJobs.WithLabelValues(normalizeLabel(outcome)).Add(float64(n))
}

// IncPushVerdict increments the verdict counter for the ingestion endpoint.
func (m *SyncMetrics) IncPushVerdict(verdict string) {
	if m == nil || m.pushVerdicts == nil {
		return
	}
	m.pushVerdicts.WithLabelValues(normalizeLabel(verdict)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
