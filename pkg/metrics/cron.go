package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reasons a scheduled run did not execute.
const (
	SkipLockHeld = "lock_held"
	SkipOverlap  = "overlap"
	SkipLockErr  = "lock_error"
)

// JobMetrics covers the scheduled jobs: run outcomes, durations, skipped runs
// and the time of the last success, which alerting uses to spot a stalled
// escrow sweep.
type JobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	skipped     *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// NewJobMetrics registers the job collectors on reg. A nil registerer yields
// a no-op recorder.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	return &JobMetrics{
		runs: counter(reg, "cron", "runs_total", "Scheduled job runs by outcome.", "job", "outcome"),
		duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "run_duration_seconds",
			Help:      "Scheduled job run time.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job"})),
		skipped: counter(reg, "cron", "skipped_total", "Scheduled runs that did not execute.", "job", "reason"),
		lastSuccess: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"})),
	}
}

// Finished records one run that started at started and ended with err.
func (m *JobMetrics) Finished(job string, started time.Time, err error) {
	if m == nil || m.runs == nil {
		return
	}
	now := time.Now()
	m.duration.WithLabelValues(label(job)).Observe(now.Sub(started).Seconds())
	if err != nil {
		m.runs.WithLabelValues(label(job), "failure").Inc()
		return
	}
	m.runs.WithLabelValues(label(job), "success").Inc()
	m.lastSuccess.WithLabelValues(label(job)).Set(float64(now.Unix()))
}

// Skipped counts a run that was not executed for reason.
func (m *JobMetrics) Skipped(job, reason string) {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.WithLabelValues(label(job), label(reason)).Inc()
}
