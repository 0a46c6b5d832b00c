package service

import (
	"time"

	"codejudge/internal/judge/model"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator collectors. A nil *Metrics records nothing.
type Metrics struct {
	submissionTotal *prometheus.CounterVec
	jobTotal        *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	inflight        prometheus.Gauge
	queueWait       prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		submissionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judge_submission_total",
				Help: "Total number of submissions by terminal status",
			},
			[]string{"status"},
		),
		jobTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judge_job_total",
				Help: "Total number of remote judge jobs by verdict",
			},
			[]string{"verdict"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "judge_job_duration_seconds",
				Help:    "Remote judge job duration from submit to terminal poll",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "judge_submission_inflight",
				Help: "Submissions currently holding a judge slot",
			},
		),
		queueWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "judge_queue_wait_seconds",
				Help:    "Time spent waiting for a judge slot",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.submissionTotal, m.jobTotal, m.jobDuration, m.inflight, m.queueWait} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeSubmission(status model.SubmissionStatus) {
	if m == nil {
		return
	}
	m.submissionTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeJob(verdict model.Verdict, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobTotal.WithLabelValues(string(verdict)).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeQueueWait(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Observe(elapsed.Seconds())
}

func (m *Metrics) incInflight() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) decInflight() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}
