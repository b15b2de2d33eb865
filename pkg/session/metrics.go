package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

// Metrics records submission counters shared by every controller of a process.
// A nil *Metrics records nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	inflight    prometheus.Gauge
	duration    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rahl",
			Subsystem: "session",
			Name:      "submissions_total",
			Help:      "Build submissions by outcome.",
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rahl",
			Subsystem: "session",
			Name:      "inflight",
			Help:      "Build requests currently outstanding.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rahl",
			Subsystem: "session",
			Name:      "submit_duration_seconds",
			Help:      "Time from submission until the build request settles.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
	for _, c := range []prometheus.Collector{m.submissions, m.inflight, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcomeRejected).Inc()
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) settled(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.submissions.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}
