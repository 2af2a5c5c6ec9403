package echo

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Session results reported in rtcdiag_echo_sessions_total.
const (
	resultCompleted = "completed"
	resultFailed    = "failed"
	resultRejected  = "rejected"
)

type metrics struct {
	sessions *prometheus.CounterVec
	active   prometheus.Gauge
	duration prometheus.Histogram
	packets  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtcdiag_echo_sessions_total",
				Help: "Test calls handled, by result",
			},
			[]string{"result"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtcdiag_echo_active_sessions",
				Help: "Test calls currently in progress",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rtcdiag_echo_session_duration_seconds",
				Help:    "Duration of answered test calls",
				Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120},
			},
		),
		packets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rtcdiag_echo_packets_total",
				Help: "RTP packets looped back to callers",
			},
		),
	}
	for _, c := range []prometheus.Collector{m.sessions, m.active, m.duration, m.packets} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	// Expose every result from the first scrape.
	for _, r := range []string{resultCompleted, resultFailed, resultRejected} {
		m.sessions.WithLabelValues(r)
	}
	return m, nil
}
