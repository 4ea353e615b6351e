package transfer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "strawgo_transfer"

// Transfer outcomes recorded in transfers_total
const (
	OutcomeConnected = "connected"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
	OutcomeRejected  = "rejected"
)

// Metrics holds the Prometheus collectors of the transfer engine.
// A nil *Metrics records nothing.
type Metrics struct {
	TransfersTotal   *prometheus.CounterVec
	DialAttempts     prometheus.Counter
	SessionsActive   prometheus.Gauge
	TransferDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transfers_total",
				Help:      "Warm transfers by outcome",
			},
			[]string{"outcome"},
		),
		DialAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dial_attempts_total",
				Help:      "Outbound calls placed to specialists",
			},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_active",
				Help:      "Calls currently handled",
			},
		),
		TransferDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "transfer_duration_seconds",
				Help:      "Time from transfer request to connect or failure",
				Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.TransfersTotal, m.DialAttempts, m.SessionsActive, m.TransferDuration)
	}
	return m
}

func (m *Metrics) transfer(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(outcome).Inc()
	if !started.IsZero() {
		m.TransferDuration.Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) dialAttempt() {
	if m == nil {
		return
	}
	m.DialAttempts.Inc()
}

// SessionStarted increments the active session gauge
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionEnded decrements the active session gauge
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}
