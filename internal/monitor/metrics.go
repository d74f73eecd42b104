package monitor

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/elecmate/api/internal/store"
)

const (
	fetchResultOK       = "ok"
	fetchResultNotFound = "not_found"
	fetchResultTimeout  = "timeout"
	fetchResultError    = "error"
)

// Metrics records polling activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	fetches        *prometheus.CounterVec
	batchFailures  prometheus.Counter
	sessionsActive prometheus.Gauge
	sessionStops   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobmonitor_fetches_total",
				Help: "Job fetches issued by monitor sessions, by result",
			},
			[]string{"result"},
		),
		batchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jobmonitor_batch_fetch_failures_total",
				Help: "Batch progress fetches that failed",
			},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobmonitor_sessions_active",
				Help: "Number of running monitor sessions",
			},
		),
		sessionStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobmonitor_session_stops_total",
				Help: "Monitor sessions that ended, by reason",
			},
			[]string{"reason"},
		),
	}

	for _, c := range []prometheus.Collector{m.fetches, m.batchFailures, m.sessionsActive, m.sessionStops} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func fetchResultFor(err error) string {
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		return fetchResultNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fetchResultTimeout
	default:
		return fetchResultError
	}
}

func (m *Metrics) fetch(result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
}

func (m *Metrics) batchFetchFailed() {
	if m == nil {
		return
	}
	m.batchFailures.Inc()
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionStopped(reason StopReason) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionStops.WithLabelValues(string(reason)).Inc()
}
