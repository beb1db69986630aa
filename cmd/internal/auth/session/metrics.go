package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts lifecycle transitions. A nil *Metrics is valid and
// records nothing, so the service works without a registry in tests.
type Metrics struct {
	issued        prometheus.Counter
	rotated       prometheus.Counter
	reuseDetected prometheus.Counter
	revoked       *prometheus.CounterVec
	reaped        prometheus.Counter
}

// NewMetrics registers the session lifecycle counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		issued: f.NewCounter(prometheus.CounterOpts{
			Name: "sessions_issued_total",
			Help: "Refresh sessions created.",
		}),
		rotated: f.NewCounter(prometheus.CounterOpts{
			Name: "sessions_rotated_total",
			Help: "Successful refresh-token rotations.",
		}),
		reuseDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "session_reuse_detected_total",
			Help: "Replays of already-consumed or revoked refresh tokens.",
		}),
		revoked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_revoked_total",
			Help: "Session records revoked, by reason.",
		}, []string{"reason"}),
		reaped: f.NewCounter(prometheus.CounterOpts{
			Name: "sessions_reaped_total",
			Help: "Expired session records deleted by the reaper.",
		}),
	}
}

func (m *Metrics) incIssued() {
	if m != nil {
		m.issued.Inc()
	}
}

func (m *Metrics) incRotated() {
	if m != nil {
		m.rotated.Inc()
	}
}

func (m *Metrics) incReuseDetected() {
	if m != nil {
		m.reuseDetected.Inc()
	}
}

func (m *Metrics) addRevoked(reason string, n int64) {
	if m != nil && n > 0 {
		m.revoked.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) addReaped(n int64) {
	if m != nil && n > 0 {
		m.reaped.Add(float64(n))
	}
}
