package service

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeDegraded = "degraded"
)

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	AuthAttempts   *prometheus.CounterVec
	ChainFallbacks *prometheus.CounterVec
	SessionsSwept  prometheus.Counter
	Ceremonies     *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		ChainFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "chain_fallbacks_total",
			Help:      "Operations served off-chain because the chain was unavailable.",
		}, []string{"operation"}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "sessions_swept_total",
			Help:      "Expired sessions removed by the sweeper.",
		}),
		Ceremonies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "ceremonies_total",
			Help:      "Completed WebAuthn ceremonies by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.AuthAttempts, m.ChainFallbacks, m.SessionsSwept, m.Ceremonies)
	}
	return m
}

func (m *Metrics) authAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) chainFallback(operation string) {
	if m == nil {
		return
	}
	m.ChainFallbacks.WithLabelValues(operation).Inc()
}

func (m *Metrics) swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

func (m *Metrics) ceremony(kind, outcome string) {
	if m == nil {
		return
	}
	m.Ceremonies.WithLabelValues(kind, outcome).Inc()
}
