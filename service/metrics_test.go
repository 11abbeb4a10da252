package service

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.authAttempt(MethodPassword, OutcomeSuccess)
		m.chainFallback("login")
		m.swept(3)
		m.ceremony("registration", OutcomeFailure)
	})
}

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.authAttempt(MethodContract, OutcomeDegraded)
	m.chainFallback("login")
	m.swept(0)
	m.swept(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthAttempts.WithLabelValues(MethodContract, OutcomeDegraded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChainFallbacks.WithLabelValues("login")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SessionsSwept))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "passport_auth_attempts_total")
	assert.Contains(t, names, "passport_chain_fallbacks_total")
	assert.Contains(t, names, "passport_sessions_swept_total")
}

func TestMetrics_WithoutRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.ceremony("authentication", OutcomeSuccess)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ceremonies.WithLabelValues("authentication", OutcomeSuccess)))
}
