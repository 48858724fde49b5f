package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// metrics holds the server's prometheus collectors on a private
// registry served at /metrics.
type metrics struct {
	registry *prometheus.Registry

	authDecisions *prometheus.CounterVec
	loginAttempts *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		authDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewarden_auth_decisions_total",
				Help: "Authorization verdicts by outcome.",
			},
			[]string{"outcome"},
		),
		loginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewarden_login_attempts_total",
				Help: "Login token redemptions by outcome.",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.authDecisions,
		m.loginAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}
