package metrics

import "github.com/prometheus/client_golang/prometheus"

func newBreakerGauge() *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per upstream operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)
}

func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}
