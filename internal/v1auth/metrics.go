package v1auth

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const (
	outcomeIssued       = "issued"
	outcomeMalformed    = "malformed"
	outcomeUnauthorized = "unauthorized"
	outcomeBackendFault = "backend_fault"
)

var (
	// RequestsTotal counts legacy auth requests by outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "v1auth_requests_total",
			Help: "Legacy auth requests by outcome",
		},
		[]string{"outcome"},
	)

	// RequestDuration records handling time, backend calls included.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "v1auth_request_duration_seconds",
			Help:    "Legacy auth request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, RequestDuration)
}
