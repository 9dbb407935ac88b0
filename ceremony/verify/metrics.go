package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ceremony_verifications_total",
		Help: "Count of finished contribution verifications by result.",
	}, []string{"result"})
	verificationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ceremony_verification_duration_seconds",
		Help:    "Wall-clock duration of contribution verifications.",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
	})
	vmStartupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ceremony_vm_startup_failures_total",
		Help: "Count of verification machines that never reached the running state.",
	})
)

func resultLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
