package sweeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sweeper_evictions_total",
	Help: "Number of contributors evicted for blocking a circuit, by timeout type.",
}, []string{"type"})
