package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_queue_write_conflicts_total",
		Help: "Number of queue batch commits aborted by a concurrent document write.",
	})
	promotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_promotions_total",
		Help: "Number of participants promoted to current contributor of a circuit.",
	})
	refreshConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_refresh_write_conflicts_total",
		Help: "Number of post-verification participant refreshes aborted by a concurrent write.",
	})
)
