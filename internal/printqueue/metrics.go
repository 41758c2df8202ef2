package printqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "print_queue_depth",
		Help: "Number of print jobs waiting or printing",
	})

	// jobsTotal 按结果统计：completed / failed / cancelled / retried。
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "print_jobs_total",
		Help: "Print job outcomes",
	}, []string{"result"})

	printDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "print_attempt_duration_seconds",
		Help:    "Duration of a single device print call",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)
