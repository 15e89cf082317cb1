package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the queue. Registered on the default registry so
// any process that serves promhttp.Handler() exports them.
var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpilot_jobs_enqueued_total",
		Help: "Jobs inserted as pending, by type.",
	}, []string{"type"})

	jobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpilot_jobs_claimed_total",
		Help: "Jobs claimed by a worker, by type.",
	}, []string{"type"})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpilot_jobs_finished_total",
		Help: "Worker writebacks, by type and resulting status.",
	}, []string{"type", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadpilot_job_duration_seconds",
		Help:    "Handler execution time, by type.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"type"})

	jobsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpilot_jobs_recovered_total",
		Help: "Stuck jobs recovered by the monitor, by resulting status.",
	}, []string{"status"})

	jobsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpilot_jobs_deleted_total",
		Help: "Jobs deleted by the retention cleaner, by status.",
	}, []string{"status"})

	jobsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "leadpilot_jobs",
		Help: "Rows in the jobs table by status, refreshed on each monitor scan.",
	}, []string{"status"})
)
