package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mquery_jobs_submitted_total",
		Help: "Jobs accepted, by priority",
	}, []string{"priority"})
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mquery_jobs_finished_total",
		Help: "Jobs that reached a terminal status",
	}, []string{"status"})
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mquery_job_duration_seconds",
		Help:    "Time from start to terminal status",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
	})
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mquery_job_queue_depth",
		Help: "Jobs waiting for a worker, by priority",
	}, []string{"priority"})
	confirmFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mquery_confirm_files_total",
		Help: "Candidate files confirmed, by result",
	}, []string{"result"})
	candidateRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mquery_candidate_ratio",
		Help:    "Share of a dataset's files left after probing",
		Buckets: []float64{0, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	})
)
