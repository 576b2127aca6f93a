package cluster

import "github.com/prometheus/client_golang/prometheus"

var (
	NodeJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oshdb",
		Subsystem: "cluster",
		Name:      "jobs",
		Help:      "Jobs run on cluster nodes by outcome",
	}, []string{"node", "status"})
	NodeJobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oshdb",
		Subsystem: "cluster",
		Name:      "job_duration_seconds",
		Buckets:   prometheus.ExponentialBucketsRange(0.0005, 60, 16),
	}, []string{"node"})
)
