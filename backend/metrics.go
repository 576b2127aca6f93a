package backend

import "github.com/prometheus/client_golang/prometheus"

var (
	QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oshdb",
		Subsystem: "query",
		Name:      "duration_seconds",
		Buckets:   prometheus.ExponentialBucketsRange(0.001, 600, 20),
	}, []string{"backend", "status"})
	QueryTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oshdb",
		Subsystem: "query",
		Name:      "timeouts",
	}, []string{"backend"})
	CellsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oshdb",
		Subsystem: "query",
		Name:      "cells_processed",
		Help:      "Cells with data handed to the fold kernel",
	}, []string{"backend"})
	CellsMissing = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oshdb",
		Subsystem: "query",
		Name:      "cells_missing",
		Help:      "Requested cells without data",
	}, []string{"backend"})
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{QueryDuration, QueryTimeouts, CellsProcessed, CellsMissing}
}
