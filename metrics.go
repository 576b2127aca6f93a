package oshdb

import (
	"github.com/GIScience/oshdb-sub001/backend"
	"github.com/GIScience/oshdb-sub001/cluster"
	"github.com/GIScience/oshdb-sub001/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors returns every metric vector of the engine for registration
// by the embedding program.
func Collectors() []prometheus.Collector {
	return append(backend.Collectors(),
		cluster.NodeJobs,
		cluster.NodeJobDuration,
		store.CacheHits,
		store.CacheMisses,
	)
}
