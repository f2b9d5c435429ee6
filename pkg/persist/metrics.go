package persist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvcore_store_ops_total",
		Help: "Engine operations by collection and operation.",
	}, []string{"collection", "op"})

	writeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvcore_write_conflicts_total",
		Help: "Uniqueness violations surfaced to callers.",
	}, []string{"collection"})

	indexCreates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvcore_index_creates_total",
		Help: "Indexes created by the lazy index gate.",
	}, []string{"collection"})
)
