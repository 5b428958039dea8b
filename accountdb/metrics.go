package accountdb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ambient observability for the forked Account DB: how often the process-
// wide RPC cache (rpc.go) is actually saving a round-trip, broken down by
// upstream method. Registered against the default registerer the same way
// a long-running process would expose /metrics for its fork's RPC traffic;
// this package never starts an HTTP server itself (that's the CLI/harness
// host's job, out of this core's scope per spec §1).
var (
	rpcCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boa",
		Subsystem: "accountdb",
		Name:      "rpc_cache_hits_total",
		Help:      "Forked AccountDB RPC calls served from the process-wide cache, by method.",
	}, []string{"method"})

	rpcCacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boa",
		Subsystem: "accountdb",
		Name:      "rpc_cache_misses_total",
		Help:      "Forked AccountDB RPC calls that went to the upstream node, by method.",
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(rpcCacheHits, rpcCacheMisses)
}
