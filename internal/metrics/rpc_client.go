// Package metrics exposes the Prometheus collectors the indexing pipeline
// registers: node RPC call metrics plus per-stream pipeline metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blocktableindexer",
		Subsystem: "rpc_client",
		Name:      "operations_total",
		Help:      "Count of node RPC operations.",
	}, []string{"operation", "network", "status"})
	rpcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blocktableindexer",
		Subsystem: "rpc_client",
		Name:      "operation_duration_seconds",
		Help:      "Duration of node RPC operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "network", "status"})
)

// RPCClient tracks metrics for RPC calls to the node.
type RPCClient struct {
	network string
}

// NewRPCClient constructs a metrics collector for RPC calls against network.
func NewRPCClient(network string) *RPCClient {
	if network == "" {
		network = "unknown"
	}
	return &RPCClient{network: network}
}

// Observe records a single RPC call outcome and duration.
func (m RPCClient) Observe(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}

	rpcRequestsTotal.WithLabelValues(operation, m.network, status).Inc()
	rpcRequestDuration.WithLabelValues(operation, m.network, status).Observe(time.Since(started).Seconds())
}
