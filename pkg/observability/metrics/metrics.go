// Package metrics generalizes the teacher's go_cluster_* Prometheus metrics
// to Disco's disco_* domain: Raft role/term, gRPC connection cache, and the
// node's own KV-apply / script-host / orchestrator operations.
package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var once sync.Once

var (
    RaftIsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "disco",
        Name:      "raft_is_leader",
        Help:      "1 if this node is the Raft leader, else 0",
    })
    RaftTerm = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "disco",
        Name:      "raft_term",
        Help:      "Current Raft term observed by this node",
    })
    RaftLeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "disco",
        Name:      "raft_leader_changes_total",
        Help:      "Total number of observed Raft leader change events",
    })
    RaftMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "disco",
        Name:      "raft_members_total",
        Help:      "Current number of servers (voters and non-voters) in the Raft configuration",
    })

    KVApplyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: "disco",
        Name:      "kv_apply_latency_seconds",
        Help:      "Latency of applying a committed command to the key-value state machine",
        Buckets:   prometheus.DefBuckets,
    })
    KVWatchSubs = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "disco",
        Name:      "kv_watch_subscriptions",
        Help:      "Number of active key-value watch subscriptions",
    })

    ScriptHostCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "disco",
        Subsystem: "scripthost",
        Name:      "calls_total",
        Help:      "Total script-host host-binding calls, by binding name and result",
    }, []string{"binding", "result"})

    OrchestratorSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "disco",
        Subsystem: "orchestrator",
        Name:      "steps_total",
        Help:      "Total orchestrator bootstrap/scale steps, by step name and outcome",
    }, []string{"step", "outcome"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "disco",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "disco",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "disco",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "disco",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers all metrics into the default Prometheus registry
// (idempotent, teacher's sync.Once-guarded shape).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(
            RaftIsLeader,
            RaftTerm,
            RaftLeaderChanges,
            RaftMembers,
            KVApplyLatency,
            KVWatchSubs,
            ScriptHostCalls,
            OrchestratorSteps,
            GRPCConnDials,
            GRPCConnReuse,
            GRPCConnEvictions,
            GRPCConnActive,
        )
    })
}
