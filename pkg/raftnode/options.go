package raftnode

import (
    "log"
    "time"
)

// Options configure a Node. Zero timeout values leave the values of
// hashicorp/raft's raft.DefaultConfig() in place; no election or heartbeat
// timing of Disco's own is applied.
type Options struct {
    NodeID string
    Logger *log.Logger

    // Bootstrap forms a brand-new single-node voting cluster on Start. The
    // daemon drives this from ManagementService.Init rather than a boot-time
    // flag (generalizing the teacher's Options.Bootstrap path).
    Bootstrap bool

    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    ApplyTimeout     time.Duration

    // BindAddr selects a TCP raft transport; empty selects an in-memory one
    // (used by single-process tests).
    BindAddr string

    // DataDir selects raft-boltdb + file snapshot storage; empty selects
    // in-memory stores (tests only — never durable).
    DataDir string

    SnapshotsRetained int

    // SnapshotThreshold mirrors raft.Config.SnapshotThreshold; spec.md §4.3
    // asks for a 10,000-entry trigger, so that's the default applied when
    // this is zero.
    SnapshotThreshold uint64
}
