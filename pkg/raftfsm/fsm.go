// Package raftfsm bridges hashicorp/raft's FSM interface to Disco's
// key-value state machine, generalizing the teacher's membership-only FSM
// (pkg/consensus/raft/fsm.go) to the full Command set spec.md §3 defines.
package raftfsm

import (
    "encoding/json"
    "io"
    "log"
    "sync/atomic"
    "time"

    "github.com/hashicorp/raft"

    "github.com/jeffmoss/disco/pkg/kvstore"
)

// Command is the state-machine payload carried in every Raft log entry that
// isn't a membership change. Op selects the mutation; Key/Value are used by
// Set/Delete. The reserved Lease.*/Deploy.* ops are accepted and no-op'd
// (see DESIGN.md) rather than rejected, so a mixed-version cluster that
// proposes one doesn't stall on an "unknown op" error.
type Command struct {
    Op    string `json:"op"`
    Key   string `json:"key,omitempty"`
    Value string `json:"value,omitempty"`
}

const (
    OpSet           = "Set"
    OpDelete        = "Delete"
    OpLeaseAcquire  = "Lease.Acquire"
    OpLeaseRelease  = "Lease.Release"
    OpDeploySetSpec = "Deploy.SetSpec"
)

// FSM implements raft.FSM over a kvstore.Store.
type FSM struct {
    store    *kvstore.Store
    applied  atomic.Uint64
    log      *log.Logger
}

func New(store *kvstore.Store, logger *log.Logger) *FSM {
    if logger == nil {
        logger = log.Default()
    }
    return &FSM{store: store, log: logger}
}

// Applied returns last_applied_index, stored as each Apply returns (also for
// an entry whose payload fails to decode). It is held in memory only and is
// not persisted.
func (f *FSM) Applied() uint64 { return f.applied.Load() }

func (f *FSM) Apply(l *raft.Log) interface{} {
    defer f.applied.Store(l.Index)

    var cmd Command
    if err := json.Unmarshal(l.Data, &cmd); err != nil {
        return err
    }
    switch cmd.Op {
    case OpSet:
        f.store.Set(cmd.Key, cmd.Value, l.Index)
        return nil
    case OpDelete:
        f.store.Delete(cmd.Key, l.Index)
        return nil
    case OpLeaseAcquire, OpLeaseRelease, OpDeploySetSpec:
        // Reserved for extension; accepted so proposing one never blocks
        // the log, but there is no lease/deployment-spec state yet.
        return nil
    default:
        f.log.Printf("raftfsm: unknown command op %q at index %d", cmd.Op, l.Index)
        return nil
    }
}

// Snapshot serializes the kv map only. Raft persists the membership
// configuration alongside the FSM snapshot in its own metadata, so the
// {index, term, membership, kv_map} tuple spec.md §3 describes is split
// between raft's snapshot meta (index, term, membership) and this blob
// (kv_map) rather than duplicated here.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.store.Snapshot()
    if err != nil {
        return nil, err
    }
    return &fsmSnapshot{blob: blob, at: time.Now()}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    data, err := io.ReadAll(rc)
    if err != nil {
        return err
    }
    return f.store.Restore(data)
}

type fsmSnapshot struct {
    blob []byte
    at   time.Time
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s.blob); err != nil {
        _ = sink.Cancel()
        return err
    }
    return sink.Close()
}

func (s *fsmSnapshot) Release() {}

var _ raft.FSM = (*FSM)(nil)
