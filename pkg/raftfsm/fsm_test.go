package raftfsm

import (
    "encoding/json"
    "log"
    "io"
    "testing"

    "github.com/hashicorp/raft"

    "github.com/jeffmoss/disco/pkg/kvstore"
)

func newTestFSM() *FSM {
    return New(kvstore.New(), log.New(io.Discard, "", 0))
}

func applyCmd(t *testing.T, fsm *FSM, index uint64, cmd Command) interface{} {
    t.Helper()
    data, err := json.Marshal(cmd)
    if err != nil {
        t.Fatalf("marshal command: %v", err)
    }
    return fsm.Apply(&raft.Log{Index: index, Data: data})
}

func TestFSM_ApplySet(t *testing.T) {
    fsm := newTestFSM()

    if v := applyCmd(t, fsm, 1, Command{Op: OpSet, Key: "k", Value: "v"}); v != nil {
        if err, ok := v.(error); ok {
            t.Fatalf("apply set: %v", err)
        }
    }

    got, ok := fsm.store.Get("k")
    if !ok || got != "v" {
        t.Fatalf("store.Get(k) = %q, %v; want v, true", got, ok)
    }
    if fsm.Applied() != 1 {
        t.Fatalf("Applied() = %d, want 1", fsm.Applied())
    }
}

func TestFSM_ApplyDelete(t *testing.T) {
    fsm := newTestFSM()
    applyCmd(t, fsm, 1, Command{Op: OpSet, Key: "k", Value: "v"})
    applyCmd(t, fsm, 2, Command{Op: OpDelete, Key: "k"})

    if _, ok := fsm.store.Get("k"); ok {
        t.Fatalf("key k still present after delete")
    }
    if fsm.Applied() != 2 {
        t.Fatalf("Applied() = %d, want 2", fsm.Applied())
    }
}

func TestFSM_ApplyReservedOpsAreNoops(t *testing.T) {
    fsm := newTestFSM()
    for _, op := range []string{OpLeaseAcquire, OpLeaseRelease, OpDeploySetSpec} {
        if v := applyCmd(t, fsm, 1, Command{Op: op, Key: "k", Value: "v"}); v != nil {
            if err, ok := v.(error); ok {
                t.Fatalf("apply %s: %v", op, err)
            }
        }
        if _, ok := fsm.store.Get("k"); ok {
            t.Fatalf("reserved op %s mutated the store", op)
        }
    }
}

func TestFSM_ApplyUnknownOpDoesNotPanic(t *testing.T) {
    fsm := newTestFSM()
    applyCmd(t, fsm, 1, Command{Op: "Bogus.Op", Key: "k", Value: "v"})
    if _, ok := fsm.store.Get("k"); ok {
        t.Fatalf("unknown op mutated the store")
    }
}

func TestFSM_SnapshotRestore(t *testing.T) {
    fsm := newTestFSM()
    applyCmd(t, fsm, 1, Command{Op: OpSet, Key: "a", Value: "1"})
    applyCmd(t, fsm, 2, Command{Op: OpSet, Key: "b", Value: "2"})

    snap, err := fsm.Snapshot()
    if err != nil {
        t.Fatalf("Snapshot: %v", err)
    }

    sink := newMemSink()
    if err := snap.Persist(sink); err != nil {
        t.Fatalf("Persist: %v", err)
    }
    snap.Release()

    restored := newTestFSM()
    if err := restored.Restore(sink.reader()); err != nil {
        t.Fatalf("Restore: %v", err)
    }

    for k, want := range map[string]string{"a": "1", "b": "2"} {
        got, ok := restored.store.Get(k)
        if !ok || got != want {
            t.Fatalf("restored.Get(%s) = %q, %v; want %s, true", k, got, ok, want)
        }
    }
}
