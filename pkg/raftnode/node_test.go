package raftnode

import (
    "context"
    "testing"
    "time"

    "github.com/jeffmoss/disco/pkg/raftfsm"
    "github.com/jeffmoss/disco/pkg/transport"
)

func newBootstrappedNode(t *testing.T) *Node {
    t.Helper()
    n, err := New(Options{
        NodeID:            "n1",
        Bootstrap:         true,
        HeartbeatTimeout:  50 * time.Millisecond,
        ElectionTimeout:   50 * time.Millisecond,
        ApplyTimeout:      2 * time.Second,
    })
    if err != nil {
        t.Fatalf("New: %v", err)
    }
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    if err := n.Start(ctx); err != nil {
        t.Fatalf("Start: %v", err)
    }
    waitForLeader(t, n)
    return n
}

func waitForLeader(t *testing.T, n *Node) {
    t.Helper()
    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        if n.IsLeader() {
            return
        }
        time.Sleep(10 * time.Millisecond)
    }
    t.Fatalf("node never became leader")
}

func TestNode_New_RejectsEmptyNodeID(t *testing.T) {
    if _, err := New(Options{}); err == nil {
        t.Fatalf("New: expected error for empty NodeID")
    }
}

func TestNode_SingleNodeBootstrapBecomesLeader(t *testing.T) {
    n := newBootstrappedNode(t)
    defer n.Stop()

    if !n.IsLeader() {
        t.Fatalf("IsLeader() = false, want true after bootstrap")
    }
    id, addr, ok := n.Leader()
    if !ok || id != "n1" {
        t.Fatalf("Leader() = %q, %q, %v; want n1, _, true", id, addr, ok)
    }
}

func TestNode_ApplySetIsVisibleViaGet(t *testing.T) {
    n := newBootstrappedNode(t)
    defer n.Stop()

    if err := n.Apply(raftfsm.Command{Op: raftfsm.OpSet, Key: "k", Value: "v"}, 0); err != nil {
        t.Fatalf("Apply: %v", err)
    }
    v, ok, err := n.Get("k")
    if err != nil {
        t.Fatalf("Get: %v", err)
    }
    if !ok || v != "v" {
        t.Fatalf("Get(k) = %q, %v; want v, true", v, ok)
    }
}

func TestNode_AppliedIndexAdvances(t *testing.T) {
    n := newBootstrappedNode(t)
    defer n.Stop()

    before := n.AppliedIndex()
    if err := n.Apply(raftfsm.Command{Op: raftfsm.OpSet, Key: "k", Value: "v"}, 0); err != nil {
        t.Fatalf("Apply: %v", err)
    }
    if after := n.AppliedIndex(); after <= before {
        t.Fatalf("AppliedIndex() = %d, want > %d", after, before)
    }
}

func TestNode_MemberCount(t *testing.T) {
    n := newBootstrappedNode(t)
    defer n.Stop()

    if got := n.MemberCount(); got != 1 {
        t.Fatalf("MemberCount() = %d, want 1", got)
    }
}

func TestNode_ApplyBeforeStartIsAnError(t *testing.T) {
    n, err := New(Options{NodeID: "n1"})
    if err != nil {
        t.Fatalf("New: %v", err)
    }
    if err := n.Apply(raftfsm.Command{Op: raftfsm.OpSet, Key: "k", Value: "v"}, 0); err == nil {
        t.Fatalf("Apply before Start: expected error")
    }
}

func TestNode_InitIsNoopOnceConfigured(t *testing.T) {
    n := newBootstrappedNode(t)
    defer n.Stop()

    nodes := []transport.NodeAddr{{ID: "n2", Addr: "127.0.0.1:1"}}
    if err := n.Init(nodes); err != nil {
        t.Fatalf("Init on already-configured node: %v", err)
    }
}
