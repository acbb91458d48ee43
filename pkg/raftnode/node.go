// Package raftnode is Disco's Consensus Engine: a thin façade around
// hashicorp/raft generalizing the teacher's pkg/consensus/raft.Node from a
// membership-only FSM to the full key-value Command FSM (pkg/raftfsm).
package raftnode

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "strconv"
    "time"

    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    "github.com/jeffmoss/disco/pkg/failure"
    "github.com/jeffmoss/disco/pkg/kvstore"
    "github.com/jeffmoss/disco/pkg/raftfsm"
    "github.com/jeffmoss/disco/pkg/transport"
)

// Node wraps a hashicorp/raft instance plus the kv store its FSM applies
// entries to.
type Node struct {
    opts  Options
    log   *log.Logger
    r     *raft.Raft
    fsm   *raftfsm.FSM
    store *kvstore.Store
    lch   chan LeaderInfo
    addr  raft.ServerAddress
}

func New(opts Options) (*Node, error) {
    if opts.NodeID == "" {
        return nil, fmt.Errorf("raftnode: empty NodeID")
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &Node{
        opts:  opts,
        log:   opts.Logger,
        store: kvstore.New(),
        lch:   make(chan LeaderInfo, 16),
    }, nil
}

// Store exposes the underlying KV map for read paths; writers must go
// through Apply so that mutations are log-replicated.
func (n *Node) Store() *kvstore.Store { return n.store }

func (n *Node) Start(ctx context.Context) error {
    if n.r != nil {
        return nil
    }

    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    if n.opts.HeartbeatTimeout > 0 {
        cfg.HeartbeatTimeout = n.opts.HeartbeatTimeout
        if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
            cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout / 2
            if cfg.LeaderLeaseTimeout == 0 {
                cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout
            }
        }
    }
    if n.opts.ElectionTimeout > 0 {
        cfg.ElectionTimeout = n.opts.ElectionTimeout
    }
    if n.opts.CommitTimeout > 0 {
        cfg.CommitTimeout = n.opts.CommitTimeout
    }
    if n.opts.SnapshotThreshold > 0 {
        cfg.SnapshotThreshold = n.opts.SnapshotThreshold
    } else {
        cfg.SnapshotThreshold = 10_000
    }

    var (
        logs   raft.LogStore
        stable raft.StableStore
        snaps  raft.SnapshotStore
        addr   raft.ServerAddress
        trans  raft.Transport
    )

    if n.opts.DataDir != "" {
        retained := n.opts.SnapshotsRetained
        if retained == 0 {
            retained = 2
        }
        if err := os.MkdirAll(n.opts.DataDir, 0o755); err != nil {
            return failure.New(failure.Durable, err)
        }
        bpath := filepath.Join(n.opts.DataDir, "raft.db")
        bstore, err := raftboltdb.NewBoltStore(bpath)
        if err != nil {
            return failure.New(failure.Durable, err)
        }
        logs = bstore
        stable = bstore
        snaps, err = raft.NewFileSnapshotStore(n.opts.DataDir, retained, os.Stderr)
        if err != nil {
            return failure.New(failure.Durable, err)
        }
    } else {
        logs = raft.NewInmemStore()
        stable = raft.NewInmemStore()
        snaps = raft.NewInmemSnapshotStore()
    }

    if n.opts.BindAddr != "" {
        nt, err := raft.NewTCPTransport(n.opts.BindAddr, nil, 3, 1*time.Second, os.Stderr)
        if err != nil {
            return err
        }
        trans = nt
        addr = nt.LocalAddr()
    } else {
        addr, trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
    }

    n.fsm = raftfsm.New(n.store, n.log)

    r, err := raft.NewRaft(cfg, n.fsm, logs, stable, snaps, trans)
    if err != nil {
        return err
    }
    n.r = r
    n.addr = addr

    obsCh := make(chan raft.Observation, 32)
    observer := raft.NewObserver(obsCh, false, func(o *raft.Observation) bool {
        _, ok := o.Data.(raft.LeaderObservation)
        return ok
    })
    n.r.RegisterObserver(observer)
    go func() {
        for range obsCh {
            if id, addr, ok := n.Leader(); ok {
                n.emitLeader(LeaderInfo{ID: id, Addr: addr, Term: n.Term()})
            }
        }
    }()

    if n.opts.Bootstrap {
        cfgs := raft.Configuration{Servers: []raft.Server{{
            ID:      cfg.LocalID,
            Address: addr,
        }}}
        if err := n.r.BootstrapCluster(cfgs).Error(); err != nil {
            return err
        }
    }

    go func() {
        <-ctx.Done()
        _ = n.Stop()
    }()
    return nil
}

// Apply proposes a command through the replicated log. Returns a Consensus
// failure wrapping failure.ErrNotLeader when this node isn't leader, per
// spec.md §7's NotLeader-hint propagation policy — callers at the RPC
// boundary turn that into ForwardToLeader.
func (n *Node) Apply(cmd raftfsm.Command, timeout time.Duration) error {
    if n.r == nil {
        return fmt.Errorf("raftnode: not started")
    }
    if n.r.State() != raft.Leader {
        id, addr, _ := n.Leader()
        return failure.NotLeader(addr + "|" + id)
    }
    data, err := json.Marshal(cmd)
    if err != nil {
        return err
    }
    t := timeout
    if t <= 0 && n.opts.ApplyTimeout > 0 {
        t = n.opts.ApplyTimeout
    }
    af := n.r.Apply(data, t)
    if err := af.Error(); err != nil {
        return err
    }
    if v := af.Response(); v != nil {
        if e, ok := v.(error); ok && e != nil {
            return e
        }
    }
    return nil
}

// VerifyLeader blocks until a round of heartbeats confirms this node is
// still leader — the read-index barrier spec.md §4.4 requires before
// serving a linearizable Get.
func (n *Node) VerifyLeader() error {
    if n.r == nil {
        return fmt.Errorf("raftnode: not started")
    }
    return n.r.VerifyLeader().Error()
}

// Get performs a linearizable read: confirm leadership via the read-index
// barrier, then read the local map (safe because the barrier confirms no
// newer leader could have committed writes we haven't applied).
func (n *Node) Get(key string) (string, bool, error) {
    if err := n.VerifyLeader(); err != nil {
        id, addr, _ := n.Leader()
        return "", false, failure.NotLeader(addr + "|" + id)
    }
    v, ok := n.store.Get(key)
    return v, ok, nil
}

// MemberCount returns the number of servers (voters and learners) in the
// current Raft configuration.
func (n *Node) MemberCount() int {
    if n.r == nil {
        return 0
    }
    cfgFuture := n.r.GetConfiguration()
    if err := cfgFuture.Error(); err != nil {
        return 0
    }
    return len(cfgFuture.Configuration().Servers)
}

func (n *Node) IsLeader() bool {
    if n.r == nil {
        return false
    }
    return n.r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    if n.r == nil {
        return "", "", false
    }
    a, sid := n.r.LeaderWithID()
    if sid == "" {
        return "", "", false
    }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    if n.r == nil {
        return 0
    }
    if v := n.r.Stats()["current_term"]; v != "" {
        if u, err := strconv.ParseUint(v, 10, 64); err == nil {
            return u
        }
    }
    return 0
}

// AppliedIndex returns last_applied_index (spec.md §3 persistent state).
func (n *Node) AppliedIndex() uint64 {
    if n.fsm == nil {
        return 0
    }
    return n.fsm.Applied()
}

func (n *Node) Stop() error {
    if n.r == nil {
        return nil
    }
    f := n.r.Shutdown()
    if err := f.Error(); err != nil {
        return err
    }
    n.r = nil
    return nil
}

func (n *Node) LeaderCh() <-chan LeaderInfo { return n.lch }

func (n *Node) emitLeader(li LeaderInfo) {
    select {
    case n.lch <- li:
    default:
    }
}

// Init bootstraps a brand-new voting configuration from nodes — the
// ManagementService.Init RPC's effect (spec.md §4.6 step 6). A no-op if
// this node already belongs to a configuration.
func (n *Node) Init(nodes []transport.NodeAddr) error {
    if n.r == nil {
        return fmt.Errorf("raftnode: not started")
    }
    if cfgFuture := n.r.GetConfiguration(); cfgFuture.Error() == nil {
        if len(cfgFuture.Configuration().Servers) > 0 {
            return nil
        }
    }
    servers := make([]raft.Server, 0, len(nodes))
    for _, nd := range nodes {
        servers = append(servers, raft.Server{ID: raft.ServerID(nd.ID), Address: raft.ServerAddress(nd.Addr)})
    }
    return n.r.BootstrapCluster(raft.Configuration{Servers: servers}).Error()
}

// AddNonvoter adds id as a Raft learner — the ManagementService.AddLearner
// RPC's effect. An InstanceHandle reaches SshReady before this call and
// Joined only after ChangeMembership (AddVoter) succeeds, per spec.md I6.
func (n *Node) AddNonvoter(id, addr string, timeout time.Duration) error {
    if n.r == nil {
        return fmt.Errorf("raftnode: not started")
    }
    f := n.r.AddNonvoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout)
    return f.Error()
}

// AddVoter promotes (or adds directly as voter) id — ManagementService's
// ChangeMembership effect. hashicorp/raft commits this as a single
// configuration-change log entry that itself requires both the old and new
// configurations to reach quorum before taking effect, which is the safety
// property spec.md's hand-rolled joint-consensus description asks for; see
// DESIGN.md for the full resolution of that Open Question.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
    if n.r == nil {
        return fmt.Errorf("raftnode: not started")
    }
    cfgFuture := n.r.GetConfiguration()
    if err := cfgFuture.Error(); err == nil {
        for _, srv := range cfgFuture.Configuration().Servers {
            if string(srv.ID) == id {
                if string(srv.Address) == addr && srv.Suffrage == raft.Voter {
                    return nil
                }
                if string(srv.Address) != addr {
                    if err := n.r.RemoveServer(srv.ID, 0, timeout).Error(); err != nil {
                        return err
                    }
                }
                break
            }
        }
    }
    return n.r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

func (n *Node) RemoveServer(id string, timeout time.Duration) error {
    if n.r == nil {
        return fmt.Errorf("raftnode: not started")
    }
    return n.r.RemoveServer(raft.ServerID(id), 0, timeout).Error()
}

var _ LeaderNotifier = (*Node)(nil)
var _ Reconfigurer = (*Node)(nil)
