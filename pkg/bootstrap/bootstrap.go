// Package bootstrap assembles one discod process: the Consensus Engine
// (pkg/raftnode), the mTLS Transport (pkg/transport/grpc), and the Script
// Host (pkg/scripthost) that runs cluster.js's leader() hook whenever this
// node becomes leader — generalizing the teacher's pkg/bootstrap.Build/Run
// wiring helper from a single cluster.Cluster assembly to Disco's node
// daemon shape.
package bootstrap

import (
    "context"
    "crypto/tls"
    "fmt"
    "log"
    "net"
    "strconv"
    "time"

    "github.com/google/uuid"

    "github.com/jeffmoss/disco/pkg/failure"
    obsmetrics "github.com/jeffmoss/disco/pkg/observability/metrics"
    "github.com/jeffmoss/disco/pkg/orchestrator"
    "github.com/jeffmoss/disco/pkg/orchestrator/awsprovider"
    "github.com/jeffmoss/disco/pkg/orchestrator/sshprovision"
    "github.com/jeffmoss/disco/pkg/raftfsm"
    "github.com/jeffmoss/disco/pkg/raftnode"
    "github.com/jeffmoss/disco/pkg/scripthost"
    tlsx "github.com/jeffmoss/disco/pkg/security/tlsconfig"
    "github.com/jeffmoss/disco/pkg/transport"
    mgmtgrpc "github.com/jeffmoss/disco/pkg/transport/grpc"
)

// Config defines discod's fixed flag surface (spec.md §6/SPEC_FULL.md §7)
// plus the bootstrap-time orchestrator settings a script's `new
// Cluster(...)` call can't itself carry.
type Config struct {
    NodeID string
    Addr   string // ManagementService/AppService bind (host:port); raftnode's
    // own peer transport binds the same host on Addr's port+1 — hashicorp/raft
    // speaks its own wire protocol and cannot share a listener with gRPC, and
    // spec.md's single --addr flag leaves no second flag to carry a distinct
    // raft port (see DESIGN.md's Open Question resolution).

    CACert     string
    ServerCert string
    ServerKey  string
    ClientCert string
    ClientKey  string

    DataDir string

    ModulePath      string // cluster.js; empty disables the Script Host
    AWSRegion       string
    AWSProfile      string
    ImageID         string
    InstanceType    string
    RemoteDirectory string
    KeyPath         string
    KeyName         string
    SSHUsername     string
    LocalTree       string
    Concurrency     int

    Logger *log.Logger
}

// Daemon is one running discod process.
type Daemon struct {
    cfg    Config
    log    *log.Logger
    node   *raftnode.Node
    server *mgmtgrpc.Server
    client *mgmtgrpc.Client
    host   *scripthost.Host
}

// Build wires a Daemon without starting it.
func Build(cfg Config) (*Daemon, error) {
    if cfg.NodeID == "" {
        return nil, failure.Newf(failure.Usage, "bootstrap: --id is required")
    }
    if cfg.Addr == "" {
        return nil, failure.Newf(failure.Usage, "bootstrap: --addr is required")
    }
    if cfg.Logger == nil {
        cfg.Logger = log.Default()
    }

    raftAddr, err := derivedRaftAddr(cfg.Addr)
    if err != nil {
        return nil, failure.New(failure.Usage, err)
    }

    node, err := raftnode.New(raftnode.Options{
        NodeID:   cfg.NodeID,
        Logger:   cfg.Logger,
        BindAddr: raftAddr,
        DataDir:  cfg.DataDir,
    })
    if err != nil {
        return nil, failure.New(failure.Durable, err)
    }

    serverTLS, clientTLS, err := buildTLS(cfg)
    if err != nil {
        return nil, failure.New(failure.Auth, err)
    }

    server := mgmtgrpc.NewServer(cfg.Addr)
    if serverTLS != nil {
        server.UseTLS(serverTLS)
    }
    client := mgmtgrpc.NewClient(3 * time.Second)
    if clientTLS != nil {
        client.UseTLS(clientTLS)
    }

    d := &Daemon{cfg: cfg, log: cfg.Logger, node: node, server: server, client: client}

    if cfg.ModulePath != "" {
        host, err := buildScriptHost(cfg, node, client)
        if err != nil {
            return nil, err
        }
        d.host = host
    }

    return d, nil
}

// buildTLS constructs hot-reloading server/client TLS configs from Disco's
// five cert flags, mirroring the teacher's bootstrap.Build TLS wiring
// (pkg/security/tlsconfig's Options.ServerHotReload/ClientHotReload).
func buildTLS(cfg Config) (server, client *tls.Config, err error) {
    serverOpts := tlsx.Options{
        Enable:   true,
        CAFile:   cfg.CACert,
        CertFile: cfg.ServerCert,
        KeyFile:  cfg.ServerKey,
    }
    server, err = serverOpts.ServerHotReload()
    if err != nil {
        return nil, nil, fmt.Errorf("bootstrap: server tls: %w", err)
    }
    clientOpts := tlsx.Options{
        Enable:   true,
        CAFile:   cfg.CACert,
        CertFile: cfg.ClientCert,
        KeyFile:  cfg.ClientKey,
    }
    client, err = clientOpts.ClientHotReload()
    if err != nil {
        return nil, nil, fmt.Errorf("bootstrap: client tls: %w", err)
    }
    return server, client, nil
}

// buildScriptHost wires pkg/scripthost against this node's KV store (for
// `disco.key(k).on("change", ...)`) and the AWS/orchestrator factories cluster.js
// uses to drive bootstrap/scale (spec.md §4.5/§4.6).
func buildScriptHost(cfg Config, node *raftnode.Node, client *mgmtgrpc.Client) (*scripthost.Host, error) {
    installer := func() *sshprovision.Installer {
        return &sshprovision.Installer{
            Username:        cfg.SSHUsername,
            RemoteDirectory: cfg.RemoteDirectory,
            LocalTree:       cfg.LocalTree,
        }
    }
    factory := orchestrator.Factory{
        Management:      client,
        InstallerFn:     installer,
        ImageID:         cfg.ImageID,
        InstanceType:    cfg.InstanceType,
        RemoteDirectory: cfg.RemoteDirectory,
        KeyPath:         cfg.KeyPath,
        KeyName:         cfg.KeyName,
        Concurrency:     cfg.Concurrency,
    }
    return scripthost.New(scripthost.Deps{
        Providers: awsprovider.Factory{},
        Clusters:  factory,
        KV:        node.Store(),
        Stdout:    logWriter{cfg.Logger},
        Logger:    cfg.Logger,
    }), nil
}

type logWriter struct{ l *log.Logger }

func (w logWriter) Write(p []byte) (int, error) {
    w.l.Print(string(p))
    return len(p), nil
}

// handlers binds pkg/transport/grpc's service callbacks to the Consensus
// Engine, generalizing the teacher's cluster.go RPC dispatch to Disco's
// ManagementService + AppService surface (spec.md §6).
func (d *Daemon) handlers() mgmtgrpc.Handlers {
    return mgmtgrpc.Handlers{
        Init: func(ctx context.Context, nodes []transport.NodeAddr) (transport.InitResponse, error) {
            if err := d.node.Init(nodes); err != nil {
                return transport.InitResponse{Error: err.Error()}, nil
            }
            return transport.InitResponse{Accepted: true}, nil
        },
        AddLearner: func(ctx context.Context, node transport.NodeAddr) (transport.AddLearnerResponse, error) {
            if err := d.node.AddNonvoter(node.ID, node.Addr, 10*time.Second); err != nil {
                return transport.AddLearnerResponse{Error: err.Error()}, nil
            }
            return transport.AddLearnerResponse{Accepted: true}, nil
        },
        ChangeMembership: func(ctx context.Context, membership []transport.NodeAddr) (transport.ChangeMembershipResponse, error) {
            for _, n := range membership {
                if err := d.node.AddVoter(n.ID, n.Addr, 10*time.Second); err != nil {
                    return transport.ChangeMembershipResponse{Error: err.Error()}, nil
                }
            }
            return transport.ChangeMembershipResponse{Accepted: true}, nil
        },
        Metrics: func(ctx context.Context) (transport.MetricsResponse, error) {
            role := "Follower"
            if d.node.IsLeader() {
                role = "Leader"
            }
            return transport.MetricsResponse{
                Role:        role,
                Term:        d.node.Term(),
                AppliedIdx:  d.node.AppliedIndex(),
                MemberCount: d.node.MemberCount(),
            }, nil
        },
        Set: func(ctx context.Context, key, value string) (transport.SetResponse, error) {
            if err := d.node.Apply(raftfsm.Command{Op: raftfsm.OpSet, Key: key, Value: value}, 5*time.Second); err != nil {
                resp := transport.SetResponse{Error: err.Error()}
                if failure.KindOf(err) == failure.Consensus {
                    resp.Hint = hintOf(err)
                }
                return resp, err
            }
            return transport.SetResponse{}, nil
        },
        Get: func(ctx context.Context, key string) (transport.GetResponse, error) {
            v, ok, err := d.node.Get(key)
            if err != nil {
                resp := transport.GetResponse{Error: err.Error()}
                if failure.KindOf(err) == failure.Consensus {
                    resp.Hint = hintOf(err)
                }
                return resp, err
            }
            return transport.GetResponse{Value: v, Found: ok}, nil
        },
        Delete: func(ctx context.Context, key string) (transport.DeleteResponse, error) {
            if err := d.node.Apply(raftfsm.Command{Op: raftfsm.OpDelete, Key: key}, 5*time.Second); err != nil {
                resp := transport.DeleteResponse{Error: err.Error()}
                if failure.KindOf(err) == failure.Consensus {
                    resp.Hint = hintOf(err)
                }
                return resp, err
            }
            return transport.DeleteResponse{}, nil
        },
        ForwardToLeader: func(ctx context.Context, req transport.ForwardRequest) (transport.ForwardResponse, error) {
            var err error
            switch req.Op {
            case "Set":
                err = d.node.Apply(raftfsm.Command{Op: raftfsm.OpSet, Key: req.Key, Value: req.Value}, 5*time.Second)
            case "Delete":
                err = d.node.Apply(raftfsm.Command{Op: raftfsm.OpDelete, Key: req.Key}, 5*time.Second)
            default:
                err = fmt.Errorf("bootstrap: unknown forwarded op %q", req.Op)
            }
            if err != nil {
                return transport.ForwardResponse{Error: err.Error()}, err
            }
            return transport.ForwardResponse{}, nil
        },
        Watch: func(ctx context.Context, key string, send func(transport.WatchEvent) error) error {
            subID := uuid.NewString()
            d.log.Printf("watch %s: subscribed to key %q", subID, key)
            stop := make(chan struct{})
            defer close(stop)
            defer d.log.Printf("watch %s: unsubscribed from key %q", subID, key)
            obsmetrics.KVWatchSubs.Inc()
            defer obsmetrics.KVWatchSubs.Dec()
            ch := d.node.Store().Watch(key, stop)
            for {
                select {
                case <-ctx.Done():
                    return ctx.Err()
                case c, ok := <-ch:
                    if !ok {
                        return nil
                    }
                    if err := send(transport.WatchEvent{Value: c.Value, Deleted: c.Deleted, Index: c.Index}); err != nil {
                        return err
                    }
                }
            }
        },
    }
}

func hintOf(err error) string {
    if fe, ok := err.(*failure.Error); ok {
        return fe.Hint
    }
    return ""
}

// Start starts the Consensus Engine, the mTLS Transport, the Script Host (if
// configured), and the leader-change watcher that invokes cluster.js's
// leader() hook.
func (d *Daemon) Start(ctx context.Context) error {
    obsmetrics.Register()

    if err := d.node.Start(ctx); err != nil {
        return failure.New(failure.Durable, err)
    }
    if err := d.server.Start(ctx, d.handlers()); err != nil {
        return failure.New(failure.Transient, err)
    }
    if d.host != nil {
        d.host.Start(ctx)
        if _, err := d.host.RunModule(ctx, d.cfg.ModulePath, "init"); err != nil {
            d.log.Printf("bootstrap: cluster.js init() error: %v", err)
        }
    }

    go d.watchLeadership(ctx)
    go d.reportMetrics(ctx)
    return nil
}

// watchLeadership invokes cluster.js's leader entry point with this node's ID
// as its only argument (no cluster object is passed) whenever this node is
// observed becoming leader (original_source's
// monitor_leader_election / engine.callback("leader", ...)).
func (d *Daemon) watchLeadership(ctx context.Context) {
    for {
        select {
        case <-ctx.Done():
            return
        case li, ok := <-d.node.LeaderCh():
            if !ok {
                return
            }
            obsmetrics.RaftLeaderChanges.Inc()
            if li.ID != d.cfg.NodeID || d.host == nil {
                continue
            }
            if _, err := d.host.RunModule(ctx, d.cfg.ModulePath, "leader", d.cfg.NodeID); err != nil {
                d.log.Printf("bootstrap: cluster.js leader() error: %v", err)
            }
        }
    }
}

func (d *Daemon) reportMetrics(ctx context.Context) {
    t := time.NewTicker(2 * time.Second)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            if d.node.IsLeader() {
                obsmetrics.RaftIsLeader.Set(1)
            } else {
                obsmetrics.RaftIsLeader.Set(0)
            }
            obsmetrics.RaftTerm.Set(float64(d.node.Term()))
            obsmetrics.RaftMembers.Set(float64(d.node.MemberCount()))
        }
    }
}

// Close stops the Script Host, the Transport, and the Consensus Engine.
func (d *Daemon) Close() error {
    if d.host != nil {
        d.host.Stop()
    }
    _ = d.server.Stop(context.Background())
    return d.node.Stop()
}

// Run builds and starts a Daemon.
func Run(ctx context.Context, cfg Config) (*Daemon, error) {
    d, err := Build(cfg)
    if err != nil {
        return nil, err
    }
    if err := d.Start(ctx); err != nil {
        return nil, err
    }
    return d, nil
}

func derivedRaftAddr(addr string) (string, error) {
    host, portStr, err := net.SplitHostPort(addr)
    if err != nil {
        return "", fmt.Errorf("parse --addr %q: %w", addr, err)
    }
    port, err := strconv.Atoi(portStr)
    if err != nil {
        return "", fmt.Errorf("parse --addr port %q: %w", portStr, err)
    }
    return net.JoinHostPort(host, strconv.Itoa(port+1)), nil
}
