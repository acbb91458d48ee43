// Package orchestrator drives the asynchronous work behind the Script
// Host's `cluster.*` bindings (spec.md §4.6): the bootstrap/scale sequence,
// idempotent on observed state, fanning out ssh_install/start_instance
// across many hosts through pkg/orchestrator/workpool, retrying
// provider calls through pkg/orchestrator/retry.
package orchestrator

import (
    "context"
    "fmt"
    "sync"

    "golang.org/x/crypto/ssh"

    "github.com/jeffmoss/disco/pkg/failure"
    "github.com/jeffmoss/disco/pkg/orchestrator/awsprovider"
    "github.com/jeffmoss/disco/pkg/orchestrator/sshprovision"
    "github.com/jeffmoss/disco/pkg/orchestrator/workpool"
    obsmetrics "github.com/jeffmoss/disco/pkg/observability/metrics"
    "github.com/jeffmoss/disco/pkg/transport"
)

// Provider is the broader host-creation trait behind `cluster.start_instance`
// /`attach_ip`, grounded on
// original_source/disco-common/src/provider/provider.rs's two-method trait
// plus the instance-polling/elastic-IP calls aws.rs doesn't separate out.
// *awsprovider.Client satisfies this.
type Provider interface {
    ImportPublicKey(ctx context.Context, keyPath, keyName string) (string, error)
    CreateHost(ctx context.Context, imageID, instanceType string) (string, error)
    WaitRunning(ctx context.Context, instanceID string) (awsprovider.InstanceInfo, error)
    AllocateAndAssociateIP(ctx context.Context, instanceID string) (string, error)
}

// Management is the subset of pkg/transport/grpc.Client's method set the
// orchestrator calls directly against a specific peer address, rather than
// through transport.ManagementService (which has no addr parameter — it's
// the server-side handler shape, not the client-dial shape).
type Management interface {
    Init(ctx context.Context, addr string, nodes []transport.NodeAddr) (transport.InitResponse, error)
    AddLearner(ctx context.Context, addr string, node transport.NodeAddr) (transport.AddLearnerResponse, error)
    ChangeMembership(ctx context.Context, addr string, membership []transport.NodeAddr) (transport.ChangeMembershipResponse, error)
    Metrics(ctx context.Context, addr string) (transport.MetricsResponse, error)
}

// Config configures a Cluster at construction (`new Cluster({name,
// provider, role, storage})`, spec.md §4.5 — construction does no I/O).
type Config struct {
    Name            string
    Provider        Provider
    Management      Management
    Installer       func() *sshprovision.Installer // fresh Installer per host; each archives LocalTree into its own cached tar
    ImageID         string
    InstanceType    string
    RemoteDirectory string
    KeyPath         string
    KeyName         string
    Concurrency     int
}

// Cluster implements pkg/scripthost.Cluster, sequencing spec.md §4.6's
// bootstrap/scale steps. Every exported method records its outcome to
// disco_orchestrator_steps_total.
type Cluster struct {
    cfg Config

    mu          sync.Mutex
    nodes       []transport.NodeAddr // known cluster membership, tracked as scale grows it
    nextID      uint64
    primary     string // management addr of the first node
    publicIPs   []string
    instanceIDs []string // parallel to publicIPs; AttachIP needs the instance ID, not the IP
    signer      ssh.Signer
}

// New constructs a Cluster. Matches pkg/scripthost.ClusterFactory.
func New(cfg Config) (*Cluster, error) {
    if cfg.Concurrency <= 0 {
        cfg.Concurrency = 4
    }
    return &Cluster{cfg: cfg, nextID: 1}, nil
}

func (c *Cluster) step(name string, err error) error {
    outcome := "ok"
    if err != nil {
        outcome = "error"
    }
    obsmetrics.OrchestratorSteps.WithLabelValues(name, outcome).Inc()
    return err
}

// Healthy probes the primary's Metrics RPC for a reachable leader holding
// quorum over the known membership (`cluster.healthy()`). A node reporting
// Follower or a Leader short of a majority of the last known membership size
// is not healthy — this is also what keeps a freshly launched, never-Init'd
// primary from reading as healthy before the Init step below runs.
func (c *Cluster) Healthy(ctx context.Context) (bool, error) {
    c.mu.Lock()
    primary := c.primary
    target := len(c.nodes)
    c.mu.Unlock()
    if primary == "" {
        c.step("healthy", nil)
        return false, nil
    }
    m, err := c.cfg.Management.Metrics(ctx, primary)
    if err != nil {
        return false, c.step("healthy", err)
    }
    majority := target/2 + 1
    healthy := m.Role == "Leader" && m.MemberCount >= majority
    return healthy, c.step("healthy", nil)
}

// SetKeyPair parses the SSH private key and imports the public key into the
// provider (`cluster.set_key_pair`). The parsed Signer is cached on the
// Cluster so SSHInstall/Scale can authenticate against the hosts they bring
// up; nothing else in the module ever sees the raw key material.
func (c *Cluster) SetKeyPair(ctx context.Context, private, public string) error {
    signer, err := ssh.ParsePrivateKey([]byte(private))
    if err != nil {
        return c.step("set_key_pair", failure.Newf(failure.Usage, "orchestrator: parse private key: %v", err))
    }
    c.mu.Lock()
    c.signer = signer
    c.mu.Unlock()
    _, err = c.cfg.Provider.ImportPublicKey(ctx, c.cfg.KeyPath, c.cfg.KeyName)
    return c.step("set_key_pair", err)
}

// installer returns a fresh Installer with the cluster's SSH signer attached.
func (c *Cluster) installer() *sshprovision.Installer {
    inst := c.cfg.Installer()
    c.mu.Lock()
    inst.Signer = c.signer
    c.mu.Unlock()
    return inst
}

// StartInstance launches the primary instance and blocks until Running
// (`cluster.start_instance`).
func (c *Cluster) StartInstance(ctx context.Context, image, instanceType string) error {
    if image == "" {
        image = c.cfg.ImageID
    }
    if instanceType == "" {
        instanceType = c.cfg.InstanceType
    }
    id, err := c.cfg.Provider.CreateHost(ctx, image, instanceType)
    if err != nil {
        return c.step("start_instance", err)
    }
    info, err := c.cfg.Provider.WaitRunning(ctx, id)
    if err != nil {
        return c.step("start_instance", err)
    }
    c.mu.Lock()
    c.publicIPs = append(c.publicIPs, info.PublicIP)
    c.instanceIDs = append(c.instanceIDs, id)
    c.mu.Unlock()
    return c.step("start_instance", nil)
}

// AttachIP allocates and associates an elastic IP with the primary instance
// (`cluster.attach_ip`).
func (c *Cluster) AttachIP(ctx context.Context) error {
    c.mu.Lock()
    if len(c.instanceIDs) == 0 {
        c.mu.Unlock()
        return c.step("attach_ip", fmt.Errorf("orchestrator: no instance to attach an IP to"))
    }
    instanceID := c.instanceIDs[len(c.instanceIDs)-1]
    c.mu.Unlock()
    _, err := c.cfg.Provider.AllocateAndAssociateIP(ctx, instanceID)
    return c.step("attach_ip", err)
}

// SSHInstall installs discod onto the most recently started host
// (`cluster.ssh_install`): create user/group, copy certs, install binary,
// write config, start service (spec.md §4.6 step 5), run as the post-install
// command list after the tar-stream transfer completes. When this is the
// primary's first install, it then runs step 6 (ManagementService/Init)
// automatically, since Init is not one of the script-visible `cluster.*`
// bindings and bootstrap has no other hook to call it from.
func (c *Cluster) SSHInstall(ctx context.Context) error {
    c.mu.Lock()
    if len(c.publicIPs) == 0 {
        c.mu.Unlock()
        return c.step("ssh_install", fmt.Errorf("orchestrator: no host to install onto"))
    }
    host := c.publicIPs[len(c.publicIPs)-1]
    isPrimary := c.primary == ""
    c.mu.Unlock()
    inst := c.installer()
    if err := inst.InstallToHost(ctx, host, c.postInstallCommands()); err != nil {
        return c.step("ssh_install", err)
    }
    if isPrimary {
        if err := c.Init(ctx, host); err != nil {
            return c.step("ssh_install", err)
        }
    }
    return c.step("ssh_install", nil)
}

// postInstallCommands is run over the same SSH connection after the
// archived tree lands, mirroring installer.rs's subsequent
// run_command/run_command_with_input calls.
func (c *Cluster) postInstallCommands() []string {
    dir := c.cfg.RemoteDirectory
    return []string{
        fmt.Sprintf("id -u disco &>/dev/null || useradd -r -d %s disco", dir),
        fmt.Sprintf("chown -R disco:disco %s", dir),
        fmt.Sprintf("systemctl enable --now disco-discod || (cd %s && ./discod --data-dir=%s/data &)", dir, dir),
    }
}

// Scale grows the known voting membership to n nodes (spec.md §4.6 step 7):
// for every node short of n, launch, wait Running, ssh_install, AddLearner,
// then ChangeMembership to promote to voter. A call observing membership
// already at or above n is a no-op; Scale never removes members, so a
// membership larger than n stays as it is.
func (c *Cluster) Scale(ctx context.Context, n int) error {
    c.mu.Lock()
    have := len(c.nodes)
    c.mu.Unlock()
    if have >= n {
        return c.step("scale", nil)
    }

    pool := workpool.New(c.cfg.Concurrency)
    for i := have; i < n; i++ {
        pool.Submit(ctx, func(ctx context.Context) error {
            return c.addOneVoter(ctx)
        })
    }
    errs := pool.Wait()
    if len(errs) > 0 {
        return c.step("scale", failure.Newf(failure.Transient, "scale to %d: %d of %d new nodes failed: %v", n, len(errs), n-have, errs[0]))
    }
    return c.step("scale", nil)
}

func (c *Cluster) addOneVoter(ctx context.Context) error {
    id, err := c.cfg.Provider.CreateHost(ctx, c.cfg.ImageID, c.cfg.InstanceType)
    if err != nil {
        return err
    }
    info, err := c.cfg.Provider.WaitRunning(ctx, id)
    if err != nil {
        return err
    }
    inst := c.installer()
    if err := inst.InstallToHost(ctx, info.PublicIP, c.postInstallCommands()); err != nil {
        return err
    }
    return c.promoteVoter(ctx, info.PublicIP)
}

// promoteVoter adds addr as a learner, then promotes it to a voter via
// ChangeMembership. addr is only recorded in c.nodes once that promotion is
// confirmed — spec.md §4.6's partial-failure recovery means the next Scale
// call must still see this slot as unfilled if ChangeMembership fails, so it
// retries instead of silently under-counting forever.
func (c *Cluster) promoteVoter(ctx context.Context, addr string) error {
    c.mu.Lock()
    nodeID := c.nextID
    c.nextID++
    primary := c.primary
    existing := append([]transport.NodeAddr(nil), c.nodes...)
    c.mu.Unlock()

    node := transport.NodeAddr{ID: fmt.Sprintf("%d", nodeID), Addr: addr}
    learnerResp, err := c.cfg.Management.AddLearner(ctx, primary, node)
    if err != nil {
        return err
    }
    if learnerResp.Error != "" {
        return fmt.Errorf("orchestrator: AddLearner rejected: %s", learnerResp.Error)
    }

    membership := append(existing, node)
    changeResp, err := c.cfg.Management.ChangeMembership(ctx, primary, membership)
    if err != nil {
        return err
    }
    if changeResp.Error != "" {
        return fmt.Errorf("orchestrator: ChangeMembership rejected: %s", changeResp.Error)
    }

    c.mu.Lock()
    c.nodes = append(c.nodes, node)
    c.mu.Unlock()
    return nil
}

// Init calls ManagementService.Init on the primary with the single-node
// membership (spec.md §4.6 step 6). Not itself one of the script-visible
// `cluster.*` bindings; SSHInstall calls it automatically once the primary's
// install succeeds, so a fresh bootstrap always leaves the primary with a
// committed single-node Raft configuration rather than waiting on scale.
func (c *Cluster) Init(ctx context.Context, addr string) error {
    node := transport.NodeAddr{ID: "1", Addr: addr}
    resp, err := c.cfg.Management.Init(ctx, addr, []transport.NodeAddr{node})
    if err != nil {
        return c.step("init", err)
    }
    if !resp.Accepted {
        return c.step("init", fmt.Errorf("orchestrator: Init rejected: %s", resp.Error))
    }
    c.mu.Lock()
    c.primary = addr
    c.nodes = []transport.NodeAddr{node}
    c.mu.Unlock()
    return c.step("init", nil)
}
