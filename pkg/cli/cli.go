// Package cli implements the disco CLI's subcommands: bootstrap, status,
// scale, and kv get/set/watch — generalizing the teacher's
// run/status/join/leave cobra set (pkg/cli/cli.go) from a single-binary
// cluster node runner to a client-side control tool that drives a running
// discod cluster over mTLS gRPC and, for bootstrap/scale, a client.js
// Script Host module.
package cli

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/jeffmoss/disco/pkg/config"
    "github.com/jeffmoss/disco/pkg/orchestrator"
    "github.com/jeffmoss/disco/pkg/orchestrator/awsprovider"
    "github.com/jeffmoss/disco/pkg/orchestrator/sshprovision"
    "github.com/jeffmoss/disco/pkg/scripthost"
    tlsx "github.com/jeffmoss/disco/pkg/security/tlsconfig"
    "github.com/jeffmoss/disco/pkg/transport"
    mgmtgrpc "github.com/jeffmoss/disco/pkg/transport/grpc"
)

// AddAll attaches disco's subcommands (bootstrap/status/scale/kv) to root.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewBootstrapCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewScaleCmd())
    root.AddCommand(NewKVCmd())
}

// clientFlags holds the --addr/--*-cert surface shared by every subcommand,
// defaulted from DISCO_ADDR/DISCO_*_CERT via pkg/config (spec.md §7).
type clientFlags struct {
    addr                             string
    caCert, clientCert, clientKey    string
    insecureSkipVerify               bool
    timeout                          time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
    cfg, _ := config.Load("")
    cmd.Flags().StringVar(&f.addr, "addr", cfg.String("DISCO_ADDR", "127.0.0.1:7420"), "node management/app address (host:port)")
    cmd.Flags().StringVar(&f.caCert, "ca-cert", cfg.String("DISCO_CA_CERT", ""), "path to CA cert (PEM)")
    cmd.Flags().StringVar(&f.clientCert, "client-cert", cfg.String("DISCO_CLIENT_CERT", ""), "path to client certificate (PEM)")
    cmd.Flags().StringVar(&f.clientKey, "client-key", cfg.String("DISCO_CLIENT_KEY", ""), "path to client private key (PEM)")
    cmd.Flags().BoolVar(&f.insecureSkipVerify, "insecure-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Second, "request timeout")
}

// newClient builds an mTLS-dialing transport/grpc.Client from f, or a plain
// client if no certs are configured (local dev against an insecure node).
func (f *clientFlags) newClient() (*mgmtgrpc.Client, error) {
    client := mgmtgrpc.NewClient(f.timeout)
    if f.caCert == "" && f.clientCert == "" {
        return client, nil
    }
    tlsCfg, err := (tlsx.Options{
        Enable:             true,
        CAFile:             f.caCert,
        CertFile:           f.clientCert,
        KeyFile:            f.clientKey,
        InsecureSkipVerify: f.insecureSkipVerify,
    }).Client()
    if err != nil {
        return nil, fmt.Errorf("tls client config: %w", err)
    }
    client.UseTLS(tlsCfg)
    return client, nil
}

// NewBootstrapCmd returns the "bootstrap" command: loads client.js and runs
// its `bootstrap` export, which drives a fresh cluster through spec.md
// §4.6's provision/install/init/scale sequence via the same `cluster.*`
// bindings a node's cluster.js uses.
func NewBootstrapCmd() *cobra.Command {
    var f clientFlags
    var (
        modulePath, imageID, instanceType, remoteDir, keyPath, keyName, sshUser, localTree string
        concurrency                                                                        int
    )
    cmd := &cobra.Command{
        Use:   "bootstrap",
        Short: "Run client.js's bootstrap() to stand up a new cluster",
        RunE: func(cmd *cobra.Command, args []string) error {
            if modulePath == "" {
                return fmt.Errorf("missing --module")
            }
            ctx, cancel := signalContext()
            defer cancel()

            client, err := f.newClient()
            if err != nil {
                return err
            }
            installer := func() *sshprovision.Installer {
                return &sshprovision.Installer{Username: sshUser, RemoteDirectory: remoteDir, LocalTree: localTree}
            }
            factory := orchestrator.Factory{
                Management:      client,
                InstallerFn:     installer,
                ImageID:         imageID,
                InstanceType:    instanceType,
                RemoteDirectory: remoteDir,
                KeyPath:         keyPath,
                KeyName:         keyName,
                Concurrency:     concurrency,
            }
            host := scripthost.New(scripthost.Deps{
                Providers: awsprovider.Factory{},
                Clusters:  factory,
                Stdout:    os.Stdout,
            })
            host.Start(ctx)
            defer host.Stop()

            if _, err := host.RunModule(ctx, modulePath, "bootstrap"); err != nil {
                return fmt.Errorf("bootstrap: %w", err)
            }
            return nil
        },
    }
    f.register(cmd)
    cmd.Flags().StringVar(&modulePath, "module", "client.js", "path to the client.js automation module")
    cmd.Flags().StringVar(&imageID, "image-id", "", "AMI id for new instances")
    cmd.Flags().StringVar(&instanceType, "instance-type", "t4g.micro", "EC2 instance type for new instances")
    cmd.Flags().StringVar(&remoteDir, "remote-dir", "/home/disco/disco", "remote install directory")
    cmd.Flags().StringVar(&keyPath, "key-path", "", "path to the SSH public key to import")
    cmd.Flags().StringVar(&keyName, "key-name", "disco", "EC2 key pair name")
    cmd.Flags().StringVar(&sshUser, "ssh-user", "ec2-user", "SSH username used for installation")
    cmd.Flags().StringVar(&localTree, "local-tree", "", "local directory tree to install onto each host")
    cmd.Flags().IntVar(&concurrency, "concurrency", 4, "max instances provisioned concurrently during scale")
    return cmd
}

// NewStatusCmd returns the "status" command, printing a node's Metrics RPC
// response as one line of key=value fields (spec.md §6).
func NewStatusCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch a node's consensus status",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.newClient()
            if err != nil {
                return err
            }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            resp, err := client.Metrics(ctx, f.addr)
            if err != nil {
                return fmt.Errorf("status: %w", err)
            }
            fmt.Printf("role=%s term=%d appliedIndex=%d members=%d\n", resp.Role, resp.Term, resp.AppliedIdx, resp.MemberCount)
            return nil
        },
    }
    f.register(cmd)
    return cmd
}

// NewScaleCmd returns the "scale" command: loads client.js and invokes its
// `scale` export with n, which reaches `cluster.scale(n)` (spec.md §4.6 step
// 7). A module with no `scale` export is not an error: the command then runs
// nothing and exits successfully.
func NewScaleCmd() *cobra.Command {
    var f clientFlags
    var (
        modulePath, imageID, instanceType, remoteDir, keyPath, keyName, sshUser, localTree string
        concurrency                                                                        int
    )
    cmd := &cobra.Command{
        Use:   "scale <n>",
        Short: "Scale the cluster to n voting members",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            var n int
            if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
                return fmt.Errorf("scale: invalid target size %q", args[0])
            }
            ctx, cancel := signalContext()
            defer cancel()
            client, err := f.newClient()
            if err != nil {
                return err
            }
            installer := func() *sshprovision.Installer {
                return &sshprovision.Installer{Username: sshUser, RemoteDirectory: remoteDir, LocalTree: localTree}
            }
            factory := orchestrator.Factory{
                Management:      client,
                InstallerFn:     installer,
                ImageID:         imageID,
                InstanceType:    instanceType,
                RemoteDirectory: remoteDir,
                KeyPath:         keyPath,
                KeyName:         keyName,
                Concurrency:     concurrency,
            }
            host := scripthost.New(scripthost.Deps{
                Providers: awsprovider.Factory{},
                Clusters:  factory,
                Stdout:    os.Stdout,
            })
            host.Start(ctx)
            defer host.Stop()
            if _, err := host.RunModule(ctx, modulePath, "scale", n); err != nil {
                return fmt.Errorf("scale: %w", err)
            }
            return nil
        },
    }
    f.register(cmd)
    cmd.Flags().StringVar(&modulePath, "module", "client.js", "path to the client.js automation module")
    cmd.Flags().StringVar(&imageID, "image-id", "", "AMI id for new instances")
    cmd.Flags().StringVar(&instanceType, "instance-type", "t4g.micro", "EC2 instance type for new instances")
    cmd.Flags().StringVar(&remoteDir, "remote-dir", "/home/disco/disco", "remote install directory")
    cmd.Flags().StringVar(&keyPath, "key-path", "", "path to the SSH public key to import")
    cmd.Flags().StringVar(&keyName, "key-name", "disco", "EC2 key pair name")
    cmd.Flags().StringVar(&sshUser, "ssh-user", "ec2-user", "SSH username used for installation")
    cmd.Flags().StringVar(&localTree, "local-tree", "", "local directory tree to install onto each host")
    cmd.Flags().IntVar(&concurrency, "concurrency", 4, "max instances provisioned concurrently during scale")
    return cmd
}

// NewKVCmd returns the "kv" parent command with get/set/watch children,
// talking directly to AppService (spec.md §6).
func NewKVCmd() *cobra.Command {
    var f clientFlags
    parent := &cobra.Command{Use: "kv", Short: "Read and write cluster key/value state"}
    f.register(parent)

    getCmd := &cobra.Command{
        Use:  "get <key>",
        Args: cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.newClient()
            if err != nil {
                return err
            }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            addr := f.addr
            var resp transport.GetResponse
            for attempt := 0; attempt <= notLeaderRetries; attempt++ {
                resp, err = client.Get(ctx, addr, args[0])
                if err != nil {
                    return fmt.Errorf("kv get: %w", err)
                }
                hint := leaderHintAddr(resp.Hint)
                if resp.Error == "" || hint == "" {
                    break
                }
                addr = hint
            }
            if resp.Error != "" {
                return fmt.Errorf("kv get: %s", resp.Error)
            }
            if !resp.Found {
                return fmt.Errorf("kv get: key %q not found", args[0])
            }
            fmt.Println(resp.Value)
            return nil
        },
    }

    setCmd := &cobra.Command{
        Use:  "set <key> <value>",
        Args: cobra.ExactArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.newClient()
            if err != nil {
                return err
            }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            addr := f.addr
            var resp transport.SetResponse
            for attempt := 0; attempt <= notLeaderRetries; attempt++ {
                resp, err = client.Set(ctx, addr, args[0], args[1])
                if err != nil {
                    return fmt.Errorf("kv set: %w", err)
                }
                hint := leaderHintAddr(resp.Hint)
                if resp.Error == "" || hint == "" {
                    break
                }
                addr = hint
            }
            if resp.Error != "" {
                return fmt.Errorf("kv set: %s", resp.Error)
            }
            return nil
        },
    }

    watchCmd := &cobra.Command{
        Use:  "watch <key>",
        Args: cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.newClient()
            if err != nil {
                return err
            }
            ctx, cancel := signalContext()
            defer cancel()
            return client.Watch(ctx, f.addr, args[0], func(ev transport.WatchEvent) {
                if ev.Deleted {
                    fmt.Printf("index=%d deleted\n", ev.Index)
                    return
                }
                fmt.Printf("index=%d value=%s\n", ev.Index, ev.Value)
            })
        },
    }

    parent.AddCommand(getCmd, setCmd, watchCmd)
    return parent
}

// notLeaderRetries bounds how many times a kv command redials the hinted
// leader after a NotLeader response, per spec.md §4.6's leader-forwarding
// retry policy.
const notLeaderRetries = 3

// leaderHintAddr extracts the leader address from a NotLeader hint, which
// pkg/raftnode encodes as "addr|id" (failure.NotLeader's convention).
func leaderHintAddr(hint string) string {
    if hint == "" {
        return ""
    }
    if i := strings.Index(hint, "|"); i >= 0 {
        return hint[:i]
    }
    return hint
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
