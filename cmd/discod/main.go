// Command discod is Disco's node daemon: one Consensus Engine participant
// plus its mTLS Transport and (optionally) a cluster.js Script Host,
// generalizing the teacher's cmd/clusterctl "run" flow into discod's fixed,
// non-cobra flag surface (spec.md §6/SPEC_FULL §7).
package main

import (
    "context"
    "flag"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"

    "github.com/jeffmoss/disco/pkg/bootstrap"
    "github.com/jeffmoss/disco/pkg/config"
    "github.com/jeffmoss/disco/pkg/failure"
    "github.com/jeffmoss/disco/internal/logutil"
)

func main() {
    os.Exit(run())
}

func run() int {
    var (
        id         = flag.String("id", "", "node id (required)")
        addr       = flag.String("addr", "", "ManagementService/AppService bind address (required)")
        caCert     = flag.String("ca-cert", "", "path to CA cert (PEM)")
        serverCert = flag.String("server-cert", "", "path to server certificate (PEM)")
        serverKey  = flag.String("server-key", "", "path to server private key (PEM)")
        clientCert = flag.String("client-cert", "", "path to client certificate (PEM, used dialing peers)")
        clientKey  = flag.String("client-key", "", "path to client private key (PEM)")
        dataDir    = flag.String("data-dir", "", "raft data directory (required)")
        logFormat  = flag.String("log", "text", "log format: text|json")
        module     = flag.String("module", "cluster.js", "path to the cluster.js automation module")
    )
    flag.Parse()

    logutil.SetJSON(*logFormat == "json")
    logger := log.Default()

    cfg, err := config.Load("")
    if err != nil {
        logutil.Errorf(logger, "config: %v", err)
        return failure.KindOf(err).ExitCode()
    }

    daemonCfg := bootstrap.Config{
        NodeID:     cfg.String("DISCO_ID", *id),
        Addr:       cfg.String("DISCO_ADDR", *addr),
        CACert:     cfg.String("DISCO_CA_CERT", *caCert),
        ServerCert: cfg.String("DISCO_SERVER_CERT", *serverCert),
        ServerKey:  cfg.String("DISCO_SERVER_KEY", *serverKey),
        ClientCert: cfg.String("DISCO_CLIENT_CERT", *clientCert),
        ClientKey:  cfg.String("DISCO_CLIENT_KEY", *clientKey),
        DataDir:    cfg.String("DISCO_DATA_DIR", *dataDir),
        ModulePath: *module,
        Logger:     logger,
    }

    if daemonCfg.NodeID == "" || daemonCfg.Addr == "" || daemonCfg.DataDir == "" {
        fmt.Fprintln(os.Stderr, "discod: --id, --addr, and --data-dir are required")
        return failure.Usage.ExitCode()
    }

    ctx, cancel := signalContext()
    defer cancel()

    d, err := bootstrap.Run(ctx, daemonCfg)
    if err != nil {
        logutil.Errorf(logger, "bootstrap: %v", err)
        return failure.KindOf(err).ExitCode()
    }
    defer d.Close()

    <-ctx.Done()
    return 0
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
