package orchestrator

import (
    "context"
    "fmt"

    "github.com/jeffmoss/disco/pkg/orchestrator/sshprovision"
    "github.com/jeffmoss/disco/pkg/scripthost"
)

// Factory implements pkg/scripthost.ClusterFactory, merging the
// script-provided `new Cluster({name, provider, role, storage})` arguments
// with the fixed bootstrap-time configuration (management client, installer,
// image id) that spec.md's binding table never threads through script code.
type Factory struct {
    Management      Management
    InstallerFn     func() *sshprovision.Installer
    ImageID         string
    InstanceType    string
    RemoteDirectory string
    KeyPath         string
    KeyName         string
    Concurrency     int
}

func (f Factory) NewCluster(ctx context.Context, cfg scripthost.ClusterConfig) (scripthost.Cluster, error) {
    provider, ok := cfg.Provider.(Provider)
    if !ok {
        return nil, fmt.Errorf("orchestrator: provider %T does not support host creation", cfg.Provider)
    }
    return New(Config{
        Name:            cfg.Name,
        Provider:        provider,
        Management:      f.Management,
        Installer:       f.InstallerFn,
        ImageID:         f.ImageID,
        InstanceType:    f.InstanceType,
        RemoteDirectory: f.RemoteDirectory,
        KeyPath:         f.KeyPath,
        KeyName:         f.KeyName,
        Concurrency:     f.Concurrency,
    })
}
