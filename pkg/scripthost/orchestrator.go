package scripthost

import (
    "context"

    "github.com/jeffmoss/disco/pkg/kvstore"
)

// ProviderFactory constructs a cloud Provider binding (the "AwsProvider.init"
// host call). pkg/orchestrator/awsprovider implements this.
type ProviderFactory interface {
    InitProvider(ctx context.Context, name, region, profile string) (Provider, error)
}

// Provider is the script-visible handle returned by AwsProvider.init. Its two
// async methods are the `provider.role`/`provider.storage` bindings (spec.md
// §4.5); both return opaque handle names the script can pass back into
// NewCluster's {role, storage} fields.
type Provider interface {
    Role(ctx context.Context, name string) (string, error)
    Storage(ctx context.Context, bucket, role string) (string, error)
}

// ClusterConfig is the argument object of `new Cluster({name, provider, role,
// storage})`.
type ClusterConfig struct {
    Name     string
    Provider Provider
    Role     string
    Storage  string
}

// ClusterFactory builds the Orchestrator-backed Cluster binding. Constructing
// a Cluster does no I/O (spec.md §4.5); all work happens in the returned
// Cluster's methods.
type ClusterFactory interface {
    NewCluster(ctx context.Context, cfg ClusterConfig) (Cluster, error)
}

// Cluster is the script-visible `cluster` object. Every method here is one
// row of spec.md §4.5's binding table and is fulfilled by pkg/orchestrator
// (bootstrap/scale sequencing, AWS provider calls, SSH install).
type Cluster interface {
    Healthy(ctx context.Context) (bool, error)
    SetKeyPair(ctx context.Context, private, public string) error
    StartInstance(ctx context.Context, image, instanceType string) error
    AttachIP(ctx context.Context) error
    SSHInstall(ctx context.Context) error
    Scale(ctx context.Context, n int) error
}

// KVWatcher backs `disco.key(k).on("change", fn)`. pkg/kvstore.Store
// satisfies this directly (its Watch signature already matches).
type KVWatcher interface {
    Watch(key string, stop <-chan struct{}) <-chan KVChange
}

// KVChange is an alias of kvstore.ValueChange so any KVWatcher
// implementation (such as the real Store) can hand events straight through
// without a conversion shim.
type KVChange = kvstore.ValueChange

// Asker backs the `ask(prompt)` binding (interactive yes/no from stdin).
// Abstracted so tests can inject a scripted answer source instead of a real
// terminal.
type Asker interface {
    Ask(ctx context.Context, prompt string) (bool, error)
}
