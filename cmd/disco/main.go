// Command disco is the client-side control tool: bootstrap/status/scale/kv
// subcommands talking to a running discod cluster, generalizing the
// teacher's clusterctl entrypoint from a single AddAll(root) wrapper into
// Disco's own command surface (spec.md §6/SPEC_FULL §7).
package main

import (
    "log"

    "github.com/spf13/cobra"

    discocli "github.com/jeffmoss/disco/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "disco",
        Short:         "Disco cluster control CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    discocli.AddAll(root)
    return root
}
