package scripthost

import (
    "bufio"
    "context"
    "fmt"
    "os"
    "strings"

    "github.com/dop251/goja"

    obsmetrics "github.com/jeffmoss/disco/pkg/observability/metrics"
)

// recordBindingCall tracks every host-binding invocation's outcome, feeding
// disco_scripthost_calls_total (pkg/observability/metrics).
func recordBindingCall(binding string, err error) {
    result := "ok"
    if err != nil {
        result = "error"
    }
    obsmetrics.ScriptHostCalls.WithLabelValues(binding, result).Inc()
}

// registerGlobals installs the host bindings named in spec.md §4.5's table
// onto vm. Called once from New, inside the event loop's own goroutine via
// loop.Run so no other goroutine ever races the Runtime during setup.
func (h *Host) registerGlobals(vm *goja.Runtime) {
    h.registerConsole(vm)
    h.registerAsk(vm)
    h.registerAwsProvider(vm)
    h.registerClusterConstructor(vm)
    h.registerDisco(vm)
}

func (h *Host) registerConsole(vm *goja.Runtime) {
    console := vm.NewObject()
    _ = console.Set("log", func(call goja.FunctionCall) goja.Value {
        parts := make([]string, len(call.Arguments))
        for i, a := range call.Arguments {
            parts[i] = fmt.Sprintf("%v", a.Export())
        }
        fmt.Fprintln(h.deps.Stdout, strings.Join(parts, " "))
        return goja.Undefined()
    })
    _ = vm.Set("console", console)
}

func (h *Host) registerAsk(vm *goja.Runtime) {
    _ = vm.Set("ask", func(call goja.FunctionCall) goja.Value {
        prompt := ""
        if len(call.Arguments) > 0 {
            prompt = call.Arguments[0].String()
        }
        return h.asyncCall(vm, "ask", func(ctx context.Context) (any, error) {
            if h.deps.Asker != nil {
                return h.deps.Asker.Ask(ctx, prompt)
            }
            return defaultAsk(prompt)
        })
    })
}

// defaultAsk reads a yes/no line from stdin, for interactive `disco
// bootstrap` runs with no injected Asker.
func defaultAsk(prompt string) (bool, error) {
    fmt.Print(prompt, " [y/N] ")
    reader := bufio.NewReader(os.Stdin)
    line, err := reader.ReadString('\n')
    if err != nil {
        return false, err
    }
    line = strings.TrimSpace(strings.ToLower(line))
    return line == "y" || line == "yes", nil
}

func (h *Host) registerAwsProvider(vm *goja.Runtime) {
    awsProvider := vm.NewObject()
    _ = awsProvider.Set("init", func(call goja.FunctionCall) goja.Value {
        cfg := call.Argument(0).ToObject(vm)
        name := stringField(cfg, "name")
        region := stringField(cfg, "region")
        profile := stringField(cfg, "profile")
        return h.asyncCall(vm, "AwsProvider.init", func(ctx context.Context) (any, error) {
            if h.deps.Providers == nil {
                return nil, fmt.Errorf("scripthost: no ProviderFactory configured")
            }
            p, err := h.deps.Providers.InitProvider(ctx, name, region, profile)
            if err != nil {
                return nil, err
            }
            return h.wrapProvider(vm, p), nil
        })
    })
    _ = vm.Set("AwsProvider", awsProvider)
}

// wrapProvider arenas p and returns a script-visible object exposing the
// `provider.role`/`provider.storage` bindings, each closing over the handle
// rather than the Go value directly (spec.md §9's callable-record scheme).
func (h *Host) wrapProvider(vm *goja.Runtime, p Provider) *goja.Object {
    handle := h.arena.put(p)
    obj := vm.NewObject()
    _ = obj.Set("__handle", uint64(handle))
    _ = obj.Set("role", func(call goja.FunctionCall) goja.Value {
        cfg := call.Argument(0).ToObject(vm)
        name := stringField(cfg, "name")
        return h.asyncCall(vm, "provider.role", func(ctx context.Context) (any, error) {
            return p.Role(ctx, name)
        })
    })
    _ = obj.Set("storage", func(call goja.FunctionCall) goja.Value {
        cfg := call.Argument(0).ToObject(vm)
        bucket := stringField(cfg, "bucket")
        role := stringField(cfg, "role")
        return h.asyncCall(vm, "provider.storage", func(ctx context.Context) (any, error) {
            return p.Storage(ctx, bucket, role)
        })
    })
    return obj
}

func (h *Host) registerClusterConstructor(vm *goja.Runtime) {
    ctor := func(call goja.ConstructorCall) *goja.Object {
        cfg := call.Argument(0).ToObject(vm)
        name := stringField(cfg, "name")
        providerHandle, _ := cfg.Get("provider").(*goja.Object)
        var provider Provider
        if providerHandle != nil {
            if id, ok := providerHandle.Get("__handle").Export().(int64); ok {
                if obj, found := h.arena.get(HandleID(id)); found {
                    provider, _ = obj.(Provider)
                }
            }
        }
        clusterCfg := ClusterConfig{
            Name:     name,
            Provider: provider,
            Role:     stringField(cfg, "role"),
            Storage:  stringField(cfg, "storage"),
        }
        // Construction does no I/O (spec.md §4.5); build synchronously.
        var cl Cluster
        if h.deps.Clusters != nil {
            var err error
            cl, err = h.deps.Clusters.NewCluster(h.ctx, clusterCfg)
            recordBindingCall("new Cluster", err)
            if err != nil {
                panic(vm.ToValue(err.Error()))
            }
        }
        return h.wrapCluster(vm, call.This, cl)
    }
    _ = vm.Set("Cluster", ctor)
}

// wrapCluster installs the `cluster.*` async bindings (healthy, set_key_pair,
// start_instance, attach_ip, ssh_install, scale) onto obj, each fulfilled by
// pkg/orchestrator through the injected Cluster implementation.
func (h *Host) wrapCluster(vm *goja.Runtime, obj *goja.Object, cl Cluster) *goja.Object {
    handle := h.arena.put(cl)
    _ = obj.Set("__handle", uint64(handle))

    _ = obj.Set("healthy", func(call goja.FunctionCall) goja.Value {
        return h.asyncCall(vm, "cluster.healthy", func(ctx context.Context) (any, error) {
            return cl.Healthy(ctx)
        })
    })
    _ = obj.Set("set_key_pair", func(call goja.FunctionCall) goja.Value {
        cfg := call.Argument(0).ToObject(vm)
        private := stringField(cfg, "private")
        public := stringField(cfg, "public")
        return h.asyncCall(vm, "cluster.set_key_pair", func(ctx context.Context) (any, error) {
            return nil, cl.SetKeyPair(ctx, private, public)
        })
    })
    _ = obj.Set("start_instance", func(call goja.FunctionCall) goja.Value {
        cfg := call.Argument(0).ToObject(vm)
        image := stringField(cfg, "image")
        instanceType := stringField(cfg, "instance_type")
        return h.asyncCall(vm, "cluster.start_instance", func(ctx context.Context) (any, error) {
            return nil, cl.StartInstance(ctx, image, instanceType)
        })
    })
    _ = obj.Set("attach_ip", func(call goja.FunctionCall) goja.Value {
        return h.asyncCall(vm, "cluster.attach_ip", func(ctx context.Context) (any, error) {
            return nil, cl.AttachIP(ctx)
        })
    })
    _ = obj.Set("ssh_install", func(call goja.FunctionCall) goja.Value {
        return h.asyncCall(vm, "cluster.ssh_install", func(ctx context.Context) (any, error) {
            return nil, cl.SSHInstall(ctx)
        })
    })
    _ = obj.Set("scale", func(call goja.FunctionCall) goja.Value {
        n := int(call.Argument(0).ToInteger())
        return h.asyncCall(vm, "cluster.scale", func(ctx context.Context) (any, error) {
            return nil, cl.Scale(ctx, n)
        })
    })
    return obj
}

// registerDisco installs `disco.key(k).on("change", fn)`: fn is posted back
// onto the event loop (via RunOnLoop) for every KV change in commit order,
// matching spec.md §5's ordering guarantee for script-host host-callback
// notifications.
func (h *Host) registerDisco(vm *goja.Runtime) {
    disco := vm.NewObject()
    _ = disco.Set("key", func(call goja.FunctionCall) goja.Value {
        key := call.Argument(0).String()
        keyObj := vm.NewObject()
        _ = keyObj.Set("on", func(call goja.FunctionCall) goja.Value {
            event := call.Argument(0).String()
            cb, ok := goja.AssertFunction(call.Argument(1))
            if !ok || event != "change" || h.deps.KV == nil {
                return goja.Undefined()
            }
            stop := make(chan struct{})
            ch := h.deps.KV.Watch(key, stop)
            go func() {
                for change := range ch {
                    c := change
                    h.loop.RunOnLoop(func(vm *goja.Runtime) {
                        _, _ = cb(goja.Undefined(), vm.ToValue(map[string]any{
                            "key":     c.Key,
                            "value":   c.Value,
                            "deleted": c.Deleted,
                            "index":   c.Index,
                        }))
                    })
                }
            }()
            return goja.Undefined()
        })
        return keyObj
    })
    _ = vm.Set("disco", disco)
}

func stringField(obj *goja.Object, name string) string {
    if obj == nil {
        return ""
    }
    v := obj.Get(name)
    if v == nil || goja.IsUndefined(v) {
        return ""
    }
    return v.String()
}
