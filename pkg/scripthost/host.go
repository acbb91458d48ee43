// Package scripthost embeds goja (a pure-Go ECMAScript engine) behind the
// single-threaded cooperative runtime spec.md §4.5 describes: one pinned
// goroutine owns the goja.Runtime and an arena of host objects, generalizing
// the teacher's "one goroutine per independent loop" style
// (membershipEventsLoop, reconcileMembersLoop, electionWatchLoop in
// pkg/cluster/cluster.go) into a single serialized event loop instead of
// several concurrent ones, because spec.md I5 forbids concurrent host-object
// access. goja_nodejs's eventloop.EventLoop — goja's own companion package
// for bridging asynchronous Go work back into script-visible Promises — owns
// the actual pump; nothing outside loop.RunOnLoop ever touches the Runtime.
package scripthost

import (
    "context"
    "io"
    "log"
    "os"

    "github.com/dop251/goja"
    "github.com/dop251/goja_nodejs/eventloop"

    "github.com/jeffmoss/disco/pkg/failure"
)

// Deps bundles everything a Host binds into the script's global environment.
// All fields are optional; module code that never calls a binding whose
// dependency is nil works fine (e.g. the CLI's client.js never touches KV).
type Deps struct {
    Providers ProviderFactory
    Clusters  ClusterFactory
    KV        KVWatcher
    Asker     Asker
    Stdout    io.Writer
    Logger    *log.Logger
}

// Host is the Script Host: one goja.Runtime, pumped by one event loop, plus
// the arena of live host objects the bindings hand out handles into.
type Host struct {
    deps  Deps
    loop  *eventloop.EventLoop
    arena *arena
    ctx   context.Context
}

// New constructs a Host and registers its global bindings. Start must be
// called before any module is run.
func New(deps Deps) *Host {
    if deps.Stdout == nil {
        deps.Stdout = os.Stdout
    }
    h := &Host{
        deps:  deps,
        loop:  eventloop.NewEventLoop(),
        arena: newArena(),
        ctx:   context.Background(),
    }
    h.loop.Run(func(vm *goja.Runtime) {
        h.registerGlobals(vm)
    })
    return h
}

// Start launches the loop's pump goroutine. ctx becomes the ambient
// cancellation token every async host call inherits (spec.md §5); cancelling
// it aborts the Script Host task on the next host-call boundary.
func (h *Host) Start(ctx context.Context) {
    h.ctx = ctx
    h.loop.Start()
    go func() {
        <-ctx.Done()
        h.loop.Stop()
    }()
}

// Stop halts the event loop. Safe to call even if Start was never called.
func (h *Host) Stop() {
    h.loop.Stop()
}

type outcome struct {
    val any
    err error
}

// RunModule loads path, compiles it with goja, and calls entry (one of
// init/bootstrap/leader per spec.md §4.5) with the given arguments if the
// module exports it. It blocks until the entry point (and any awaited host
// calls it started) fully settles, which may be long after RunModule returns
// control to the loop for other work.
func (h *Host) RunModule(ctx context.Context, path string, entry string, args ...any) (any, error) {
    src, rerr := os.ReadFile(path)
    if rerr != nil {
        return nil, failure.Newf(failure.Usage, "read module %s: %w", path, rerr)
    }

    resultCh := make(chan outcome, 1)
    h.loop.RunOnLoop(func(vm *goja.Runtime) {
        prog, cerr := goja.Compile(path, string(src), false)
        if cerr != nil {
            resultCh <- outcome{err: failure.Newf(failure.Script, "compile %s: %w", path, cerr)}
            return
        }
        if _, rerr := vm.RunProgram(prog); rerr != nil {
            resultCh <- outcome{err: failure.Newf(failure.Script, "evaluate %s: %w", path, rerr)}
            return
        }
        fnVal := vm.Get(entry)
        fn, ok := goja.AssertFunction(fnVal)
        if !ok {
            // Entry not exported: not an error, the module just doesn't
            // implement this one (spec.md §6: "exports zero or more").
            resultCh <- outcome{}
            return
        }
        jsArgs := make([]goja.Value, len(args))
        for i, a := range args {
            jsArgs[i] = vm.ToValue(a)
        }
        ret, cerr := fn(goja.Undefined(), jsArgs...)
        if cerr != nil {
            resultCh <- outcome{err: failure.Newf(failure.Script, "%s(): %w", entry, cerr)}
            return
        }
        h.settle(vm, ret, resultCh)
    })

    select {
    case out := <-resultCh:
        return out.val, out.err
    case <-ctx.Done():
        return nil, ctx.Err()
    }
}

// settle registers reactions on v if it is a thenable (the common case,
// since every entry point is an async function), delivering its eventual
// result or rejection onto resultCh. A plain (non-Promise) return value is
// delivered immediately.
func (h *Host) settle(vm *goja.Runtime, v goja.Value, resultCh chan<- outcome) {
    obj, ok := v.(*goja.Object)
    if !ok {
        resultCh <- outcome{val: exportOrNil(v)}
        return
    }
    thenFn, ok := goja.AssertFunction(obj.Get("then"))
    if !ok {
        resultCh <- outcome{val: exportOrNil(v)}
        return
    }
    onFulfilled := vm.ToValue(func(call goja.FunctionCall) goja.Value {
        resultCh <- outcome{val: firstArgExport(call)}
        return goja.Undefined()
    })
    onRejected := vm.ToValue(func(call goja.FunctionCall) goja.Value {
        resultCh <- outcome{err: failure.Newf(failure.Script, "script rejected: %v", firstArgExport(call))}
        return goja.Undefined()
    })
    if _, err := thenFn(obj, onFulfilled, onRejected); err != nil {
        resultCh <- outcome{err: failure.Newf(failure.Script, "promise.then: %w", err)}
    }
}

func exportOrNil(v goja.Value) any {
    if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
        return nil
    }
    return v.Export()
}

func firstArgExport(call goja.FunctionCall) any {
    if len(call.Arguments) == 0 {
        return nil
    }
    return exportOrNil(call.Arguments[0])
}

// asyncCall bridges a blocking Go operation into a script-visible Promise:
// work runs on an ordinary goroutine (the "shared work-stealing pool" of
// spec.md §5), and its result is delivered back onto the event loop via
// RunOnLoop — the one path by which anything ever resolves a Promise on
// this Runtime, keeping the single-executor guarantee intact.
func (h *Host) asyncCall(vm *goja.Runtime, binding string, work func(ctx context.Context) (any, error)) goja.Value {
    promise, resolve, reject := vm.NewPromise()
    go func() {
        val, err := work(h.ctx)
        h.loop.RunOnLoop(func(vm *goja.Runtime) {
            recordBindingCall(binding, err)
            if err != nil {
                reject(scriptErrorValue(vm, err))
                return
            }
            resolve(vm.ToValue(val))
        })
    }()
    return vm.ToValue(promise)
}

// scriptErrorValue builds the {kind, message, retriable} rejection shape
// spec.md §4.5 specifies for host-call errors.
func scriptErrorValue(vm *goja.Runtime, err error) goja.Value {
    kind := failure.KindOf(err)
    retriable := kind == failure.Transient
    return vm.ToValue(map[string]any{
        "kind":      kind.String(),
        "message":   err.Error(),
        "retriable": retriable,
    })
}
